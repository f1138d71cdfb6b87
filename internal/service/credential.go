// Package service implements business logic between handlers and the store.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/SameeranB/ii-client/internal/crypto"
	"github.com/SameeranB/ii-client/internal/model"
	"github.com/SameeranB/ii-client/internal/store"
)

// ProviderAnthropic is the only provider the client currently connects to.
const ProviderAnthropic = "anthropic"

// hkdfSalt binds derived keys to this application.
var hkdfSalt = []byte("ii-client-credentials")

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrEncryptionFailed   = errors.New("encryption failed")
	ErrDecryptionFailed   = errors.New("decryption failed")
)

// TokenPayload is the sensitive part of a credential. It is stored
// encrypted and never appears in API responses.
type TokenPayload struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	ExpiresAt        time.Time `json:"expires_at,omitempty"`
	Scopes           []string  `json:"scopes,omitempty"`
	SubscriptionType string    `json:"subscription_type,omitempty"`
}

// CredentialInfo is the safe credential metadata for API responses.
type CredentialInfo struct {
	Provider    string    `json:"provider"`
	AuthType    string    `json:"auth_type"`
	Storage     string    `json:"storage"`
	ConnectedAt time.Time `json:"connected_at"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// CredentialService persists the single provider identity, encrypting
// token payloads at rest.
type CredentialService struct {
	store   *store.Store
	active  crypto.Cipher
	ciphers map[string]crypto.Cipher
	logger  *zap.Logger
}

// NewCredentialService creates the service. When secret is empty the
// payload is stored with a reversible encoding instead of encryption;
// this is logged loudly and surfaced in credential info.
func NewCredentialService(s *store.Store, secret []byte, logger *zap.Logger) (*CredentialService, error) {
	ciphers := map[string]crypto.Cipher{
		crypto.SchemePlain: crypto.PlainCipher{},
	}

	var active crypto.Cipher
	if len(secret) > 0 {
		enc, err := crypto.NewEncryptorFromSecret(secret, hkdfSalt)
		if err != nil {
			return nil, err
		}
		ciphers[crypto.SchemeAESGCM] = enc
		active = enc
	} else {
		logger.Warn("no encryption secret configured, storing credentials with reversible encoding only")
		active = crypto.PlainCipher{}
	}

	return &CredentialService{
		store:   s,
		active:  active,
		ciphers: ciphers,
		logger:  logger,
	}, nil
}

// Persist installs tokens in the primary slot, replacing any existing
// identity.
func (s *CredentialService) Persist(ctx context.Context, authType string, payload *TokenPayload) (*CredentialInfo, error) {
	encrypted, err := crypto.EncryptJSON(s.active, payload)
	if err != nil {
		return nil, ErrEncryptionFailed
	}

	cred := &model.Credential{
		Provider:      ProviderAnthropic,
		AuthType:      authType,
		Encryption:    s.active.Scheme(),
		EncryptedData: encrypted,
		ConnectedAt:   time.Now(),
	}
	if err := s.store.ReplaceCredential(ctx, cred); err != nil {
		return nil, err
	}

	info := s.toInfo(cred, payload)
	return &info, nil
}

// Retrieve returns the stored tokens plus safe metadata.
func (s *CredentialService) Retrieve(ctx context.Context) (*TokenPayload, *CredentialInfo, error) {
	cred, err := s.store.GetCredential(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrCredentialNotFound
		}
		return nil, nil, err
	}

	c, ok := s.ciphers[cred.Encryption]
	if !ok {
		// Stored under a scheme we can no longer read, e.g. encrypted
		// with a secret that is no longer configured.
		s.logger.Warn("credential stored under unavailable scheme", zap.String("scheme", cred.Encryption))
		return nil, nil, ErrDecryptionFailed
	}

	var payload TokenPayload
	if err := crypto.DecryptJSON(c, cred.EncryptedData, &payload); err != nil {
		return nil, nil, ErrDecryptionFailed
	}

	info := s.toInfo(cred, &payload)
	return &payload, &info, nil
}

// Info returns safe metadata without decrypting the payload.
func (s *CredentialService) Info(ctx context.Context) (*CredentialInfo, error) {
	cred, err := s.store.GetCredential(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	info := s.toInfo(cred, nil)
	return &info, nil
}

// Clear removes the stored identity. Clearing an empty slot succeeds.
func (s *CredentialService) Clear(ctx context.Context) error {
	return s.store.DeleteCredential(ctx)
}

func (s *CredentialService) toInfo(cred *model.Credential, payload *TokenPayload) CredentialInfo {
	info := CredentialInfo{
		Provider:    cred.Provider,
		AuthType:    cred.AuthType,
		Storage:     cred.Encryption,
		ConnectedAt: cred.ConnectedAt,
	}
	if payload != nil {
		info.ExpiresAt = payload.ExpiresAt
	}
	return info
}
