// Package resolver finds provider credentials that already exist on the
// machine, written there by the assistant CLI. It checks the OS secret
// store first and falls back to the CLI's credentials file.
package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// keychainService is the service name the assistant CLI (via keytar)
// registers its credentials under.
const keychainService = "Claude Code-credentials"

// ErrNotFound indicates no credentials exist in any known location.
var ErrNotFound = errors.New("no credentials found on this machine")

// Credentials is a resolved set of provider tokens.
type Credentials struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	Scopes           []string
	SubscriptionType string
}

// credentialsFile is the JSON shape the CLI writes, both to the secret
// store entry and to the fallback file.
type credentialsFile struct {
	ClaudeAiOauth struct {
		AccessToken      string   `json:"accessToken"`
		RefreshToken     string   `json:"refreshToken"`
		ExpiresAt        int64    `json:"expiresAt"` // unix milliseconds
		Scopes           []string `json:"scopes"`
		SubscriptionType string   `json:"subscriptionType"`
	} `json:"claudeAiOauth"`
}

// Resolver locates pre-existing CLI credentials.
type Resolver struct {
	filePath string
	logger   *zap.Logger
}

// New creates a Resolver. filePath is the fallback credentials file,
// typically ~/.claude/.credentials.json.
func New(filePath string, logger *zap.Logger) *Resolver {
	return &Resolver{filePath: filePath, logger: logger}
}

// Resolve checks the platform secret store first, then the fallback
// file. Returns ErrNotFound when neither holds usable tokens.
func (r *Resolver) Resolve() (*Credentials, error) {
	raw, err := lookupSecretStore()
	if err == nil {
		creds, perr := parseCredentials(raw)
		if perr == nil {
			return creds, nil
		}
		r.logger.Warn("secret store entry unreadable, trying credentials file", zap.Error(perr))
	} else {
		r.logger.Debug("secret store lookup failed, trying credentials file", zap.Error(err))
	}

	return r.resolveFile()
}

// resolveFile reads the fallback credentials file.
func (r *Resolver) resolveFile() (*Credentials, error) {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	return parseCredentials(string(data))
}

// parseCredentials decodes the CLI's JSON blob into Credentials.
func parseCredentials(raw string) (*Credentials, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNotFound
	}

	var cf credentialsFile
	if err := json.Unmarshal([]byte(raw), &cf); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if cf.ClaudeAiOauth.AccessToken == "" {
		return nil, ErrNotFound
	}

	creds := &Credentials{
		AccessToken:      cf.ClaudeAiOauth.AccessToken,
		RefreshToken:     cf.ClaudeAiOauth.RefreshToken,
		Scopes:           cf.ClaudeAiOauth.Scopes,
		SubscriptionType: cf.ClaudeAiOauth.SubscriptionType,
	}
	if cf.ClaudeAiOauth.ExpiresAt > 0 {
		creds.ExpiresAt = time.UnixMilli(cf.ClaudeAiOauth.ExpiresAt)
	}
	return creds, nil
}
