package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// expiryBuffer is subtracted from the recorded expiry so tokens are
// refreshed before they actually lapse mid-request.
const expiryBuffer = 5 * time.Minute

// TokenSet is the normalized result of a code exchange or refresh.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Client talks to the provider's authorization and token endpoints.
// The client ID is public; PKCE replaces a client secret.
type Client struct {
	ClientID   string
	AuthURL    string
	TokenURL   string
	Scopes     []string
	HTTPClient *http.Client
}

// NewClient creates a token-endpoint client.
func NewClient(clientID, authURL, tokenURL string, scopes []string) *Client {
	return &Client{
		ClientID:   clientID,
		AuthURL:    authURL,
		TokenURL:   tokenURL,
		Scopes:     scopes,
		HTTPClient: http.DefaultClient,
	}
}

// AuthCodeURL builds the browser-facing authorization URL with the PKCE
// challenge and CSRF state attached.
func (c *Client) AuthCodeURL(state, redirectURI string, pkce *PKCEChallenge) string {
	conf := &oauth2.Config{
		ClientID:    c.ClientID,
		RedirectURL: redirectURI,
		Scopes:      c.Scopes,
		Endpoint:    oauth2.Endpoint{AuthURL: c.AuthURL},
	}
	return conf.AuthCodeURL(state,
		// The provider echoes the code on the redirect page when set.
		oauth2.SetAuthURLParam("code", "true"),
		oauth2.SetAuthURLParam("code_challenge", pkce.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.CodeChallengeMethod),
	)
}

// tokenResponse is the JSON body returned by the token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ExchangeCode exchanges an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenSet, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("client_id", c.ClientID)
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)
	data.Set("code_verifier", codeVerifier)

	status, body, err := c.post(ctx, data)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &ExchangeError{StatusCode: status, Body: string(body)}
	}

	tokens, err := parseTokenResponse(body)
	if err != nil {
		return nil, &ExchangeError{StatusCode: status, Body: err.Error()}
	}
	return tokens, nil
}

// Refresh exchanges a refresh token for a new token set. Some providers
// rotate refresh tokens only sometimes; when the response omits one, the
// input refresh token is carried over.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("client_id", c.ClientID)
	data.Set("refresh_token", refreshToken)

	status, body, err := c.post(ctx, data)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &RefreshError{StatusCode: status, Body: string(body)}
	}

	tokens, err := parseTokenResponse(body)
	if err != nil {
		return nil, &RefreshError{StatusCode: status, Body: err.Error()}
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	return tokens, nil
}

func (c *Client) post(ctx context.Context, data url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func parseTokenResponse(body []byte) (*TokenSet, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	tokens := &TokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	}
	if tr.ExpiresIn > 0 {
		tokens.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tokens, nil
}

// IsExpired reports whether a token with the given expiry needs refreshing.
// A zero expiry means the token never expires and is never refreshed.
func IsExpired(expiresAt time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return !time.Now().Add(expiryBuffer).Before(expiresAt)
}
