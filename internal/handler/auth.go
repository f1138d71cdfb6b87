package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/SameeranB/ii-client/internal/authflow"
	"github.com/SameeranB/ii-client/internal/model"
	"github.com/SameeranB/ii-client/internal/oauth"
	"github.com/SameeranB/ii-client/internal/resolver"
	"github.com/SameeranB/ii-client/internal/service"
)

// statusResponse is the auth status payload.
type statusResponse struct {
	Connected   bool       `json:"connected"`
	InProgress  bool       `json:"in_progress"`
	Provider    string     `json:"provider,omitempty"`
	AuthType    string     `json:"auth_type,omitempty"`
	Storage     string     `json:"storage,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// AuthStatus reports whether a provider identity is connected. When the
// stored access token is at or near expiry and a refresh token exists,
// the token is refreshed in place before answering.
func (h *Handler) AuthStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inProgress := h.controller.InProgress()

	payload, info, err := h.credentialService.Retrieve(ctx)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCredentialNotFound):
			h.JSON(w, http.StatusOK, statusResponse{Connected: false, InProgress: inProgress})
		case errors.Is(err, service.ErrDecryptionFailed):
			// Unreadable is "not connected", never a crash. Detail
			// stays in the log.
			h.JSON(w, http.StatusOK, statusResponse{
				Connected:  false,
				InProgress: inProgress,
				Reason:     "stored credentials unreadable",
			})
		default:
			h.Error(w, http.StatusInternalServerError, "failed to read credentials")
		}
		return
	}

	if oauth.IsExpired(payload.ExpiresAt) {
		if payload.RefreshToken == "" {
			h.JSON(w, http.StatusOK, statusResponse{
				Connected:  false,
				InProgress: inProgress,
				Reason:     "session expired, sign in again",
			})
			return
		}

		tokens, err := h.oauthClient.Refresh(ctx, payload.RefreshToken)
		if err != nil {
			h.logger.Warn("token refresh failed", zap.Error(err))
			h.JSON(w, http.StatusOK, statusResponse{
				Connected:  false,
				InProgress: inProgress,
				Reason:     "session expired, sign in again",
			})
			return
		}

		payload.AccessToken = tokens.AccessToken
		payload.RefreshToken = tokens.RefreshToken
		payload.ExpiresAt = tokens.ExpiresAt
		if info, err = h.credentialService.Persist(ctx, info.AuthType, payload); err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to store refreshed credentials")
			return
		}
		h.logger.Info("access token refreshed")
	}

	resp := statusResponse{
		Connected:  true,
		InProgress: inProgress,
		Provider:   info.Provider,
		AuthType:   info.AuthType,
		Storage:    info.Storage,
	}
	if !info.ConnectedAt.IsZero() {
		t := info.ConnectedAt
		resp.ConnectedAt = &t
	}
	if !payload.ExpiresAt.IsZero() {
		t := payload.ExpiresAt
		resp.ExpiresAt = &t
	}
	h.JSON(w, http.StatusOK, resp)
}

type loginRequest struct {
	TimeoutMs int `json:"timeout_ms,omitempty"`
}

type loginResponse struct {
	Connected bool   `json:"connected"`
	Source    string `json:"source,omitempty"`
	FlowID    string `json:"flow_id,omitempty"`
	AuthURL   string `json:"auth_url,omitempty"`
	Port      int    `json:"port,omitempty"`
}

// AuthLogin connects an identity. Credentials already present on the
// machine (CLI keychain entry or credentials file) short-circuit the
// flow; otherwise an interactive browser flow starts. Starting while a
// flow is running supersedes it.
func (h *Handler) AuthLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := h.DecodeJSON(r, &req); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	adopted, err := h.adoptResolved(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store credentials")
		return
	}
	if adopted {
		h.JSON(w, http.StatusOK, loginResponse{Connected: true, Source: "system"})
		return
	}

	flow, err := h.controller.Start(time.Duration(req.TimeoutMs) * time.Millisecond)
	if err != nil {
		switch {
		case errors.Is(err, authflow.ErrNoPortAvailable):
			h.Error(w, http.StatusServiceUnavailable, "could not start local server")
		case errors.Is(err, authflow.ErrBrowserLaunch):
			h.Error(w, http.StatusInternalServerError, "could not open browser")
		default:
			h.Error(w, http.StatusInternalServerError, "could not start authorization flow")
		}
		return
	}

	h.JSON(w, http.StatusAccepted, loginResponse{
		FlowID:  flow.ID,
		AuthURL: flow.AuthURL,
		Port:    flow.Port,
	})
}

// AuthCancel aborts any in-flight flow. Idempotent.
func (h *Handler) AuthCancel(w http.ResponseWriter, r *http.Request) {
	h.controller.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

// AuthLogout cancels any flow and deletes the stored identity.
func (h *Handler) AuthLogout(w http.ResponseWriter, r *http.Request) {
	h.controller.Cancel()
	if err := h.credentialService.Clear(r.Context()); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to clear credentials")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AuthImport mints a long-lived token via the assistant CLI and stores
// it as the identity.
func (h *Handler) AuthImport(w http.ResponseWriter, r *http.Request) {
	token, err := h.importer.Run(r.Context())
	if err != nil {
		h.logger.Warn("CLI token import failed", zap.Error(err))
		h.Error(w, http.StatusBadGateway, "token import failed")
		return
	}

	info, err := h.credentialService.Persist(r.Context(), model.AuthTypeOAuth, &service.TokenPayload{
		AccessToken: token,
	})
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store credentials")
		return
	}
	h.JSON(w, http.StatusOK, info)
}

// AuthEvents streams flow state transitions over a websocket.
func (h *Handler) AuthEvents(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeWS(w, r)
}

// adoptResolved checks the machine for existing CLI credentials and
// persists them when found. Resolution is best-effort; only the
// persistence write can fail.
func (h *Handler) adoptResolved(ctx context.Context) (bool, error) {
	creds, err := h.resolver.Resolve()
	if err != nil {
		if !errors.Is(err, resolver.ErrNotFound) {
			h.logger.Debug("credential resolution failed", zap.Error(err))
		}
		return false, nil
	}

	payload := &service.TokenPayload{
		AccessToken:      creds.AccessToken,
		RefreshToken:     creds.RefreshToken,
		ExpiresAt:        creds.ExpiresAt,
		Scopes:           creds.Scopes,
		SubscriptionType: creds.SubscriptionType,
	}
	if _, err := h.credentialService.Persist(ctx, model.AuthTypeOAuth, payload); err != nil {
		return false, err
	}
	h.logger.Info("adopted existing system credentials")
	return true, nil
}

// AdoptSystemCredentials re-resolves machine credentials after the
// credentials file changed. Driven by the file watcher.
func (h *Handler) AdoptSystemCredentials(ctx context.Context) {
	if _, err := h.adoptResolved(ctx); err != nil {
		h.logger.Warn("failed to adopt system credentials", zap.Error(err))
	}
}
