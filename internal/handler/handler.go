// Package handler contains the HTTP handlers for the backend API.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/SameeranB/ii-client/internal/authflow"
	"github.com/SameeranB/ii-client/internal/config"
	"github.com/SameeranB/ii-client/internal/oauth"
	"github.com/SameeranB/ii-client/internal/resolver"
	"github.com/SameeranB/ii-client/internal/service"
	"github.com/SameeranB/ii-client/internal/store"
)

// credentialResolver finds pre-existing credentials on the machine.
type credentialResolver interface {
	Resolve() (*resolver.Credentials, error)
}

// tokenImporter mints a long-lived token via the assistant CLI.
type tokenImporter interface {
	Run(ctx context.Context) (string, error)
}

// Handler contains all HTTP handlers.
type Handler struct {
	cfg               *config.Config
	logger            *zap.Logger
	credentialService *service.CredentialService
	oauthClient       *oauth.Client
	controller        *authflow.Controller
	resolver          credentialResolver
	importer          tokenImporter
	hub               *EventHub
}

// New creates a Handler and the services it fronts.
func New(cfg *config.Config, s *store.Store, logger *zap.Logger) (*Handler, error) {
	credSvc, err := service.NewCredentialService(s, []byte(cfg.EncryptionSecret), logger)
	if err != nil {
		return nil, err
	}

	oauthClient := oauth.NewClient(cfg.OAuthClientID, cfg.OAuthAuthURL, cfg.OAuthTokenURL, cfg.OAuthScopes)

	hub := NewEventHub(logger)
	controller := authflow.New(oauthClient, credSvc, authflow.Options{
		PortMin: cfg.CallbackPortMin,
		PortMax: cfg.CallbackPortMax,
		Timeout: cfg.FlowTimeout,
	}, logger, hub.Broadcast)

	return &Handler{
		cfg:               cfg,
		logger:            logger,
		credentialService: credSvc,
		oauthClient:       oauthClient,
		controller:        controller,
		resolver:          resolver.New(cfg.CredentialsFile, logger),
		importer:          service.NewImportService(cfg.CLIPath, logger),
		hub:               hub,
	}, nil
}

// Routes mounts the auth API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Get("/status", h.AuthStatus)
		r.Post("/login", h.AuthLogin)
		r.Post("/cancel", h.AuthCancel)
		r.Post("/logout", h.AuthLogout)
		r.Post("/import", h.AuthImport)
		r.Get("/events", h.AuthEvents)
	})
}

// Close cleans up handler resources.
func (h *Handler) Close() {
	h.controller.Cancel()
	h.hub.Close()
}

// JSON helper to write JSON responses
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error helper to write error responses
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// DecodeJSON helper to decode request body
func (h *Handler) DecodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
