// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes password reset and password change over HTTP.
//
// The reset endpoints are public. POST /accounts/{id}/password is not: it
// checks neither the caller's identity nor the current password, and sets
// the password of whatever account the path names. It must only be
// reachable through an authenticating gateway that authorizes the caller
// for that account and sets ActorHeader when acting on another's behalf.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	"github.com/holomush/credkeeper/internal/auth"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 16 << 10

// ActorHeader carries the ID of the account performing a change on behalf of
// another. It is trusted as-is; the API is meant to sit behind an
// authenticating gateway that sets it.
const ActorHeader = "X-Actor-ID"

// ResetService is the reset flow the API drives.
type ResetService interface {
	RequestReset(ctx context.Context, email string, req auth.RequestContext) (string, error)
	ValidateToken(ctx context.Context, plaintext string) (*auth.ResetToken, error)
	Confirm(ctx context.Context, plaintext string, newPassword auth.PlainPassword, req auth.RequestContext) (string, error)
}

// ChangeService applies direct password changes.
type ChangeService interface {
	ChangePassword(ctx context.Context, req auth.ChangeRequest) error
}

// Handler serves the credential endpoints.
type Handler struct {
	resets   ResetService
	changes  ChangeService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a Handler. A nil logger uses slog.Default().
func NewHandler(resets ResetService, changes ChangeService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		resets:   resets,
		changes:  changes,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Routes returns the router for the credential endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/password/reset", func(r chi.Router) {
		r.Post("/", h.RequestReset)
		r.Get("/validate", h.ValidateToken)
		r.Post("/confirm", h.ConfirmReset)
	})
	// Unauthenticated; see the package doc.
	r.Post("/accounts/{id}/password", h.ChangePassword)

	return r
}

type resetRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type confirmRequest struct {
	Token    string `json:"token" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=1024"`
}

type changeRequest struct {
	Password string `json:"password" validate:"required,max=1024"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type validateResponse struct {
	Valid     bool      `json:"valid"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RequestReset handles POST /password/reset. The response is the same
// whether or not the email belongs to an account.
func (h *Handler) RequestReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !h.decode(w, r, &req) {
		return
	}

	msg, err := h.resets.RequestReset(r.Context(), req.Email, requestContext(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: msg})
}

// ValidateToken handles GET /password/reset/validate?token=...
func (h *Handler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.resets.ValidateToken(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: true, ExpiresAt: token.ExpiresAt})
}

// ConfirmReset handles POST /password/reset/confirm.
func (h *Handler) ConfirmReset(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !h.decode(w, r, &req) {
		return
	}

	msg, err := h.resets.Confirm(r.Context(), req.Token, auth.PlainPassword(req.Password), requestContext(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

// ChangePassword handles POST /accounts/{id}/password. The caller is
// trusted: no current password or session is checked here.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	accountID, err := ulid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeProblem(w, http.StatusNotFound, "account_not_found", "Account not found.")
		return
	}

	var initiator auth.ChangeInitiator = auth.SelfInitiated{}
	if raw := r.Header.Get(ActorHeader); raw != "" {
		actorID, err := ulid.Parse(raw)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "validation_error", "Invalid "+ActorHeader+" header.")
			return
		}
		if actorID != accountID {
			initiator = auth.ActorInitiated{ActorID: actorID}
		}
	}

	var req changeRequest
	if !h.decode(w, r, &req) {
		return
	}

	err = h.changes.ChangePassword(r.Context(), auth.ChangeRequest{
		AccountID: accountID,
		Password:  auth.PlainPassword(req.Password),
		Initiator: initiator,
		Request:   requestContext(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads and validates a JSON body into dst, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_request", "Invalid request body.")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "validation_error", validationMessage(err))
		return false
	}
	return true
}

func requestContext(r *http.Request) auth.RequestContext {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return auth.RequestContext{IPAddress: ip, UserAgent: r.UserAgent()}
}

// logRequests logs one line per request. Only the route pattern is logged,
// never the raw URL, so tokens in query strings stay out of the logs.
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		h.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
