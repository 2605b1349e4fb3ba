// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/holomush/credkeeper/internal/auth"
	"github.com/holomush/credkeeper/pkg/errutil"
)

type problem struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// errorStatus maps a service error to a status, a public code and a message
// safe to show to the caller.
func errorStatus(err error) (int, string, string) {
	switch {
	case auth.IsRateLimited(err):
		return http.StatusTooManyRequests, "rate_limited", auth.MsgRateLimited
	case auth.IsInvalidToken(err):
		return http.StatusBadRequest, "invalid_token", auth.MsgInvalidToken
	case auth.IsPasswordReused(err):
		return http.StatusBadRequest, "password_reused", auth.MsgPasswordReused
	}

	switch errutil.Code(err) {
	case auth.CodePasswordTooShort:
		return http.StatusBadRequest, "password_too_short", auth.MsgPasswordTooShort
	case auth.CodeEmptyPassword:
		return http.StatusBadRequest, "password_empty", "Password is required."
	case "ACCOUNT_NOT_FOUND":
		return http.StatusNotFound, "account_not_found", "Account not found."
	}
	if errors.Is(err, auth.ErrNotFound) {
		return http.StatusNotFound, "account_not_found", "Account not found."
	}
	return http.StatusInternalServerError, "internal_error", "Something went wrong. Please try again later."
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		errutil.LogErrorContext(r.Context(), h.logger, slog.LevelError, "request failed", err)
	}
	writeProblem(w, status, code, msg)
}

func writeProblem(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, problem{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	//nolint:errcheck // client may have gone away
	json.NewEncoder(w).Encode(body)
}

// validationMessage names the failing fields without echoing their values.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request body."
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
	}
	sort.Strings(fields)
	return "Invalid fields: " + strings.Join(fields, ", ") + "."
}
