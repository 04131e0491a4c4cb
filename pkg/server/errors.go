package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"mercator-hq/ratchet/pkg/retention"
	"mercator-hq/ratchet/pkg/retention/aging"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    string             `json:"code"`
	Message string             `json:"message"`
	Details *retention.Details `json:"details,omitempty"`
}

// statusFor maps a rejection code to its HTTP status.
func statusFor(code retention.Code) int {
	switch code {
	case retention.CodeAlreadyLocked,
		retention.CodeLockIsImmutable,
		retention.CodeRetentionTypeChangeRejected,
		retention.CodeRetentionDecreaseRejected,
		retention.CodeRetentionWindowActive,
		retention.CodeAlreadyExists:
		return http.StatusConflict
	case retention.CodeVersionConflict:
		return http.StatusPreconditionFailed
	case retention.CodeBusy:
		return http.StatusServiceUnavailable
	case retention.CodeNotFound:
		return http.StatusNotFound
	case retention.CodeInvalidRetentionRule, retention.CodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Rejections carry their code and details;
// infrastructure failures are logged and reported without internals.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if rej, ok := retention.AsRejection(err); ok {
		body := errorBody{Code: string(rej.Code), Message: rej.Message}
		if !isZeroDetails(rej.Details) {
			d := rej.Details
			body.Details = &d
		}
		if rej.Code == retention.CodeBusy {
			w.Header().Set("Retry-After", "1")
		}
		writeJSON(w, statusFor(rej.Code), body)
		return
	}

	var collab *retention.CollaboratorError
	switch {
	case errors.Is(err, aging.ErrSweepRunning):
		w.Header().Set("Retry-After", "5")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: "SweepRunning", Message: err.Error()})
	case errors.As(err, &collab):
		s.logger.WarnContext(r.Context(), "collaborator failure", "error", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Code: "CollaboratorError", Message: err.Error()})
	default:
		s.logger.ErrorContext(r.Context(), "request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: "Internal", Message: "internal error"})
	}
}

func isZeroDetails(d retention.Details) bool {
	return d.CopyID == "" && d.Rule == nil && d.Floor == nil && d.Requested == nil &&
		d.CurrentVersion == 0 && d.ExpectedVersion == 0 && len(d.ActiveJobs) == 0
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func slogLevel(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
