package http

import (
	"errors"
	"net/http"

	"github.com/aretw0/productflow/pkg/domain"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error       string               `json:"error"`
	Kind        string               `json:"kind"`
	OperationID string               `json:"operationId"`
	Details     []string             `json:"details,omitempty"`
	Result      *domain.CommitResult `json:"result,omitempty"`
}

// StatusCode maps a workflow error to an HTTP status.
func StatusCode(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrForbidden:
		return http.StatusForbidden
	case domain.ErrSessionNotFound:
		return http.StatusNotFound
	case domain.ErrSessionExpired:
		return http.StatusGone
	case domain.ErrInvalidTransition, domain.ErrInvalidState, domain.ErrPreconditionFailed,
		domain.ErrConflict, domain.ErrConcurrentModification:
		return http.StatusConflict
	case domain.ErrValidation:
		return http.StatusUnprocessableEntity
	case domain.ErrCommitFailed:
		return http.StatusBadGateway
	case domain.ErrStoreRead, domain.ErrStoreWrite, domain.ErrRecordStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, result *domain.CommitResult) {
	status := StatusCode(err)
	resp := ErrorResponse{
		Error:       err.Error(),
		Kind:        "internal",
		OperationID: operationIDFrom(r),
		Result:      result,
	}
	if kind := domain.KindOf(err); kind != nil {
		resp.Kind = kind.Error()
	}

	var e *domain.Error
	if errors.As(err, &e) {
		resp.Details = e.Details
		if e.OperationID != "" {
			resp.OperationID = e.OperationID
		}
	}

	if status >= 500 {
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "status", status, "operation_id", resp.OperationID, "err", err)
	} else {
		s.logger.Warn("Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "operation_id", resp.OperationID, "err", err)
	}
	s.writeJSON(w, status, resp)
}
