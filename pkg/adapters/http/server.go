package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/aretw0/productflow"
	"github.com/aretw0/productflow/internal/logging"
	"github.com/aretw0/productflow/pkg/domain"
	"github.com/aretw0/productflow/pkg/orchestrator"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Caller context headers.
const (
	HeaderUserID       = "X-User-Id"
	HeaderPrivilege    = "X-User-Privilege"
	HeaderOrganization = "X-Organization-Id"
	HeaderOperationID  = "X-Operation-Id"
)

// Orchestrator defines the workflow exposed by the API.
// *orchestrator.Service implements it.
type Orchestrator interface {
	CreateSession(ctx context.Context, req orchestrator.CreateRequest) (*domain.Session, error)
	AddProductData(ctx context.Context, sessionID string, data domain.ProductData, operationID string) (*domain.Session, error)
	AddTargetData(ctx context.Context, sessionID string, data domain.TargetConfig, operationID string) (*domain.Session, error)
	CommitSession(ctx context.Context, sessionID, operationID string) (*domain.CommitResult, error)
	GetSessionProgress(ctx context.Context, sessionID string) (*domain.Session, error)
	CompleteSession(ctx context.Context, sessionID, operationID string) (*domain.Session, error)
	CancelSession(ctx context.Context, sessionID, reason, operationID string) (*domain.Session, error)
}

// Server serves the session API.
type Server struct {
	Orchestrator Orchestrator
	Streams      *StreamManager
	logger       *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStreams serves GET /sessions/{id}/events from sm. Register sm as a
// notifier of the orchestrator so it receives events.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		s.Streams = sm
	}
}

// NewHandler creates the HTTP handler for the orchestrator.
func NewHandler(o Orchestrator, opts ...Option) http.Handler {
	s := &Server{
		Orchestrator: o,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(operationID)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.CreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.GetSession)
			r.Delete("/", s.CancelSession)
			r.Post("/product", s.AddProduct)
			r.Post("/target", s.AddTarget)
			r.Post("/commit", s.Commit)
			r.Post("/complete", s.Complete)
			if s.Streams != nil {
				r.Get("/events", s.SubscribeEvents)
			}
		})
	})

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-Id, X-User-Privilege, X-Organization-Id, X-Operation-Id")
		w.Header().Set("Access-Control-Expose-Headers", HeaderOperationID)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type operationIDKey struct{}

// operationID makes sure every request carries a correlation id and echoes it.
func operationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderOperationID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderOperationID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operationIDKey{}, id)))
	})
}

func operationIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(operationIDKey{}).(string)
	return id
}

// CreateSession handles POST /sessions.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Orchestrator.CreateSession(r.Context(), orchestrator.CreateRequest{
		UserID:           r.Header.Get(HeaderUserID),
		Privilege:        domain.Privilege(r.Header.Get(HeaderPrivilege)),
		OrganizationGUID: r.Header.Get(HeaderOrganization),
		OperationID:      operationIDFrom(r),
	})
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusCreated, sess)
}

// GetSession handles GET /sessions/{sessionID}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Orchestrator.GetSessionProgress(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// AddProduct handles POST /sessions/{sessionID}/product.
func (s *Server) AddProduct(w http.ResponseWriter, r *http.Request) {
	var data domain.ProductData
	if !s.decodeBody(w, r, &data) {
		return
	}
	sess, err := s.Orchestrator.AddProductData(r.Context(), chi.URLParam(r, "sessionID"), data, operationIDFrom(r))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// AddTarget handles POST /sessions/{sessionID}/target.
func (s *Server) AddTarget(w http.ResponseWriter, r *http.Request) {
	var data domain.TargetConfig
	if !s.decodeBody(w, r, &data) {
		return
	}
	sess, err := s.Orchestrator.AddTargetData(r.Context(), chi.URLParam(r, "sessionID"), data, operationIDFrom(r))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// Commit handles POST /sessions/{sessionID}/commit.
func (s *Server) Commit(w http.ResponseWriter, r *http.Request) {
	result, err := s.Orchestrator.CommitSession(r.Context(), chi.URLParam(r, "sessionID"), operationIDFrom(r))
	if err != nil {
		s.writeError(w, r, err, result)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// Complete handles POST /sessions/{sessionID}/complete.
func (s *Server) Complete(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Orchestrator.CompleteSession(r.Context(), chi.URLParam(r, "sessionID"), operationIDFrom(r))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// CancelSession handles DELETE /sessions/{sessionID}?reason=...
func (s *Server) CancelSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Orchestrator.CancelSession(r.Context(), chi.URLParam(r, "sessionID"), r.URL.Query().Get("reason"), operationIDFrom(r))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "productflow-http",
		"version": productflow.Version,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "err", err)
	}
}
