// Package server provides the admin HTTP server of a recordstore process.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/devrev/recordstore/internal/config"
	dberrors "github.com/devrev/recordstore/internal/errors"
	"github.com/devrev/recordstore/internal/health"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
)

// Store is the part of the database engine the admin API exposes
type Store interface {
	Name() string
	SelectTables(ctx context.Context) ([]string, error)
	SelectDbTables(ctx context.Context) ([]string, error)
	ResolvePhysicalTable(ctx context.Context, table, user string) (string, error)
	PurgeUserTable(ctx context.Context, table, user string) error
	PurgeUser(ctx context.Context, user string) error
}

// Server represents the admin HTTP server
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	store      Store
	health     *health.HealthChecker
	logger     *zap.Logger
}

// NewServer creates the admin server. gatherer serves the metrics
// endpoint when metrics are enabled.
func NewServer(cfg *config.Config, store Store, hc *health.HealthChecker, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	router := mux.NewRouter()
	s := &Server{
		router: router,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		store:  store,
		health: hc,
		logger: logger,
	}
	s.setupRoutes(cfg.Metrics, gatherer)
	return s
}

func (s *Server) setupRoutes(metrics config.MetricsConfig, gatherer prometheus.Gatherer) {
	s.router.Use(requestID, recovery(s.logger), logging(s.logger))

	s.router.HandleFunc("/health/live", s.health.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.health.ReadinessHandler).Methods(http.MethodGet)
	if metrics.Enabled && gatherer != nil {
		s.router.Handle(metrics.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/tables", s.listTables).Methods(http.MethodGet)
	v1.HandleFunc("/db-tables", s.listDbTables).Methods(http.MethodGet)
	v1.HandleFunc("/tables/{table}/users/{user}", s.resolveTable).Methods(http.MethodGet)
	v1.HandleFunc("/tables/{table}/users/{user}", s.purgeUserTable).Methods(http.MethodDelete)
	v1.HandleFunc("/users/{user}", s.purgeUser).Methods(http.MethodDelete)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Status: "error", Code: "not_found", Message: "endpoint not found"})
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Status: "error", Code: "invalid_request", Message: "method not allowed"})
	})
}

type tablesResponse struct {
	Database string   `json:"database"`
	Tables   []string `json:"tables"`
}

type resolveResponse struct {
	Table         string `json:"table"`
	User          string `json:"user"`
	PhysicalTable string `json:"physical_table"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.store.SelectTables(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tablesResponse{Database: s.store.Name(), Tables: nonNil(tables)})
}

func (s *Server) listDbTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.store.SelectDbTables(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tablesResponse{Database: s.store.Name(), Tables: nonNil(tables)})
}

func (s *Server) resolveTable(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	physTable, err := s.store.ResolvePhysicalTable(r.Context(), vars["table"], vars["user"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{Table: vars["table"], User: vars["user"], PhysicalTable: physTable})
}

func (s *Server) purgeUserTable(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.store.PurgeUserTable(r.Context(), vars["table"], vars["user"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) purgeUser(w http.ResponseWriter, r *http.Request) {
	if err := s.store.PurgeUser(r.Context(), mux.Vars(r)["user"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps database error codes to HTTP statuses through their
// gRPC class.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := dberrors.GetCode(err)
	statusCode := http.StatusInternalServerError
	var dbErr *dberrors.DatabaseError
	if errors.As(err, &dbErr) {
		statusCode = httpStatus(dbErr.ToGRPCStatus().Code())
	}
	if statusCode >= http.StatusInternalServerError {
		s.logger.Error("Admin request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, statusCode, errorResponse{Status: "error", Code: code.String(), Message: err.Error()})
}

func httpStatus(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Starting admin HTTP server", zap.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down admin HTTP server")
	return s.httpServer.Shutdown(ctx)
}
