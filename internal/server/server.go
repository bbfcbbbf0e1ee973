// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"nutriscan/internal/capture"
	"nutriscan/internal/display"
	"nutriscan/internal/lookup"
	"nutriscan/internal/notify"
	"nutriscan/internal/scan"
	"nutriscan/internal/storage"
)

const Version = "1.0.0"

type Config struct {
	Host        string
	Port        int
	Storage     string
	ScanDelay   time.Duration
	Constraints capture.Constraints
}

// Deps are the collaborators a ScanServer does not build itself.
type Deps struct {
	Lookup   lookup.Lookup
	Device   capture.Device
	Surface  capture.Surface
	Notifier notify.Notifier
	Logger   *zap.Logger
	// Closers are released on Stop, after the camera session.
	Closers []io.Closer
	// CodeSource overrides the synthesized camera codes.
	CodeSource capture.CodeSource
}

type ScanServer struct {
	httpServer *http.Server
	router     *mux.Router
	history    storage.HistoryStore
	pipeline   *scan.Pipeline
	session    *capture.Session
	analysis   *display.Analysis
	toasts     *notify.Recorder
	closers    []io.Closer
	logger     *zap.Logger
	config     *Config
	info       protocol.Implementation
}

func NewScanServer(cfg *Config, deps Deps) (*ScanServer, error) {
	if deps.Lookup == nil {
		return nil, errors.New("lookup is required")
	}
	if deps.Device == nil || deps.Surface == nil {
		return nil, errors.New("camera device and surface are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	history, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	toasts := &notify.Recorder{}
	notifier := notify.Multi{toasts, deps.Notifier}
	analysis := display.NewAnalysis(nil)

	constraints := cfg.Constraints
	if constraints == (capture.Constraints{}) {
		constraints = capture.DefaultConstraints()
	}
	sessionOpts := []capture.Option{
		capture.WithConstraints(constraints),
		capture.WithScanDelay(cfg.ScanDelay),
		capture.WithLogger(logger),
	}
	if deps.CodeSource != nil {
		sessionOpts = append(sessionOpts, capture.WithCodeSource(deps.CodeSource))
	}

	s := &ScanServer{
		history:  history,
		pipeline: scan.NewPipeline(deps.Lookup, history, analysis, notifier, scan.WithLogger(logger)),
		session:  capture.NewSession(deps.Device, deps.Surface, notifier, sessionOpts...),
		analysis: analysis,
		toasts:   toasts,
		closers:  deps.Closers,
		logger:   logger.Named("server"),
		config:   cfg,
		info: protocol.Implementation{
			Name:    "nutriscan",
			Version: Version,
		},
	}

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

func (s *ScanServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/tools", s.handleTools).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/scans", s.handleCreateScan).Methods(http.MethodPost)
	r.HandleFunc("/analysis", s.handleAnalysis).Methods(http.MethodGet)
	r.HandleFunc("/analysis", s.handleDismissAnalysis).Methods(http.MethodDelete)
	r.HandleFunc("/notifications", s.handleNotifications).Methods(http.MethodGet)
	r.Use(corsMiddleware)
	return r
}

// Handler exposes the router, mainly for tests.
func (s *ScanServer) Handler() http.Handler {
	return s.router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *ScanServer) handleTools(w http.ResponseWriter, r *http.Request) {
	var request protocol.CallToolRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	handler, ok := s.tools()[request.Name]
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown tool: %s", request.Name), http.StatusNotFound)
		return
	}

	result, err := handler(r.Context(), &request)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *ScanServer) Start(ctx context.Context) error {
	s.logger.Info("starting nutriscan server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop closes the camera session, cancelling any pending scan, then the
// history store and the HTTP listener.
func (s *ScanServer) Stop() error {
	s.session.Close()

	var errs []error
	if s.history != nil {
		errs = append(errs, s.history.Close())
	}
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, s.httpServer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func (s *ScanServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *ScanServer) createJSONResponse(data interface{}) (*protocol.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: string(jsonBytes),
			},
		},
	}, nil
}

var errConflict = errors.New("conflict")

func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidParams), errors.Is(err, scan.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, lookup.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrDeviceAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, errConflict), errors.Is(err, capture.ErrOpening), errors.Is(err, capture.ErrClosed):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
