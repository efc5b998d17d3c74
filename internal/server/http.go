// Package server exposes the pattern engine over a JSON HTTP API and
// supervises the daemon's long-running components.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/RolldeoDev/Rolldeo-sub002/internal/config"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/document"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/eval"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/registry"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/selector"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/trace"
)

// maxDocumentBytes bounds an uploaded collection document.
const maxDocumentBytes = 4 << 20

// HTTPServer exposes the engine over a JSON API. It implements Runnable
// so the Supervisor can drive it.
type HTTPServer struct {
	engine *engine.Engine
	logger *zap.Logger
	srv    *http.Server

	shutdownTimeout time.Duration
}

// NewHTTPServer builds the API server.
//
// Precondition: eng and logger must be non-nil.
func NewHTTPServer(cfg config.ServerConfig, eng *engine.Engine, logger *zap.Logger) *HTTPServer {
	s := &HTTPServer{
		engine:          eng,
		logger:          logger,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	s.srv = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Router returns the configured route table. Exposed for tests, which
// drive it through httptest without a listener.
func (s *HTTPServer) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api.HandleFunc("/collections", s.handleLoadCollection).Methods(http.MethodPost)
	api.HandleFunc("/collections", s.handleListCollections).Methods(http.MethodGet)
	api.HandleFunc("/collections/resolve-imports", s.handleResolveImports).Methods(http.MethodPost)
	api.HandleFunc("/collections/{id}", s.handleGetCollection).Methods(http.MethodGet)
	api.HandleFunc("/collections/{id}", s.handleUnloadCollection).Methods(http.MethodDelete)
	api.HandleFunc("/collections/{id}/tables", s.handleListTables).Methods(http.MethodGet)
	api.HandleFunc("/collections/{id}/templates", s.handleListTemplates).Methods(http.MethodGet)
	api.HandleFunc("/collections/{id}/tables/{table}/roll", s.handleRollTable).Methods(http.MethodPost)
	api.HandleFunc("/collections/{id}/templates/{template}/roll", s.handleRollTemplate).Methods(http.MethodPost)

	r.Use(s.logRequests)
	return r
}

// Run begins serving and blocks until shutdown or listener failure.
func (s *HTTPServer) Run() error {
	s.logger.Info("http server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the shutdown timeout.
func (s *HTTPServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown incomplete", zap.Error(err))
	}
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// collectionSummary is the list/get projection of a loaded collection.
type collectionSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
	Preloaded bool   `json:"preloaded"`
	Tables    int    `json:"tables"`
	Templates int    `json:"templates"`
}

func summarize(c *registry.Collection) collectionSummary {
	return collectionSummary{
		ID:        c.ID,
		Name:      c.Document.Metadata.Name,
		Namespace: c.Document.Metadata.Namespace,
		Preloaded: c.Preloaded,
		Tables:    len(c.Document.Tables),
		Templates: len(c.Document.Templates),
	}
}

func (s *HTTPServer) handleLoadCollection(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "request body must contain a collection document")
		return
	}

	id, err := s.engine.LoadCollection(data, r.URL.Query().Get("id"), false)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *HTTPServer) handleListCollections(w http.ResponseWriter, _ *http.Request) {
	cols := s.engine.ListCollections()
	out := make([]collectionSummary, 0, len(cols))
	for _, c := range cols {
		out = append(out, summarize(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, ok := s.engine.GetCollection(id)
	if !ok {
		writeError(w, http.StatusNotFound, "collection not loaded: "+id)
		return
	}
	writeJSON(w, http.StatusOK, summarize(c))
}

func (s *HTTPServer) handleUnloadCollection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.engine.UnloadCollection(id) {
		writeError(w, http.StatusNotFound, "collection not loaded: "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleResolveImports(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Paths map[string]string `json:"paths"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.engine.ResolveImports(body.Paths)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.engine.ListTables(mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	type tableSummary struct {
		ID      string             `json:"id"`
		Name    string             `json:"name"`
		Kind    document.TableKind `json:"kind"`
		Entries int                `json:"entries"`
	}
	out := make([]tableSummary, 0, len(tables))
	for _, t := range tables {
		kind := t.Kind
		if kind == "" {
			kind = document.KindSimple
		}
		out = append(out, tableSummary{ID: t.ID, Name: t.DisplayName(), Kind: kind, Entries: len(t.Entries)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := s.engine.ListTemplates(mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	type templateSummary struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	out := make([]templateSummary, 0, len(tpls))
	for _, t := range tpls {
		out = append(out, templateSummary{ID: t.ID, Name: t.DisplayName()})
	}
	writeJSON(w, http.StatusOK, out)
}

// rollResponse is the wire shape of a completed roll.
type rollResponse struct {
	Text         string                  `json:"text"`
	Type         engine.ResultType       `json:"type"`
	Captures     map[string][]captureOut `json:"captures,omitempty"`
	Descriptions []eval.Description      `json:"descriptions,omitempty"`
	Placeholders map[string]string       `json:"placeholders,omitempty"`
	Trace        *trace.Node             `json:"trace,omitempty"`
}

type captureOut struct {
	Value string            `json:"value"`
	Sets  map[string]string `json:"sets,omitempty"`
}

func toRollResponse(res *engine.RollResult) rollResponse {
	out := rollResponse{
		Text:         res.Text,
		Type:         res.Type,
		Descriptions: res.Descriptions,
		Placeholders: res.Placeholders,
		Trace:        res.Trace,
	}
	if len(res.Captures) > 0 {
		out.Captures = make(map[string][]captureOut, len(res.Captures))
		for name, v := range res.Captures {
			items := make([]captureOut, len(v.Items))
			for i, item := range v.Items {
				items[i] = captureOut{Value: item.Value, Sets: item.Sets}
			}
			out.Captures[name] = items
		}
	}
	return out
}

func rollOptions(r *http.Request) engine.RollOptions {
	return engine.RollOptions{EnableTrace: r.URL.Query().Get("trace") == "1"}
}

func (s *HTTPServer) handleRollTable(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := s.engine.Roll(vars["id"], vars["table"], rollOptions(r))
	if err != nil {
		s.writeRollError(w, err, res)
		return
	}
	writeJSON(w, http.StatusOK, toRollResponse(res))
}

func (s *HTTPServer) handleRollTemplate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := s.engine.RollTemplate(vars["id"], vars["template"], rollOptions(r))
	if err != nil {
		s.writeRollError(w, err, res)
		return
	}
	writeJSON(w, http.StatusOK, toRollResponse(res))
}

// writeRollError maps evaluation failures to statuses and attaches the
// partial trace when one was recorded.
func (s *HTTPServer) writeRollError(w http.ResponseWriter, err error, partial *engine.RollResult) {
	status := errorStatus(err)
	body := map[string]any{
		"error":   http.StatusText(status),
		"message": err.Error(),
		"status":  status,
	}
	if partial != nil && partial.Trace != nil {
		body["trace"] = partial.Trace
	}
	writeJSON(w, status, body)
}

func (s *HTTPServer) writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err.Error())
}

// errorStatus maps the engine's error taxonomy onto HTTP statuses:
// unknown names are 404, malformed documents are 400, and failures
// evaluating well-formed content are 422.
func errorStatus(err error) int {
	var refErr *eval.ReferenceError
	var impErr *registry.ImportResolutionError
	var parseErr *eval.ParseError
	var recErr *eval.RecursionError
	var selErr *selector.SelectionError
	var verErr *document.UnsupportedVersionError

	switch {
	case errors.As(err, &refErr):
		return http.StatusNotFound
	case errors.As(err, &verErr):
		return http.StatusBadRequest
	case errors.As(err, &impErr), errors.As(err, &parseErr),
		errors.As(err, &recErr), errors.As(err, &selErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"error":   http.StatusText(code),
		"message": msg,
		"status":  code,
	})
}
