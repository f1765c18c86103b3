// Package server exposes the core pipeline over a small JSON HTTP
// API. It is a thin collaborator surface: all semantics live in the
// core, validator, axiom and plugin packages.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"geneforge/internal/axiom"
	"geneforge/internal/core"
	"geneforge/internal/logging"
	"geneforge/internal/plugin"
	"geneforge/internal/store"
	"geneforge/internal/types"
	"geneforge/internal/validator"
)

// maxConcurrentSessions bounds the fan-out of one batch run request.
const maxConcurrentSessions = 8

// Server routes HTTP requests onto a shared runner and registry.
type Server struct {
	runner   *core.Runner
	registry *plugin.Registry
	history  *store.Store
}

// New creates a server over the given runner and registry.
func New(runner *core.Runner, registry *plugin.Registry) *Server {
	return &Server{runner: runner, registry: registry}
}

// WithHistory persists completed runs and serves them at /v1/history.
func (s *Server) WithHistory(st *store.Store) *Server {
	s.history = st
	return s
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/validate", s.handleValidate).Methods(http.MethodPost)
	r.HandleFunc("/v1/run", s.handleRun).Methods(http.MethodPost)
	r.HandleFunc("/v1/infer", s.handleInfer).Methods(http.MethodPost)
	r.HandleFunc("/v1/call", s.handleCall).Methods(http.MethodPost)
	r.HandleFunc("/v1/plugins", s.handlePlugins).Methods(http.MethodGet)
	r.HandleFunc("/v1/plugins/{name}/enable", s.handleEnable).Methods(http.MethodPost)
	r.HandleFunc("/v1/plugins/{name}/disable", s.handleDisable).Methods(http.MethodPost)
	r.HandleFunc("/v1/history", s.handleHistory).Methods(http.MethodGet)
	return r
}

type validateRequest struct {
	AST []types.OperationNode `json:"ast"`
}

type validateResponse struct {
	Valid     bool   `json:"valid"`
	Error     string `json:"error,omitempty"`
	Operation string `json:"operation,omitempty"`
	Key       string `json:"key,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decode(w, r, &req) {
		return
	}

	err := s.runner.Validate(req.AST)
	resp := validateResponse{Valid: err == nil}
	if err != nil {
		resp.Error = err.Error()
		var verr *validator.ValidationError
		if errors.As(err, &verr) {
			resp.Operation = verr.Operation
			resp.Key = verr.Key
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type runRequest struct {
	AST []types.OperationNode `json:"ast"`

	// Payload runs one session; Payloads fans out one independent
	// session per payload.
	Payload  string   `json:"payload"`
	Payloads []string `json:"payloads"`
}

type runResponse struct {
	Reports []*core.RunReport `json:"reports"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !decode(w, r, &req) {
		return
	}

	payloads := req.Payloads
	if len(payloads) == 0 {
		payloads = []string{req.Payload}
	}

	// Each session owns its symbol table and axiom store, so the
	// fan-out is safe; only the registry is shared.
	reports := make([]*core.RunReport, len(payloads))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(maxConcurrentSessions)
	for i, payload := range payloads {
		g.Go(func() error {
			report, err := s.runner.Run(ctx, req.AST, payload)
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		status := http.StatusInternalServerError
		var verr *validator.ValidationError
		if errors.As(err, &verr) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err)
		return
	}

	if s.history != nil {
		for _, report := range reports {
			if err := s.history.SaveRun(r.Context(), report); err != nil {
				logging.For(logging.CategoryServer).Warn("failed to persist run",
					zap.String("run_id", report.ID), zap.Error(err))
			}
		}
	}

	writeJSON(w, http.StatusOK, runResponse{Reports: reports})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, errors.New("run history is not enabled"))
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	records, err := s.history.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type inferRequest struct {
	Axioms []string     `json:"axioms"`
	Rules  []axiom.Rule `json:"rules"`
}

type inferResponse struct {
	Axioms []string `json:"axioms"`
	Added  []string `json:"added"`
	Passes int      `json:"passes"`
}

func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	var req inferRequest
	if !decode(w, r, &req) {
		return
	}

	store := axiom.NewStore()
	store.AddAxioms(req.Axioms...)
	for _, rule := range req.Rules {
		store.AddRule(rule.Premise, rule.Conclusion)
	}

	result, err := store.Infer(0)
	if err != nil {
		// A tripped pass bound is a malformed configuration, not a
		// transient server fault.
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	axioms, _ := store.Explain()
	writeJSON(w, http.StatusOK, inferResponse{
		Axioms: axioms,
		Added:  result.Added,
		Passes: result.Passes,
	})
}

type callRequest struct {
	Plugin string         `json:"plugin"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

type callResponse struct {
	Result  any            `json:"result"`
	Symbols map[string]any `json:"symbols"`
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if !decode(w, r, &req) {
		return
	}

	result, symbols, err := s.runner.Call(r.Context(), req.Plugin, req.Method, req.Params)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, plugin.ErrUnknownPlugin):
			status = http.StatusNotFound
		case errors.Is(err, plugin.ErrUnknownMethod):
			status = http.StatusNotFound
		case errors.Is(err, plugin.ErrMissingParameter):
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, callResponse{Result: result, Symbols: symbols})
}

type pluginInfo struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
	Source string `json:"source"`
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	names := s.registry.Names()
	infos := make([]pluginInfo, 0, len(names))
	for _, name := range names {
		in, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		infos = append(infos, pluginInfo{
			Name:   in.Name(),
			Active: s.registry.IsActive(name),
			Source: in.Source(),
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	s.toggle(w, r, s.registry.Enable)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.toggle(w, r, s.registry.Disable)
}

func (s *Server) toggle(w http.ResponseWriter, r *http.Request, fn func(string) error) {
	name := mux.Vars(r)["name"]
	if err := fn(name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, plugin.ErrUnknownPlugin) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"plugin": name, "status": "ok"})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.For(logging.CategoryServer).Warn("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
