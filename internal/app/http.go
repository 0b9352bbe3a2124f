package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"inkwell/engine/internal/edit"
	"inkwell/engine/internal/search"
	"inkwell/engine/internal/store"
	"inkwell/engine/internal/syncer"
)

type HTTPServer struct {
	service    *Service
	hub        *syncer.HubServer
	corsOrigin string
}

func NewHTTPServer(service *Service, hub *syncer.HubServer, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, hub: hub, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)

	r.HandleFunc("/ws/{docID}", s.handleWS).Methods(http.MethodGet)

	r.HandleFunc("/api/documents/{docID}", s.handleGetDocument).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{docID}/edits", s.handleApplyEdit).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{docID}/undo", s.handleUndo).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{docID}/redo", s.handleRedo).Methods(http.MethodPost)

	r.HandleFunc("/api/documents/{docID}/proposals", s.handleListProposals).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{docID}/proposals/resolve", s.handleResolveProposals).Methods(http.MethodPost)

	r.HandleFunc("/api/documents/{docID}/versions", s.handleSaveVersion).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{docID}/versions", s.handleListVersions).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{docID}/versions/{versionID}/restore", s.handleRestoreVersion).Methods(http.MethodPost)
	r.HandleFunc("/api/versions/{versionID}", s.handleGetVersion).Methods(http.MethodGet)

	r.HandleFunc("/api/search", s.handleSearch).Methods(http.MethodGet)

	return s.withMiddleware(r)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	if configured, err := s.service.PingRedis(ctx); configured {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["redis"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		} else {
			checks["redis"] = map[string]any{"status": "ok"}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handleWS attaches a collaborating peer to the document's hub. The hub sends
// the full state first, then relays operations both ways; the session layer
// sees peer edits as remote merges.
func (s *HTTPServer) handleWS(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docID"]
	// Opening the session first wires persistence and undo for the doc.
	s.service.Open(docID)
	s.hub.ServeWS(w, r, docID)
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	sess := s.service.Open(mux.Vars(r)["docID"])
	state := sess.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      sess.DocumentID(),
		"content": sess.Content(),
		"state": map[string]any{
			"loading":   state.Loading,
			"synced":    state.Synced,
			"connected": state.Connected,
		},
		"undoDepth": sess.UndoDepth(),
	})
}

func (s *HTTPServer) handleApplyEdit(w http.ResponseWriter, r *http.Request) {
	var in edit.Instruction
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	sess := s.service.Open(mux.Vars(r)["docID"])
	applied := sess.ApplyInstruction(in)
	writeJSON(w, http.StatusOK, map[string]any{
		"applied": applied,
		"content": sess.Content(),
	})
}

func (s *HTTPServer) handleUndo(w http.ResponseWriter, r *http.Request) {
	sess := s.service.Open(mux.Vars(r)["docID"])
	done := sess.Undo()
	writeJSON(w, http.StatusOK, map[string]any{"undone": done, "content": sess.Content()})
}

func (s *HTTPServer) handleRedo(w http.ResponseWriter, r *http.Request) {
	sess := s.service.Open(mux.Vars(r)["docID"])
	done := sess.Redo()
	writeJSON(w, http.StatusOK, map[string]any{"redone": done, "content": sess.Content()})
}

func (s *HTTPServer) handleListProposals(w http.ResponseWriter, r *http.Request) {
	sess := s.service.Open(mux.Vars(r)["docID"])
	spans := sess.Proposals()
	items := make([]map[string]any, 0, len(spans))
	for _, sp := range spans {
		items = append(items, map[string]any{
			"kind":    sp.Kind,
			"from":    sp.From,
			"to":      sp.To,
			"content": sp.Content,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": items})
}

type resolveRequest struct {
	Accept bool `json:"accept"`
	All    bool `json:"all"`
	Cursor *int `json:"cursor,omitempty"`
}

func (s *HTTPServer) handleResolveProposals(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	sess := s.service.Open(mux.Vars(r)["docID"])

	switch {
	case req.All:
		resolved := sess.ResolveAllProposals(req.Accept)
		writeJSON(w, http.StatusOK, map[string]any{"resolved": resolved, "content": sess.Content()})
	case req.Cursor != nil:
		ok := sess.ResolveProposalAt(*req.Cursor, req.Accept)
		writeJSON(w, http.StatusOK, map[string]any{"resolved": ok, "content": sess.Content()})
	default:
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "either all or cursor is required", nil)
	}
}

type saveVersionRequest struct {
	CreatedBy   string `json:"createdBy"`
	Description string `json:"description"`
}

func (s *HTTPServer) handleSaveVersion(w http.ResponseWriter, r *http.Request) {
	var req saveVersionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if req.CreatedBy == "" {
		req.CreatedBy = "user"
	}
	sess := s.service.Open(mux.Vars(r)["docID"])
	v, err := sess.SaveVersion(r.Context(), req.CreatedBy, req.Description)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sess := s.service.Open(mux.Vars(r)["docID"])
	versions, err := sess.ListVersions(r.Context(), limit)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if versions == nil {
		versions = []store.Version{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *HTTPServer) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.service.Version(r.Context(), mux.Vars(r)["versionID"])
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *HTTPServer) handleRestoreVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sess := s.service.Open(vars["docID"])
	v, err := sess.RestoreVersion(r.Context(), vars["versionID"])
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"restored": v,
		"content":  sess.Content(),
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	resp := s.service.Search(search.Query{
		Text:             query.Get("q"),
		FilterType:       search.ResultType(query.Get("type")),
		FilterDocumentID: query.Get("document"),
		Limit:            limit,
		Offset:           offset,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		if websocketUpgrade(r) {
			// The hub owns upgraded connections; wrapping the writer would
			// hide the Hijacker the upgrader needs.
			next.ServeHTTP(w, r)
			return
		}

		if r.Method == http.MethodOptions {
			setCORSHeaders(w.Header(), s.corsOrigin)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

func websocketUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") == "websocket"
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
