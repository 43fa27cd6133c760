package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"tails/api/internal/auth"
	"tails/api/internal/config"
	"tails/api/internal/hierarchy"
	"tails/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     zerolog.Logger
	limiter    *ownerLimiter
	router     chi.Router
}

func NewHTTPServer(service *Service, cfg config.Config, logger zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		service:    service,
		corsOrigin: cfg.CORSOrigin,
		logger:     logger.With().Str("component", "http").Logger(),
		limiter:    newOwnerLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	s.setupRoutes()
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

func (s *HTTPServer) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.cors)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)

		r.Post("/api/session/logout", s.handleLogout)

		r.Get("/api/workspaces", s.handleListWorkspaces)
		r.Post("/api/workspaces", s.handleCreateWorkspace)
		r.Route("/api/workspaces/{workspaceID}", func(r chi.Router) {
			r.Use(s.requireWorkspace)
			r.Get("/", s.handleGetWorkspace)
			r.Put("/", s.handleUpdateWorkspace)
			r.Delete("/", s.handleDeleteWorkspace)
			r.Get("/documents", s.handleWorkspaceTree)
			r.Post("/documents", s.handleCreateDocument)
		})

		r.Get("/api/documents", s.handleListDocuments)
		r.Post("/api/documents", s.handleQuickCreateDocument)
		r.Route("/api/documents/{documentID}", func(r chi.Router) {
			r.Use(s.requireDocument)
			r.Get("/", s.handleGetDocument)
			r.Put("/", s.handleUpdateDocument)
			r.Delete("/", s.handleDeleteDocument)
			r.Post("/move", s.handleMoveDocument)
			r.Get("/breadcrumbs", s.handleBreadcrumbs)
		})
	})

	s.router = r
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

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Logout(r.Context(), sessionFrom(r.Context())); err != nil {
		s.logger.Warn().Err(err).Msg("token revoke failed")
		writeError(w, http.StatusServiceUnavailable, string(KindStoreUnavailable), "Logout failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListWorkspaces(r.Context(), sessionFrom(r.Context()).OwnerID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		view := workspaceJSON(item.Workspace)
		view["documentCount"] = item.DocumentCount
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"workspaces": out})
}

func (s *HTTPServer) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var body CreateWorkspaceInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	workspace, err := s.service.CreateWorkspace(r.Context(), sessionFrom(r.Context()).OwnerID, body)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"workspace": workspaceJSON(workspace)})
}

func (s *HTTPServer) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.GetWorkspace(r.Context(), sessionFrom(r.Context()).OwnerID, chi.URLParam(r, "workspaceID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workspace": workspaceJSON(detail.Workspace),
		"documents": documentsJSON(detail.Documents),
	})
}

func (s *HTTPServer) handleUpdateWorkspace(w http.ResponseWriter, r *http.Request) {
	var body UpdateWorkspaceInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	workspace, err := s.service.UpdateWorkspace(r.Context(), sessionFrom(r.Context()).OwnerID, chi.URLParam(r, "workspaceID"), body)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workspace": workspaceJSON(workspace)})
}

func (s *HTTPServer) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	if err := s.service.DeleteWorkspace(r.Context(), sessionFrom(r.Context()).OwnerID, workspaceID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deletedId": workspaceID})
}

func (s *HTTPServer) handleWorkspaceTree(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	roots, err := s.service.GetWorkspaceTree(r.Context(), workspaceID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workspaceId": workspaceID,
		"tree":        nodesJSON(roots),
	})
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var body CreateDocumentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	doc, err := s.service.CreateDocument(r.Context(), chi.URLParam(r, "workspaceID"), body)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"document": documentJSON(doc)})
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListOwnerDocuments(r.Context(), sessionFrom(r.Context()).OwnerID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": documentsJSON(items)})
}

func (s *HTTPServer) handleQuickCreateDocument(w http.ResponseWriter, r *http.Request) {
	var body QuickDocumentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	doc, err := s.service.CreateQuickDocument(r.Context(), sessionFrom(r.Context()).OwnerID, body)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"document": documentJSON(doc)})
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.GetDocument(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document":    documentJSON(detail.Document),
		"parent":      detail.Parent,
		"children":    detail.Children,
		"breadcrumbs": detail.Breadcrumbs,
	})
}

func (s *HTTPServer) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	var body UpdateDocumentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	doc, err := s.service.UpdateDocument(r.Context(), chi.URLParam(r, "documentID"), body)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": documentJSON(doc)})
}

func (s *HTTPServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.DeleteDocument(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"deletedId":   result.DeletedID,
		"promotedIds": result.PromotedIDs,
	})
}

func (s *HTTPServer) handleMoveDocument(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ParentID ParentRef `json:"parentId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	// A move to the workspace root must be an explicit null.
	if !body.ParentID.Set {
		writeError(w, http.StatusBadRequest, string(KindInvalidInput), "parentId is required; use null for the workspace root", nil)
		return
	}
	doc, err := s.service.MoveDocument(r.Context(), chi.URLParam(r, "documentID"), body.ParentID.Value)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": documentJSON(doc)})
}

func (s *HTTPServer) handleBreadcrumbs(w http.ResponseWriter, r *http.Request) {
	crumbs, err := s.service.Breadcrumbs(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"breadcrumbs": crumbs})
}

type sessionKey struct{}

func sessionFrom(ctx context.Context) Session {
	current, _ := ctx.Value(sessionKey{}).(Session)
	return current
}

func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		current, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
			s.logger.Error().Err(err).Msg("session lookup failed")
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, current)))
	})
}

func (s *HTTPServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(sessionFrom(r.Context()).OwnerID) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireWorkspace answers 404 unless the caller owns the workspace in the URL.
func (s *HTTPServer) requireWorkspace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := s.service.AuthorizeWorkspace(r.Context(), sessionFrom(r.Context()).OwnerID, chi.URLParam(r, "workspaceID"))
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireDocument answers 404 unless the caller owns the document in the URL.
func (s *HTTPServer) requireDocument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := s.service.AuthorizeDocument(r.Context(), sessionFrom(r.Context()).OwnerID, chi.URLParam(r, "documentID"))
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		requestID := middleware.GetReqID(r.Context())
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

func (s *HTTPServer) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w.Header(), s.corsOrigin)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("code", code).
			Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
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
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status(), string(domainErr.Kind), domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func workspaceJSON(item store.Workspace) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"name":        item.Name,
		"displayName": item.DisplayName,
		"description": item.Description,
		"filePath":    item.FilePath,
		"createdAt":   item.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":   item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func documentJSON(item store.Document) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"workspaceId": item.WorkspaceID,
		"parentId":    item.ParentID,
		"title":       item.Title,
		"content":     item.Content,
		"path":        item.Path,
		"level":       item.Level,
		"order":       item.Order,
		"isFolder":    item.IsFolder,
		"createdAt":   item.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":   item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func documentsJSON(items []store.Document) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, documentJSON(item))
	}
	return out
}

func nodesJSON(nodes []*hierarchy.Node) []map[string]any {
	out := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		view := documentJSON(node.Document)
		view["children"] = nodesJSON(node.Children)
		out = append(out, view)
	}
	return out
}
