package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"folio/api/internal/auth"
	"folio/api/internal/store"
	"folio/api/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxBodyBytes = 8 << 20

type HTTPOptions struct {
	Verifier   *auth.Verifier
	CORSOrigin string
	Logger     zerolog.Logger
	// Metrics and Gatherer are optional.
	Metrics  *telemetry.HTTPMetrics
	Gatherer prometheus.Gatherer
}

type HTTPServer struct {
	service    *Service
	verifier   *auth.Verifier
	corsOrigin string
	logger     zerolog.Logger
	metrics    *telemetry.HTTPMetrics
	gatherer   prometheus.Gatherer
}

func NewHTTPServer(service *Service, opts HTTPOptions) *HTTPServer {
	return &HTTPServer{
		service:    service,
		verifier:   opts.Verifier,
		corsOrigin: opts.CORSOrigin,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		gatherer:   opts.Gatherer,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	var handler http.Handler = s.routes()
	if s.metrics != nil {
		handler = s.metrics.Middleware(handler)
	}
	return otelhttp.NewHandler(s.withMiddleware(handler), "folio-api")
}

func (s *HTTPServer) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	mux.HandleFunc("POST /api/documents", s.handleCreateDocument)
	mux.HandleFunc("GET /api/documents/{documentId}", s.handleGetDocument)
	mux.HandleFunc("PATCH /api/documents/{documentId}", s.handleUpdateDocument)
	mux.HandleFunc("DELETE /api/documents/{documentId}", s.handleDeleteDocument)
	mux.HandleFunc("PUT /api/documents/{documentId}/shares", s.handleShareDocument)
	mux.HandleFunc("DELETE /api/documents/{documentId}/shares/{userId}", s.handleRevokeShare)

	mux.HandleFunc("GET /api/documents/{documentId}/branches", s.handleListBranches)
	mux.HandleFunc("POST /api/documents/{documentId}/branches", s.handleCreateBranch)
	mux.HandleFunc("GET /api/documents/{documentId}/branches/{branchId}", s.handleGetBranch)
	mux.HandleFunc("PATCH /api/documents/{documentId}/branches/{branchId}", s.handleUpdateBranch)
	mux.HandleFunc("DELETE /api/documents/{documentId}/branches/{branchId}", s.handleDeleteBranch)
	mux.HandleFunc("POST /api/documents/{documentId}/branches/{branchId}/trash", s.handleTrashBranch)
	mux.HandleFunc("POST /api/documents/{documentId}/branches/{branchId}/untrash", s.handleUntrashBranch)
	mux.HandleFunc("GET /api/documents/{documentId}/branches/{branchId}/content", s.handleGetBranchContent)
	mux.HandleFunc("PUT /api/documents/{documentId}/branches/{branchId}/content", s.handleUpdateBranchContent)
	mux.HandleFunc("POST /api/documents/{documentId}/branches/{branchId}/merge-branch", s.handleMergeBranch)
	mux.HandleFunc("POST /api/documents/{documentId}/branches/{branchId}/merge-version", s.handleMergeVersion)
	mux.HandleFunc("POST /api/documents/{documentId}/branches/{branchId}/restore", s.handleRestore)
	mux.HandleFunc("POST /api/documents/{documentId}/branches/{branchId}/patch", s.handleApplyPatch)
	mux.HandleFunc("GET /api/documents/{documentId}/branches/{branchId}/archive", s.handleArchiveHistory)
	mux.HandleFunc("GET /api/documents/{documentId}/branches/{branchId}/archive/{commit}", s.handleArchiveContent)
	mux.HandleFunc("GET /api/documents/{documentId}/branches/{branchId}/versions", s.handleListVersions)
	mux.HandleFunc("POST /api/documents/{documentId}/branches/{branchId}/versions", s.handleCreateVersion)

	mux.HandleFunc("GET /api/documents/{documentId}/versions/{versionId}", s.handleGetVersion)
	mux.HandleFunc("GET /api/documents/{documentId}/versions/{versionId}/content", s.handleGetVersionContent)
	mux.HandleFunc("GET /api/documents/{documentId}/versions/{baseId}/diff/{compareId}", s.handleDiffVersions)
	mux.HandleFunc("GET /api/documents/{documentId}/versions/{baseId}/patch/{compareId}", s.handleVersionPatch)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	return mux
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
		"cache":    map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	// The cache only degrades latency, so it never flips readiness.
	if err := s.service.PingCache(ctx); err != nil {
		checks["cache"] = map[string]any{
			"status": "degraded",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	docs, err := s.service.ListDocuments(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		items = append(items, toDocumentResponse(doc, userID))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": items})
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		Title   string       `json:"title"`
		Status  store.Status `json:"status"`
		Content string       `json:"content"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	detail, err := s.service.CreateDocument(r.Context(), userID, CreateDocumentInput{
		Title:   body.Title,
		Status:  body.Status,
		Content: body.Content,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"document":   toDocumentResponse(detail.Document, userID),
		"mainBranch": toBranchResponse(detail.Main),
	})
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.optionalUser(w, r)
	if !ok {
		return
	}
	doc, err := s.service.GetDocument(r.Context(), userID, r.PathValue("documentId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": toDocumentResponse(doc, userID)})
}

func (s *HTTPServer) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		Title    *string       `json:"title"`
		Status   *store.Status `json:"status"`
		Favorite *bool         `json:"favorite"`
		Trashed  *bool         `json:"trashed"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	doc, err := s.service.UpdateDocument(r.Context(), userID, r.PathValue("documentId"), DocumentPatch{
		Title:    body.Title,
		Status:   body.Status,
		Favorite: body.Favorite,
		Trashed:  body.Trashed,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": toDocumentResponse(doc, userID)})
}

func (s *HTTPServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteDocument(r.Context(), userID, r.PathValue("documentId")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleShareDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		UserID     int64            `json:"userId"`
		Permission store.Permission `json:"permission"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	grant, err := s.service.ShareDocument(r.Context(), userID, r.PathValue("documentId"), body.UserID, body.Permission)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"share": toShareResponse(grant)})
}

func (s *HTTPServer) handleRevokeShare(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	targetUserID, err := strconv.ParseInt(r.PathValue("userId"), 10, 64)
	if err != nil || targetUserID <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "userId must be a positive integer", nil)
		return
	}
	if err := s.service.RevokeShare(r.Context(), userID, r.PathValue("documentId"), targetUserID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleListBranches(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.optionalUser(w, r)
	if !ok {
		return
	}
	trashed := strings.EqualFold(r.URL.Query().Get("trashed"), "true")
	branches, err := s.service.ListBranches(r.Context(), userID, r.PathValue("documentId"), trashed)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]branchResponse, 0, len(branches))
	for _, b := range branches {
		items = append(items, toBranchResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"branches": items})
}

func (s *HTTPServer) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		SourceVersionID string       `json:"sourceVersionId"`
		Name            string       `json:"name"`
		Status          store.Status `json:"status"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.SourceVersionID) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "sourceVersionId is required", nil)
		return
	}
	branch, err := s.service.CreateBranch(r.Context(), userID, r.PathValue("documentId"), body.SourceVersionID, body.Name, body.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"branch": toBranchResponse(branch)})
}

func (s *HTTPServer) handleGetBranch(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.optionalUser(w, r)
	if !ok {
		return
	}
	branch, err := s.service.GetBranch(r.Context(), userID, r.PathValue("documentId"), r.PathValue("branchId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branch": toBranchResponse(branch)})
}

func (s *HTTPServer) handleUpdateBranch(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		Name   *string       `json:"name"`
		Status *store.Status `json:"status"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	branch, err := s.service.UpdateBranch(r.Context(), userID, r.PathValue("documentId"), r.PathValue("branchId"), BranchPatch{
		Name:   body.Name,
		Status: body.Status,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branch": toBranchResponse(branch)})
}

func (s *HTTPServer) handleDeleteBranch(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteBranch(r.Context(), userID, r.PathValue("documentId"), r.PathValue("branchId")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleTrashBranch(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	branch, err := s.service.TrashBranch(r.Context(), userID, r.PathValue("documentId"), r.PathValue("branchId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branch": toBranchResponse(branch)})
}

func (s *HTTPServer) handleUntrashBranch(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	branch, err := s.service.UntrashBranch(r.Context(), userID, r.PathValue("documentId"), r.PathValue("branchId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branch": toBranchResponse(branch)})
}

func (s *HTTPServer) handleGetBranchContent(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.optionalUser(w, r)
	if !ok {
		return
	}
	content, err := s.service.GetBranchContent(r.Context(), userID, r.PathValue("documentId"), r.PathValue("branchId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": content})
}

func (s *HTTPServer) handleUpdateBranchContent(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		Content *string `json:"content"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if body.Content == nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "content is required", nil)
		return
	}
	version, err := s.service.UpdateBranchContent(r.Context(), userID, r.PathValue("documentId"), r.PathValue("branchId"), *body.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": toVersionResponse(version)})
}

func (s *HTTPServer) handleMergeBranch(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		SourceBranchID string `json:"sourceBranchId"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.SourceBranchID) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "sourceBranchId is required", nil)
		return
	}
	if _, err := s.service.MergeBranchIntoBranch(r.Context(), userID, r.PathValue("documentId"), body.SourceBranchID, r.PathValue("branchId")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleMergeVersion(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	versionID, ok := s.versionIDBody(w, r)
	if !ok {
		return
	}
	if _, err := s.service.MergeVersionIntoBranch(r.Context(), userID, r.PathValue("documentId"), r.PathValue("branchId"), versionID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleRestore(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	versionID, ok := s.versionIDBody(w, r)
	if !ok {
		return
	}
	if err := s.service.RestoreBranchToVersion(r.Context(), userID, r.PathValue("documentId"), r.PathValue("branchId"), versionID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleApplyPatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		Patch *string `json:"patch"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if body.Patch == nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "patch is required", nil)
		return
	}
	version, err := s.service.ApplyBranchPatch(r.Context(), userID, r.PathValue("documentId"), r.PathValue("branchId"), *body.Patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": toVersionResponse(version)})
}

func (s *HTTPServer) handleArchiveHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.optionalUser(w, r)
	if !ok {
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "limit must be a non-negative integer", nil)
			return
		}
		limit = parsed
	}
	commits, err := s.service.ArchiveHistory(r.Context(), userID, r.PathValue("documentId"), r.PathValue("branchId"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]commitResponse, 0, len(commits))
	for _, c := range commits {
		items = append(items, toCommitResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": items})
}

func (s *HTTPServer) handleArchiveContent(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.optionalUser(w, r)
	if !ok {
		return
	}
	commit, content, err := s.service.ArchiveContent(r.Context(), userID, r.PathValue("documentId"), r.PathValue("branchId"), r.PathValue("commit"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commit":  toCommitResponse(commit),
		"content": content,
	})
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.optionalUser(w, r)
	if !ok {
		return
	}
	page := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "page must be a non-negative integer", nil)
			return
		}
		page = parsed
	}
	result, err := s.service.ListVersions(r.Context(), userID, r.PathValue("documentId"), r.PathValue("branchId"), page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]versionResponse, 0, len(result.Items))
	for _, v := range result.Items {
		items = append(items, toVersionResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"versions": items,
		"page":     page,
		"pageSize": s.service.PageSize(),
		"total":    result.Total,
	})
}

func (s *HTTPServer) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		Name   string       `json:"name"`
		Status store.Status `json:"status"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	version, err := s.service.CreateVersion(r.Context(), userID, r.PathValue("documentId"), r.PathValue("branchId"), CreateVersionInput{
		Name:   strings.TrimSpace(body.Name),
		Status: body.Status,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"version": toVersionResponse(version)})
}

func (s *HTTPServer) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.optionalUser(w, r)
	if !ok {
		return
	}
	version, err := s.service.GetVersion(r.Context(), userID, r.PathValue("documentId"), r.PathValue("versionId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": toVersionResponse(version)})
}

func (s *HTTPServer) handleGetVersionContent(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.optionalUser(w, r)
	if !ok {
		return
	}
	content, err := s.service.GetVersionContent(r.Context(), userID, r.PathValue("documentId"), r.PathValue("versionId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": content})
}

func (s *HTTPServer) handleDiffVersions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.optionalUser(w, r)
	if !ok {
		return
	}
	diffs, err := s.service.DiffVersions(r.Context(), userID, r.PathValue("documentId"), r.PathValue("baseId"), r.PathValue("compareId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diffs)
}

func (s *HTTPServer) handleVersionPatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.optionalUser(w, r)
	if !ok {
		return
	}
	patch, err := s.service.VersionPatch(r.Context(), userID, r.PathValue("documentId"), r.PathValue("baseId"), r.PathValue("compareId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"patch": patch.String(),
		"hunks": patch.Len(),
	})
}

func (s *HTTPServer) versionIDBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body struct {
		VersionID string `json:"versionId"`
	}
	if !s.decode(w, r, &body) {
		return "", false
	}
	if strings.TrimSpace(body.VersionID) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "versionId is required", nil)
		return "", false
	}
	return body.VersionID, true
}

// optionalUser resolves the caller, treating a missing token as anonymous.
// A token that is present but invalid is still rejected.
func (s *HTTPServer) optionalUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	token := bearerToken(r)
	if token == "" {
		return 0, true
	}
	userID, err := s.verifier.UserID(token)
	if err != nil {
		s.fail(w, r, err)
		return 0, false
	}
	return userID, true
}

func (s *HTTPServer) requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := s.optionalUser(w, r)
	if !ok {
		return 0, false
	}
	if userID == 0 {
		s.fail(w, r, ErrUnauthenticated)
		return 0, false
	}
	return userID, true
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return false
	}
	return true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	mapped := mapError(err)
	if mapped.Status >= http.StatusInternalServerError {
		s.logger.Error().
			Err(err).
			Str("request_id", requestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeError(w, mapped.Status, mapped.Code, mapped.Message, mapped.Details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

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
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
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
