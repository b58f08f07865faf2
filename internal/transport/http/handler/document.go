package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"compliance-doc-engine/internal/app"
	"compliance-doc-engine/internal/model"
	"compliance-doc-engine/internal/repository"
	"compliance-doc-engine/internal/transport/http/middleware"
	"compliance-doc-engine/internal/transport/http/response"
)

// UploadDefaults fills chunking parameters the caller omitted.
type UploadDefaults struct {
	ChunkSize    int
	ChunkOverlap int
	Strategy     string
}

type DocumentHandler struct {
	ingestService *app.IngestService
	maxFileBytes  int64
	defaults      UploadDefaults
}

func NewDocumentHandler(ingestService *app.IngestService, maxFileBytes int64, defaults UploadDefaults) *DocumentHandler {
	return &DocumentHandler{
		ingestService: ingestService,
		maxFileBytes:  maxFileBytes,
		defaults:      defaults,
	}
}

// Upload accepts a multipart form with "file" plus optional scope and chunking
// fields, stores the document in pending state, and enqueues processing.
func (h *DocumentHandler) Upload(c *gin.Context) {
	identity, ok := getIdentityFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > h.maxFileBytes {
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, "file too large")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxFileBytes+1))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	if int64(len(data)) > h.maxFileBytes {
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, "file too large")
		return
	}

	fileType := strings.TrimPrefix(strings.ToLower(filepath.Ext(file.Filename)), ".")
	if override := strings.TrimSpace(c.PostForm("file_type")); override != "" {
		fileType = strings.ToLower(override)
	}

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		title = strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))
	}

	chunkSize := parseIntForm(c, "chunk_size", h.defaults.ChunkSize)
	chunkOverlap := parseIntForm(c, "chunk_overlap", h.defaults.ChunkOverlap)
	strategy := strings.TrimSpace(c.PostForm("strategy"))
	if strategy == "" {
		strategy = h.defaults.Strategy
	}

	autoEmbed := true
	if raw := strings.TrimSpace(c.PostForm("auto_embed")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid auto_embed value")
			return
		}
		autoEmbed = parsed
	}

	var metadata map[string]any
	if raw := strings.TrimSpace(c.PostForm("metadata")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "metadata must be a JSON object")
			return
		}
	}

	organizationID := parseUintForm(c, "organization_id")
	if organizationID == 0 {
		organizationID = identity.OrganizationID
	}

	doc, err := h.ingestService.Ingest(c.Request.Context(), app.IngestInput{
		UserID:         identity.UserID,
		OrganizationID: organizationID,
		AssessmentID:   parseUintForm(c, "assessment_id"),
		ControlID:      parseUintForm(c, "control_id"),
		Title:          title,
		FileType:       fileType,
		Data:           data,
		ChunkSize:      chunkSize,
		ChunkOverlap:   chunkOverlap,
		Strategy:       strategy,
		AutoEmbed:      autoEmbed,
		Metadata:       metadata,
	})
	if err != nil {
		writeServiceError(c, err, "upload failed")
		return
	}
	c.JSON(http.StatusAccepted, response.APIResponse{
		Code:    response.CodeOK,
		Message: "ok",
		Data:    documentView(doc),
	})
}

func (h *DocumentHandler) List(c *gin.Context) {
	identity, ok := getIdentityFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	filter := repository.ListFilter{
		UserID:         identity.UserID,
		OrganizationID: identity.OrganizationID,
		AssessmentID:   parseUintQuery(c, "assessment_id"),
		ControlID:      parseUintQuery(c, "control_id"),
		FileType:       strings.ToLower(strings.TrimSpace(c.Query("file_type"))),
		Page:           int(parseUintQuery(c, "page")),
		PageSize:       int(parseUintQuery(c, "page_size")),
	}

	docs, total, err := h.ingestService.ListDocuments(filter)
	if err != nil {
		writeServiceError(c, err, "list documents failed")
		return
	}

	views := make([]gin.H, len(docs))
	for i := range docs {
		views[i] = documentView(&docs[i])
	}
	response.OK(c, gin.H{
		"documents": views,
		"total":     total,
	})
}

func (h *DocumentHandler) Get(c *gin.Context) {
	identity, ok := getIdentityFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	docID, err := parseUintParam(c, "id")
	if err != nil || docID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}

	doc, err := h.ingestService.GetDocument(identity.UserID, docID)
	if err != nil {
		writeServiceError(c, err, "get document failed")
		return
	}
	response.OK(c, documentView(doc))
}

func (h *DocumentHandler) Status(c *gin.Context) {
	identity, ok := getIdentityFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	docID, err := parseUintParam(c, "id")
	if err != nil || docID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}

	status, err := h.ingestService.GetStatus(c.Request.Context(), identity.UserID, docID)
	if err != nil {
		writeServiceError(c, err, "get status failed")
		return
	}
	response.OK(c, status)
}

type ReprocessRequest struct {
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap *int   `json:"chunk_overlap"`
	Strategy     string `json:"strategy"`
}

func (h *DocumentHandler) Reprocess(c *gin.Context) {
	identity, ok := getIdentityFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	docID, err := parseUintParam(c, "id")
	if err != nil || docID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}

	var req ReprocessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	if req.ChunkSize == 0 {
		req.ChunkSize = h.defaults.ChunkSize
	}
	overlap := h.defaults.ChunkOverlap
	if req.ChunkOverlap != nil {
		overlap = *req.ChunkOverlap
	}
	if req.Strategy == "" {
		req.Strategy = h.defaults.Strategy
	}

	doc, err := h.ingestService.Reprocess(c.Request.Context(), identity.UserID, docID, req.ChunkSize, overlap, req.Strategy)
	if err != nil {
		writeServiceError(c, err, "reprocess failed")
		return
	}
	c.JSON(http.StatusAccepted, response.APIResponse{
		Code:    response.CodeOK,
		Message: "ok",
		Data:    documentView(doc),
	})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	identity, ok := getIdentityFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	docID, err := parseUintParam(c, "id")
	if err != nil || docID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}

	if err := h.ingestService.DeleteDocument(c.Request.Context(), identity.UserID, docID); err != nil {
		writeServiceError(c, err, "delete document failed")
		return
	}
	response.OK(c, gin.H{"deleted_document_id": docID})
}

func documentView(doc *model.Document) gin.H {
	return gin.H{
		"id":              doc.ID,
		"title":           doc.Title,
		"file_type":       doc.FileType,
		"file_size":       doc.FileSize,
		"text_length":     doc.TextLength,
		"status":          doc.Status,
		"error_kind":      doc.ErrorKind,
		"error_detail":    doc.ErrorDetail,
		"chunk_count":     doc.ChunkCount,
		"embedding_count": doc.EmbeddingCount,
		"chunk_size":      doc.ChunkSize,
		"chunk_overlap":   doc.ChunkOverlap,
		"strategy":        doc.Strategy,
		"auto_embed":      doc.AutoEmbed,
		"organization_id": doc.OrganizationID,
		"assessment_id":   doc.AssessmentID,
		"control_id":      doc.ControlID,
		"metadata":        doc.MetadataMap(),
		"created_at":      doc.CreatedAt,
		"updated_at":      doc.UpdatedAt,
	}
}

// writeServiceError maps service errors to the HTTP error taxonomy.
func writeServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, model.ErrUnsupportedFormat):
		response.Error(c, http.StatusBadRequest, response.CodeUnsupportedFormat, err.Error())
	case errors.Is(err, model.ErrInvalidChunkConfig):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidChunkConfig, err.Error())
	case errors.Is(err, model.ErrInvalidQueryConfig):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidQueryConfig, err.Error())
	case errors.Is(err, model.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
	case errors.Is(err, app.ErrDocumentBusy):
		response.Error(c, http.StatusConflict, response.CodeDocumentBusy, err.Error())
	case errors.Is(err, model.ErrScopeViolation):
		// An invariant failure in candidate filtering, not a caller mistake.
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

type identity struct {
	UserID         uint
	OrganizationID uint
}

func getIdentityFromContext(c *gin.Context) (identity, bool) {
	userIDAny, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return identity{}, false
	}
	userID, ok := userIDAny.(uint)
	if !ok || userID == 0 {
		return identity{}, false
	}
	orgID := uint(0)
	if orgIDAny, exists := c.Get(middleware.ContextOrganizationIDKey); exists {
		orgID, _ = orgIDAny.(uint)
	}
	return identity{UserID: userID, OrganizationID: orgID}, true
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	s := c.Param(key)
	u, err := strconv.ParseUint(s, 10, 64)
	return uint(u), err
}

func parseUintForm(c *gin.Context, key string) uint {
	s := c.PostForm(key)
	if s == "" {
		return 0
	}
	u, _ := strconv.ParseUint(s, 10, 64)
	return uint(u)
}

func parseUintQuery(c *gin.Context, key string) uint {
	s := c.Query(key)
	if s == "" {
		return 0
	}
	u, _ := strconv.ParseUint(s, 10, 64)
	return uint(u)
}

func parseIntForm(c *gin.Context, key string, fallback int) int {
	s := c.PostForm(key)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
