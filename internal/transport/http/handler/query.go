package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"compliance-doc-engine/internal/app"
	"compliance-doc-engine/internal/transport/http/response"
)

type QueryHandler struct {
	queryService *app.QueryService
}

func NewQueryHandler(queryService *app.QueryService) *QueryHandler {
	return &QueryHandler{queryService: queryService}
}

type QueryRequest struct {
	Text           string   `json:"text" binding:"required"`
	OrganizationID uint     `json:"organization_id"`
	AssessmentID   uint     `json:"assessment_id"`
	ControlID      uint     `json:"control_id"`
	DocumentIDs    []uint   `json:"document_ids"`
	TopK           int      `json:"top_k"`
	MinSimilarity  *float32 `json:"min_similarity"`
}

// Search ranks the caller's completed chunks against the query text.
func (h *QueryHandler) Search(c *gin.Context) {
	ident, ok := getIdentityFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	organizationID := req.OrganizationID
	if organizationID == 0 {
		organizationID = ident.OrganizationID
	}

	result, err := h.queryService.Query(c.Request.Context(), app.QueryInput{
		UserID:         ident.UserID,
		OrganizationID: organizationID,
		AssessmentID:   req.AssessmentID,
		ControlID:      req.ControlID,
		DocumentIDs:    req.DocumentIDs,
		Text:           req.Text,
		TopK:           req.TopK,
		MinSimilarity:  req.MinSimilarity,
	})
	if err != nil {
		writeServiceError(c, err, "query failed")
		return
	}
	response.OK(c, result)
}
