package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uni-appeal-api/internal/dto"
	"github.com/noah-isme/uni-appeal-api/internal/middleware"
	"github.com/noah-isme/uni-appeal-api/internal/models"
	"github.com/noah-isme/uni-appeal-api/internal/service"
	appErrors "github.com/noah-isme/uni-appeal-api/pkg/errors"
	"github.com/noah-isme/uni-appeal-api/pkg/response"
	"github.com/noah-isme/uni-appeal-api/pkg/storage"
)

type appealService interface {
	Create(ctx context.Context, req dto.CreateAppealRequest, actor *models.JWTClaims) (*models.Appeal, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Appeal, error)
	List(ctx context.Context, query dto.AppealQuery, actor *models.JWTClaims) ([]models.Appeal, error)
	Edit(ctx context.Context, id string, req dto.EditAppealRequest, actor *models.JWTClaims) (*models.Appeal, error)
	Transition(ctx context.Context, id string, req dto.TransitionAppealRequest, actor *models.JWTClaims) (*models.Appeal, error)
	Delete(ctx context.Context, id string, actor *models.JWTClaims) error
	OpenAttachment(ctx context.Context, id string, actor *models.JWTClaims) (*os.File, *models.Appeal, error)
	GetForDownload(ctx context.Context, id, storedName string) (*os.File, *models.Appeal, error)
}

type appealExporter interface {
	ExportAppeals(ctx context.Context, query dto.AppealQuery, actor *models.JWTClaims, format string) (*service.ExportResult, error)
}

// AppealHandler exposes REST endpoints for the appeal lifecycle.
type AppealHandler struct {
	service  appealService
	exporter appealExporter
	signer   *storage.SignedURLSigner
}

// NewAppealHandler constructs the handler.
func NewAppealHandler(service appealService, exporter appealExporter, signer *storage.SignedURLSigner) *AppealHandler {
	return &AppealHandler{service: service, exporter: exporter, signer: signer}
}

// Create godoc
// @Summary File a new appeal
// @Tags Appeals
// @Accept mpfd
// @Produce json
// @Param type formData string true "Appeal type"
// @Param professorEmail formData string true "Assigned professor email"
// @Param message formData string true "Appeal message"
// @Param attachment formData file false "Supporting document"
// @Success 201 {object} response.Envelope
// @Router /appeals [post]
func (h *AppealHandler) Create(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "appeal service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CreateAppealRequest
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		req.Type = models.AppealType(strings.ToUpper(strings.TrimSpace(c.PostForm("type"))))
		req.ProfessorEmail = strings.TrimSpace(c.PostForm("professorEmail"))
		req.Message = c.PostForm("message")
		if file, err := c.FormFile("attachment"); err == nil {
			req.Attachment = file
		}
	} else {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid appeal payload"))
			return
		}
		req.Type = models.AppealType(strings.ToUpper(string(req.Type)))
	}

	appeal, err := h.service.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, appeal)
}

// List godoc
// @Summary List appeals visible to the caller
// @Tags Appeals
// @Produce json
// @Param state query string false "Comma separated states"
// @Param type query string false "Appeal type"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} response.Envelope
// @Router /appeals [get]
func (h *AppealHandler) List(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "appeal service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	query := parseAppealQuery(c)
	appeals, err := h.service.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeals, nil, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Fetch a single appeal
// @Tags Appeals
// @Produce json
// @Param id path string true "Appeal ID"
// @Success 200 {object} response.Envelope
// @Router /appeals/{id} [get]
func (h *AppealHandler) Get(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "appeal service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	appeal, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeal, nil, middleware.ExtractMeta(c))
}

// Edit godoc
// @Summary Edit an appeal while the edit window is open
// @Tags Appeals
// @Accept mpfd
// @Produce json
// @Param id path string true "Appeal ID"
// @Success 200 {object} response.Envelope
// @Router /appeals/{id} [patch]
func (h *AppealHandler) Edit(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "appeal service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.EditAppealRequest
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if value, ok := c.GetPostForm("message"); ok {
			req.Message = &value
		}
		if value, ok := c.GetPostForm("professorEmail"); ok {
			trimmed := strings.TrimSpace(value)
			req.ProfessorEmail = &trimmed
		}
		if value, ok := c.GetPostForm("removeAttachment"); ok {
			req.RemoveAttachment = value == "true" || value == "1"
		}
		if file, err := c.FormFile("attachment"); err == nil {
			req.Attachment = file
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid edit payload"))
		return
	}

	appeal, err := h.service.Edit(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeal, nil)
}

// Transition godoc
// @Summary Apply a professor decision to an appeal
// @Tags Appeals
// @Accept json
// @Produce json
// @Param id path string true "Appeal ID"
// @Param payload body dto.TransitionAppealRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Router /appeals/{id}/transition [post]
func (h *AppealHandler) Transition(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "appeal service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.TransitionAppealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid transition payload"))
		return
	}
	req.State = models.AppealState(strings.ToUpper(string(req.State)))

	appeal, err := h.service.Transition(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeal, nil)
}

// Delete godoc
// @Summary Delete a pending appeal
// @Tags Appeals
// @Param id path string true "Appeal ID"
// @Success 204
// @Router /appeals/{id} [delete]
func (h *AppealHandler) Delete(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "appeal service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// DownloadAttachment godoc
// @Summary Stream the appeal attachment
// @Tags Appeals
// @Param id path string true "Appeal ID"
// @Success 200
// @Router /appeals/{id}/attachment [get]
func (h *AppealHandler) DownloadAttachment(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "appeal service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	file, appeal, err := h.service.OpenAttachment(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	streamAttachment(c, file, appeal)
}

// AttachmentLink godoc
// @Summary Issue a short-lived signed download link
// @Tags Appeals
// @Produce json
// @Param id path string true "Appeal ID"
// @Success 200 {object} response.Envelope
// @Router /appeals/{id}/attachment/link [get]
func (h *AppealHandler) AttachmentLink(c *gin.Context) {
	if h.service == nil || h.signer == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "appeal service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	appeal, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	if appeal.Attachment == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "appeal has no attachment"))
		return
	}

	token, expiresAt, err := h.signer.Generate(appeal.ID, *appeal.Attachment)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link"))
		return
	}

	response.JSON(c, http.StatusOK, gin.H{
		"url":        "/files/appeals?token=" + url.QueryEscape(token),
		"expires_at": expiresAt,
	}, nil)
}

// ServeSignedAttachment streams an attachment for a valid signed token.
// The token itself carries the authorization, no session is required.
func (h *AppealHandler) ServeSignedAttachment(c *gin.Context) {
	if h.service == nil || h.signer == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "appeal service not configured"))
		return
	}

	appealID, storedName, _, err := h.signer.Parse(c.Query("token"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "download link is invalid or expired"))
		return
	}

	file, appeal, err := h.service.GetForDownload(c.Request.Context(), appealID, storedName)
	if err != nil {
		response.Error(c, err)
		return
	}
	streamAttachment(c, file, appeal)
}

// Export godoc
// @Summary Export appeals as CSV or PDF
// @Tags Appeals
// @Produce octet-stream
// @Param format query string true "csv or pdf"
// @Success 200
// @Router /appeals/export [get]
func (h *AppealHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	result, err := h.exporter.ExportAppeals(c.Request.Context(), parseAppealQuery(c), claims, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Content)
}

func streamAttachment(c *gin.Context, file *os.File, appeal *models.Appeal) {
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat attachment"))
		return
	}

	contentType := "application/octet-stream"
	if appeal.AttachmentMime != nil {
		contentType = *appeal.AttachmentMime
	}
	filename := "attachment"
	if appeal.AttachmentName != nil {
		filename = *appeal.AttachmentName
	}

	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", filename),
	})
}

func parseAppealQuery(c *gin.Context) dto.AppealQuery {
	query := dto.AppealQuery{
		StudentID:   strings.TrimSpace(c.Query("studentId")),
		ProfessorID: strings.TrimSpace(c.Query("professorId")),
	}
	if rawType := c.Query("type"); rawType != "" {
		query.Type = models.AppealType(strings.ToUpper(strings.TrimSpace(rawType)))
	}
	if rawStates := c.Query("state"); rawStates != "" {
		parts := strings.Split(rawStates, ",")
		states := make([]models.AppealState, 0, len(parts))
		for _, part := range parts {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			states = append(states, models.AppealState(part))
		}
		query.States = states
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil {
		query.Limit = limit
	}
	if offset, err := strconv.Atoi(c.Query("offset")); err == nil {
		query.Offset = offset
	}
	return query
}
