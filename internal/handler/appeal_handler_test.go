package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-appeal-api/internal/dto"
	"github.com/noah-isme/uni-appeal-api/internal/middleware"
	"github.com/noah-isme/uni-appeal-api/internal/models"
	"github.com/noah-isme/uni-appeal-api/internal/service"
	appErrors "github.com/noah-isme/uni-appeal-api/pkg/errors"
)

type appealServiceMock struct {
	appeal        *models.Appeal
	appeals       []models.Appeal
	err           error
	lastCreateReq dto.CreateAppealRequest
	lastEditReq   dto.EditAppealRequest
	lastTransReq  dto.TransitionAppealRequest
	deleted       []string
}

func (m *appealServiceMock) Create(ctx context.Context, req dto.CreateAppealRequest, actor *models.JWTClaims) (*models.Appeal, error) {
	m.lastCreateReq = req
	return m.appeal, m.err
}

func (m *appealServiceMock) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Appeal, error) {
	return m.appeal, m.err
}

func (m *appealServiceMock) List(ctx context.Context, query dto.AppealQuery, actor *models.JWTClaims) ([]models.Appeal, error) {
	return m.appeals, m.err
}

func (m *appealServiceMock) Edit(ctx context.Context, id string, req dto.EditAppealRequest, actor *models.JWTClaims) (*models.Appeal, error) {
	m.lastEditReq = req
	return m.appeal, m.err
}

func (m *appealServiceMock) Transition(ctx context.Context, id string, req dto.TransitionAppealRequest, actor *models.JWTClaims) (*models.Appeal, error) {
	m.lastTransReq = req
	return m.appeal, m.err
}

func (m *appealServiceMock) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	m.deleted = append(m.deleted, id)
	return m.err
}

func (m *appealServiceMock) OpenAttachment(ctx context.Context, id string, actor *models.JWTClaims) (*os.File, *models.Appeal, error) {
	return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "appeal has no attachment")
}

func (m *appealServiceMock) GetForDownload(ctx context.Context, id, storedName string) (*os.File, *models.Appeal, error) {
	return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "attachment no longer available")
}

type exporterMock struct {
	result *service.ExportResult
	err    error
}

func (m *exporterMock) ExportAppeals(ctx context.Context, query dto.AppealQuery, actor *models.JWTClaims, format string) (*service.ExportResult, error) {
	return m.result, m.err
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func testClaims(role models.UserRole) *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-1", Role: role, Email: "user@uni.edu", FullName: "User"}
}

func sampleAppeal() *models.Appeal {
	return &models.Appeal{
		ID:          "appeal-1",
		Type:        models.AppealTypeEvaluation,
		Message:     "Please reconsider.",
		State:       models.AppealStatePending,
		CanEdit:     true,
		StudentID:   "user-1",
		ProfessorID: "prof-1",
	}
}

func TestAppealHandlerCreateJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &appealServiceMock{appeal: sampleAppeal()}
	h := NewAppealHandler(mockSvc, nil, nil)

	payload, _ := json.Marshal(dto.CreateAppealRequest{
		Type: "evaluation", ProfessorEmail: "prof@uni.edu", Message: "Please reconsider.",
	})
	c, w := newGinContext(http.MethodPost, "/appeals", payload)
	c.Set(middleware.ContextUserKey, testClaims(models.RoleStudent))

	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.AppealTypeEvaluation, mockSvc.lastCreateReq.Type)
}

func TestAppealHandlerCreateMultipart(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &appealServiceMock{appeal: sampleAppeal()}
	h := NewAppealHandler(mockSvc, nil, nil)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("type", "evaluation"))
	require.NoError(t, writer.WriteField("professorEmail", " prof@uni.edu "))
	require.NoError(t, writer.WriteField("message", "Please reconsider."))
	part, err := writer.CreateFormFile("attachment", "evidence.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/appeals", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.Request = req
	c.Set(middleware.ContextUserKey, testClaims(models.RoleStudent))

	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.AppealTypeEvaluation, mockSvc.lastCreateReq.Type)
	assert.Equal(t, "prof@uni.edu", mockSvc.lastCreateReq.ProfessorEmail)
	require.NotNil(t, mockSvc.lastCreateReq.Attachment)
	assert.Equal(t, "evidence.pdf", mockSvc.lastCreateReq.Attachment.Filename)
}

func TestAppealHandlerCreateUnauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewAppealHandler(&appealServiceMock{}, nil, nil)

	c, w := newGinContext(http.MethodPost, "/appeals", []byte(`{}`))
	h.Create(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAppealHandlerTransition(t *testing.T) {
	gin.SetMode(gin.TestMode)
	appeal := sampleAppeal()
	appeal.State = models.AppealStateRevised
	mockSvc := &appealServiceMock{appeal: appeal}
	h := NewAppealHandler(mockSvc, nil, nil)

	payload := []byte(`{"state":"revised"}`)
	c, w := newGinContext(http.MethodPost, "/appeals/appeal-1/transition", payload)
	c.Params = gin.Params{{Key: "id", Value: "appeal-1"}}
	c.Set(middleware.ContextUserKey, testClaims(models.RoleProfessor))

	h.Transition(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.AppealStateRevised, mockSvc.lastTransReq.State)
}

func TestAppealHandlerTransitionInvalidPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewAppealHandler(&appealServiceMock{}, nil, nil)

	c, w := newGinContext(http.MethodPost, "/appeals/appeal-1/transition", []byte(`{`))
	c.Params = gin.Params{{Key: "id", Value: "appeal-1"}}
	c.Set(middleware.ContextUserKey, testClaims(models.RoleProfessor))

	h.Transition(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAppealHandlerGetNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &appealServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "appeal not found")}
	h := NewAppealHandler(mockSvc, nil, nil)

	c, w := newGinContext(http.MethodGet, "/appeals/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	c.Set(middleware.ContextUserKey, testClaims(models.RoleStudent))

	h.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAppealHandlerEditJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &appealServiceMock{appeal: sampleAppeal()}
	h := NewAppealHandler(mockSvc, nil, nil)

	payload := []byte(`{"message":"Updated explanation text."}`)
	c, w := newGinContext(http.MethodPatch, "/appeals/appeal-1", payload)
	c.Params = gin.Params{{Key: "id", Value: "appeal-1"}}
	c.Set(middleware.ContextUserKey, testClaims(models.RoleStudent))

	h.Edit(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mockSvc.lastEditReq.Message)
	assert.Equal(t, "Updated explanation text.", *mockSvc.lastEditReq.Message)
}

func TestAppealHandlerDelete(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &appealServiceMock{}
	h := NewAppealHandler(mockSvc, nil, nil)

	c, w := newGinContext(http.MethodDelete, "/appeals/appeal-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "appeal-1"}}
	c.Set(middleware.ContextUserKey, testClaims(models.RoleAdmin))

	h.Delete(c)
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"appeal-1"}, mockSvc.deleted)
}

func TestAppealHandlerExport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	exporter := &exporterMock{result: &service.ExportResult{
		Content:     []byte("ID,State\nappeal-1,PENDING\n"),
		ContentType: "text/csv",
		Filename:    "appeals.csv",
	}}
	h := NewAppealHandler(&appealServiceMock{}, exporter, nil)

	c, w := newGinContext(http.MethodGet, "/appeals/export?format=csv", nil)
	c.Set(middleware.ContextUserKey, testClaims(models.RoleAdmin))

	h.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "appeals.csv")
	assert.Contains(t, w.Body.String(), "appeal-1")
}
