package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-appeal-api/internal/dto"
	"github.com/noah-isme/uni-appeal-api/internal/models"
	appErrors "github.com/noah-isme/uni-appeal-api/pkg/errors"
)

type appealListerStub struct {
	appeals []models.Appeal
	query   dto.AppealQuery
}

func (l *appealListerStub) List(ctx context.Context, query dto.AppealQuery, actor *models.JWTClaims) ([]models.Appeal, error) {
	l.query = query
	return l.appeals, nil
}

func exportFixtures() []models.Appeal {
	citation := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return []models.Appeal{
		{
			ID:           "appeal-1",
			Type:         models.AppealTypeEvaluation,
			State:        models.AppealStateCited,
			StudentID:    "student-1",
			ProfessorID:  "prof-1",
			CitationDate: &citation,
			CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Student:      &models.UserInfo{ID: "student-1", FullName: "Ada Student"},
			Professor:    &models.UserInfo{ID: "prof-1", FullName: "Grace Professor"},
		},
	}
}

func TestExportServiceCSV(t *testing.T) {
	lister := &appealListerStub{appeals: exportFixtures()}
	svc := NewExportService(lister, nil, nil, nil)

	result, err := svc.ExportAppeals(context.Background(), dto.AppealQuery{}, professorClaims("prof-1"), "csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Contains(t, result.Filename, ".csv")

	content := string(result.Content)
	assert.Contains(t, content, "ID")
	assert.Contains(t, content, "appeal-1")
	assert.Contains(t, content, "Ada Student")
	assert.Contains(t, content, "CITED")
}

func TestExportServicePDF(t *testing.T) {
	lister := &appealListerStub{appeals: exportFixtures()}
	svc := NewExportService(lister, nil, nil, nil)

	result, err := svc.ExportAppeals(context.Background(), dto.AppealQuery{}, adminClaims(), "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	require.True(t, len(result.Content) > 4)
	assert.Equal(t, "%PDF", string(result.Content[:4]))
}

func TestExportServiceRejectsStudents(t *testing.T) {
	svc := NewExportService(&appealListerStub{}, nil, nil, nil)

	_, err := svc.ExportAppeals(context.Background(), dto.AppealQuery{}, studentClaims("student-1"), "csv")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestExportServiceRejectsUnknownFormat(t *testing.T) {
	svc := NewExportService(&appealListerStub{}, nil, nil, nil)

	_, err := svc.ExportAppeals(context.Background(), dto.AppealQuery{}, adminClaims(), "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
