package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-appeal-api/internal/dto"
	"github.com/noah-isme/uni-appeal-api/internal/models"
	appErrors "github.com/noah-isme/uni-appeal-api/pkg/errors"
	"github.com/noah-isme/uni-appeal-api/pkg/export"
)

type appealLister interface {
	List(ctx context.Context, query dto.AppealQuery, actor *models.JWTClaims) ([]models.Appeal, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportResult carries a rendered export ready to stream.
type ExportResult struct {
	Content     []byte
	ContentType string
	Filename    string
}

// ExportService renders appeal listings as CSV or PDF downloads for
// professors and administrators.
type ExportService struct {
	appeals appealLister
	csv     csvRenderer
	pdf     pdfRenderer
	logger  *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(appeals appealLister, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{appeals: appeals, csv: csv, pdf: pdf, logger: logger}
}

// ExportAppeals renders the appeals visible to the caller in the
// requested format.
func (s *ExportService) ExportAppeals(ctx context.Context, query dto.AppealQuery, actor *models.JWTClaims, format string) (*ExportResult, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if actor.Role != models.RoleProfessor && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "exports are limited to professors and administrators")
	}

	format = strings.ToLower(strings.TrimSpace(format))
	if format != "csv" && format != "pdf" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	appeals, err := s.appeals.List(ctx, query, actor)
	if err != nil {
		return nil, err
	}

	dataset := buildAppealDataset(appeals)
	stamp := time.Now().UTC().Format("20060102-150405")

	if format == "csv" {
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("appeals-%s.csv", stamp),
		}, nil
	}

	content, err := s.pdf.Render(dataset, "Appeal Overview")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
	}
	return &ExportResult{
		Content:     content,
		ContentType: "application/pdf",
		Filename:    fmt.Sprintf("appeals-%s.pdf", stamp),
	}, nil
}

func buildAppealDataset(appeals []models.Appeal) export.Dataset {
	dataset := export.Dataset{
		Headers: []string{"ID", "Type", "State", "Student", "Professor", "Citation Date", "Created At"},
		Rows:    make([][]string, 0, len(appeals)),
	}
	for _, appeal := range appeals {
		citation := ""
		if appeal.CitationDate != nil {
			citation = appeal.CitationDate.UTC().Format(time.RFC3339)
		}
		student := appeal.StudentID
		if appeal.Student != nil {
			student = appeal.Student.FullName
		}
		professor := appeal.ProfessorID
		if appeal.Professor != nil {
			professor = appeal.Professor.FullName
		}
		dataset.AddRow(
			appeal.ID,
			string(appeal.Type),
			string(appeal.State),
			student,
			professor,
			citation,
			appeal.CreatedAt.UTC().Format(time.RFC3339),
		)
	}
	return dataset
}
