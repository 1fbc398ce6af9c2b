package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-appeal-api/internal/models"
)

func newAppealRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func appealRows(id string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "type", "message", "state", "attachment", "attachment_name", "attachment_mime",
		"professor_response", "citation_date", "edit_deadline", "can_edit", "student_id", "professor_id",
		"created_at", "updated_at", "student_email", "student_name", "professor_email", "professor_name",
	}).AddRow(id, "EVALUATION", "Solicito revision del examen", "PENDING", nil, nil, nil,
		nil, nil, nil, true, "student-1", "prof-1",
		now, now, "student@uni.edu", "Sam Student", "prof@uni.edu", "Pat Professor")
}

func TestAppealRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newAppealRepoMock(t)
	defer cleanup()

	repo := NewAppealRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO appeals")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	appeal := &models.Appeal{
		Type:        models.AppealTypeEvaluation,
		Message:     "Solicito revision del examen",
		CanEdit:     true,
		StudentID:   "student-1",
		ProfessorID: "prof-1",
	}
	require.NoError(t, repo.Create(context.Background(), appeal))
	require.NotEmpty(t, appeal.ID)
	require.Equal(t, models.AppealStatePending, appeal.State)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT a.id, a.type, a.message")).
		WithArgs(appeal.ID).
		WillReturnRows(appealRows(appeal.ID))

	found, err := repo.GetByID(context.Background(), appeal.ID)
	require.NoError(t, err)
	require.Equal(t, appeal.ID, found.ID)
	require.NotNil(t, found.Student)
	require.Equal(t, "student@uni.edu", found.Student.Email)
	require.NotNil(t, found.Professor)
	require.Equal(t, models.RoleProfessor, found.Professor.Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppealRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newAppealRepoMock(t)
	defer cleanup()

	repo := NewAppealRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT a.id, a.type, a.message")).
		WithArgs("PENDING", "CITED", "prof-1").
		WillReturnRows(appealRows("appeal-1"))

	list, err := repo.List(context.Background(), models.AppealFilter{
		States:      []models.AppealState{models.AppealStatePending, models.AppealStateCited},
		ProfessorID: "prof-1",
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "appeal-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppealRepositoryApplyTransitionGuard(t *testing.T) {
	db, mock, cleanup := newAppealRepoMock(t)
	defer cleanup()

	repo := NewAppealRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE appeals SET state")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err := repo.ApplyTransition(context.Background(), TransitionParams{
		ID:        "appeal-1",
		FromState: models.AppealStatePending,
		ToState:   models.AppealStateRevised,
		CanEdit:   true,
		UpdatedAt: now,
	})
	require.NoError(t, err)

	// concurrent mutation: the guarded update matches no row
	mock.ExpectExec(regexp.QuoteMeta("UPDATE appeals SET state")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.ApplyTransition(context.Background(), TransitionParams{
		ID:        "appeal-1",
		FromState: models.AppealStatePending,
		ToState:   models.AppealStateRevised,
		UpdatedAt: now,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppealRepositoryStudentEditGuard(t *testing.T) {
	db, mock, cleanup := newAppealRepoMock(t)
	defer cleanup()

	repo := NewAppealRepository(db)
	message := "Nuevo mensaje de apelacion"

	mock.ExpectExec(regexp.QuoteMeta("UPDATE appeals SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.ApplyStudentEdit(context.Background(), StudentEditParams{
		ID:        "appeal-1",
		Message:   &message,
		UpdatedAt: time.Now().UTC(),
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppealRepositoryDeleteOnlyPending(t *testing.T) {
	db, mock, cleanup := newAppealRepoMock(t)
	defer cleanup()

	repo := NewAppealRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM appeals WHERE id = $1 AND state = 'PENDING'")).
		WithArgs("appeal-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "appeal-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
