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

func newNotificationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestNotificationRepositoryCreateAndList(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	notification := &models.Notification{
		UserID:   "prof-1",
		AppealID: "appeal-1",
		Kind:     models.NotificationKindAppealTransition,
		Title:    "Appeal updated",
		Body:     "Appeal moved to REVISED",
	}
	require.NoError(t, repo.Create(context.Background(), notification))
	require.NotEmpty(t, notification.ID)

	rows := sqlmock.NewRows([]string{"id", "user_id", "appeal_id", "kind", "title", "body", "read", "created_at"}).
		AddRow(notification.ID, "prof-1", "appeal-1", "APPEAL_TRANSITION", "Appeal updated", "Appeal moved to REVISED", false, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, appeal_id")).
		WithArgs("prof-1").
		WillReturnRows(rows)

	list, err := repo.ListByUser(context.Background(), "prof-1", true, 20)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.False(t, list[0].Read)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryMarkReadScoped(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read = TRUE")).
		WithArgs("notif-1", "prof-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkRead(context.Background(), "notif-1", "prof-1"))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read = TRUE")).
		WithArgs("notif-1", "intruder").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.MarkRead(context.Background(), "notif-1", "intruder")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
