package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-ai/atelier/pkg/database"
	"github.com/atelier-ai/atelier/pkg/models"
)

func newMockClient(t *testing.T) (*database.Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return database.NewClientFromDB(sqlx.NewDb(db, "sqlmock")), mock
}

func TestUserRegisterDuplicate(t *testing.T) {
	client, mock := newMockClient(t)
	svc := NewUserService(client)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := svc.Register(context.Background(), "alice", "pw")
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRegisterValidation(t *testing.T) {
	client, _ := newMockClient(t)
	svc := NewUserService(client)

	_, err := svc.Register(context.Background(), "", "pw")
	assert.True(t, IsValidationError(err))

	_, err = svc.Register(context.Background(), "alice", "")
	assert.True(t, IsValidationError(err))
}

func TestSetTitleIfEmpty(t *testing.T) {
	client, mock := newMockClient(t)
	svc := NewThreadService(client)

	t.Run("writes when title is null", func(t *testing.T) {
		mock.ExpectExec(`UPDATE threads SET title`).
			WithArgs("alice-123", "My title").
			WillReturnResult(sqlmock.NewResult(0, 1))

		wrote, err := svc.SetTitleIfEmpty(context.Background(), "alice-123", "My title")
		require.NoError(t, err)
		assert.True(t, wrote)
	})

	t.Run("skips when title already set", func(t *testing.T) {
		mock.ExpectExec(`UPDATE threads SET title`).
			WithArgs("alice-123", "Another").
			WillReturnResult(sqlmock.NewResult(0, 0))

		wrote, err := svc.SetTitleIfEmpty(context.Background(), "alice-123", "Another")
		require.NoError(t, err)
		assert.False(t, wrote)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginValidationOnlyFromPending(t *testing.T) {
	client, mock := newMockClient(t)
	svc := NewSkillService(client, t.TempDir(), t.TempDir())

	mock.ExpectExec(`UPDATE skills SET status`).
		WithArgs("sk-1", models.SkillStatusValidating, models.StageLayer1, models.SkillStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.BeginValidation(context.Background(), "sk-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeTasksMarksNew(t *testing.T) {
	old := []models.ValidationTask{
		{TaskID: "t1", Text: "a"},
		{TaskID: "t2", Text: "b"},
		{TaskID: "t3", Text: "c"},
	}
	fresh := []models.ValidationTask{
		{TaskID: "t4", Text: "d"},
		{TaskID: "t5", Text: "e"},
	}

	merged := MergeTasks(old, fresh)
	require.Len(t, merged, 5)

	for i, task := range merged {
		if i < 3 {
			assert.False(t, task.IsNew, "stored task %d must not be marked new", i)
		} else {
			assert.True(t, task.IsNew, "generated task %d must be marked new", i)
		}
	}
}
