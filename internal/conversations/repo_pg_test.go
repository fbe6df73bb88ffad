package conversations

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

var convColumns = []string{"id", "tenant_id", "title", "created_at", "updated_at", "count", "last"}

func newPGRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return &PGRepo{DB: database}, mock
}

func TestPGAppendLocksConversationRow(t *testing.T) {
	repo, mock := newPGRepo(t)
	at := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT next_seq FROM conversations .* FOR UPDATE`).
		WithArgs("c1", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"next_seq"}).AddRow(int64(4)))
	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(sqlmock.AnyArg(), "c1", "t1", int64(5), "user", "question", nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(at))
	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(sqlmock.AnyArg(), "c1", "t1", int64(6), "assistant", "answer", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(at))
	mock.ExpectExec("UPDATE conversations SET next_seq").
		WithArgs(int64(6), "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	stored, err := repo.Append(context.Background(), "t1", "c1",
		Message{Role: RoleUser, Content: "question"},
		Message{Role: RoleAssistant, Content: "answer", Sources: []Source{{DocumentID: "d1", ChunkID: "d1:0"}}},
	)
	require.NoError(t, err)
	require.Equal(t, int64(5), stored[0].Seq)
	require.Equal(t, int64(6), stored[1].Seq)
	require.Equal(t, at, stored[1].CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAppendUnknownConversationRollsBack(t *testing.T) {
	repo, mock := newPGRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT next_seq FROM conversations`).
		WithArgs("c1", "t2").
		WillReturnRows(sqlmock.NewRows([]string{"next_seq"}))
	mock.ExpectRollback()

	_, err := repo.Append(context.Background(), "t2", "c1", Message{Role: RoleUser, Content: "q"})
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGGetScopesByTenant(t *testing.T) {
	repo, mock := newPGRepo(t)
	at := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM conversations c").
		WithArgs("c1", "t1").
		WillReturnRows(sqlmock.NewRows(convColumns).AddRow("c1", "t1", "title", at, at, 3, "latest answer"))
	conv, err := repo.Get(context.Background(), "t1", "c1")
	require.NoError(t, err)
	require.Equal(t, 3, conv.MessageCount)
	require.Equal(t, "latest answer", conv.LastMessage)

	mock.ExpectQuery("FROM conversations c").
		WithArgs("c1", "t2").
		WillReturnRows(sqlmock.NewRows(convColumns))
	_, err = repo.Get(context.Background(), "t2", "c1")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGMessagesDecodesSources(t *testing.T) {
	repo, mock := newPGRepo(t)
	at := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("c1", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("FROM messages").
		WithArgs("c1", "t1", 10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "seq", "role", "content", "sources", "created_at"}).
			AddRow("m1", "c1", int64(1), "user", "q", nil, at).
			AddRow("m2", "c1", int64(2), "assistant", "a", []byte(`[{"documentId":"d1","chunkId":"d1:3","score":0.5}]`), at))

	msgs, err := repo.Messages(context.Background(), "t1", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Nil(t, msgs[0].Sources)
	require.Equal(t, "d1:3", msgs[1].Sources[0].ChunkID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGMessagesOtherTenant(t *testing.T) {
	repo, mock := newPGRepo(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("c1", "t2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := repo.Messages(context.Background(), "t2", "c1", 10, 0)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGDeleteEmptyOnlyMatchesUnusedConversation(t *testing.T) {
	repo, mock := newPGRepo(t)
	mock.ExpectExec(`DELETE FROM conversations\s+WHERE id = \$1 AND tenant_id = \$2 AND next_seq = 0`).
		WithArgs("c1", "t1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.DeleteEmpty(context.Background(), "t1", "c1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
