package conversations

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMongoRepo(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	at := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	mt.Run("append takes the incremented range", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.DB)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{
				{Key: "_id", Value: "c1"},
				{Key: "tenant_id", Value: "t1"},
				{Key: "next_seq", Value: int64(6)},
				{Key: "message_count", Value: 6},
				{Key: "updated_at", Value: at},
			}}),
			mtest.CreateSuccessResponse(),
		)

		stored, err := repo.Append(context.Background(), "t1", "c1",
			Message{Role: RoleUser, Content: "q"},
			Message{Role: RoleAssistant, Content: "a"},
		)
		require.NoError(mt, err)
		require.Equal(mt, int64(5), stored[0].Seq)
		require.Equal(mt, int64(6), stored[1].Seq)
		require.Equal(mt, "c1", stored[1].ConversationID)
	})

	mt.Run("append to another tenant's conversation", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}))

		_, err := repo.Append(context.Background(), "t2", "c1", Message{Role: RoleUser, Content: "q"})
		require.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("get decodes counters", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.DB)
		ns := mt.DB.Name() + ".conversations"
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "c1"},
			{Key: "tenant_id", Value: "t1"},
			{Key: "title", Value: "report"},
			{Key: "next_seq", Value: int64(2)},
			{Key: "message_count", Value: 2},
			{Key: "last_message", Value: "done"},
			{Key: "created_at", Value: at},
			{Key: "updated_at", Value: at},
		}))

		conv, err := repo.Get(context.Background(), "t1", "c1")
		require.NoError(mt, err)
		require.Equal(mt, "report", conv.Title)
		require.Equal(mt, 2, conv.MessageCount)
		require.Equal(mt, "done", conv.LastMessage)
	})

	mt.Run("delete empty", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))

		require.NoError(mt, repo.DeleteEmpty(context.Background(), "t1", "c1"))
		filter := mt.GetStartedEvent().Command.Lookup("deletes").Array().Index(0).Document().Lookup("q").Document()
		require.Equal(mt, int32(0), filter.Lookup("next_seq").Int32())
	})

	mt.Run("get missing", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mt.DB.Name()+".conversations", mtest.FirstBatch))

		_, err := repo.Get(context.Background(), "t1", "nope")
		require.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("messages in seq order", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.DB)
		db := mt.DB.Name()
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, db+".conversations", mtest.FirstBatch, bson.D{
				{Key: "_id", Value: "c1"},
				{Key: "tenant_id", Value: "t1"},
			}),
			mtest.CreateCursorResponse(0, db+".messages", mtest.FirstBatch,
				bson.D{{Key: "_id", Value: "m1"}, {Key: "conversation_id", Value: "c1"}, {Key: "seq", Value: int64(1)}, {Key: "role", Value: "user"}, {Key: "content", Value: "q"}},
				bson.D{{Key: "_id", Value: "m2"}, {Key: "conversation_id", Value: "c1"}, {Key: "seq", Value: int64(2)}, {Key: "role", Value: "assistant"}, {Key: "content", Value: "a"},
					{Key: "sources", Value: bson.A{bson.D{{Key: "document_id", Value: "d1"}, {Key: "chunk_id", Value: "d1:0"}, {Key: "score", Value: 0.7}}}}},
			),
		)

		msgs, err := repo.Messages(context.Background(), "t1", "c1", 10, 0)
		require.NoError(mt, err)
		require.Len(mt, msgs, 2)
		require.Equal(mt, RoleAssistant, msgs[1].Role)
		require.Equal(mt, "d1:0", msgs[1].Sources[0].ChunkID)
	})
}
