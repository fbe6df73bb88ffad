package conversations

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAppendAssignsSequence(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	conv, err := repo.Create(ctx, Conversation{TenantID: "t1", Title: "hello"})
	require.NoError(t, err)

	stored, err := repo.Append(ctx, "t1", conv.ID,
		Message{Role: RoleUser, Content: "what is in report.pdf?"},
		Message{Role: RoleAssistant, Content: "quarterly numbers", Sources: []Source{{DocumentID: "d1", ChunkID: "d1:0", Score: 0.9}}},
	)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, int64(1), stored[0].Seq)
	require.Equal(t, int64(2), stored[1].Seq)

	got, err := repo.Get(ctx, "t1", conv.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.MessageCount)
	require.Equal(t, "quarterly numbers", got.LastMessage)

	msgs, err := repo.Messages(ctx, "t1", conv.ID, 0, 0)
	require.NoError(t, err)
	require.Equal(t, RoleUser, msgs[0].Role)
	require.Equal(t, "d1:0", msgs[1].Sources[0].ChunkID)
}

func TestMemoryConcurrentAppendsKeepStrictOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	conv, err := repo.Create(ctx, Conversation{TenantID: "t1"})
	require.NoError(t, err)

	const writers = 20
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_, err := repo.Append(ctx, "t1", conv.ID,
				Message{Role: RoleUser, Content: "q"},
				Message{Role: RoleAssistant, Content: "a"},
			)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	msgs, err := repo.Messages(ctx, "t1", conv.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, writers*2)
	for i, m := range msgs {
		require.Equal(t, int64(i+1), m.Seq)
		// each append's pair stays adjacent
		if i%2 == 0 {
			require.Equal(t, RoleUser, m.Role)
		} else {
			require.Equal(t, RoleAssistant, m.Role)
		}
	}
}

func TestMemoryOtherTenantSeesNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	conv, err := repo.Create(ctx, Conversation{TenantID: "t1"})
	require.NoError(t, err)

	_, err = repo.Get(ctx, "t2", conv.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Append(ctx, "t2", conv.ID, Message{Role: RoleUser, Content: "x"})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Messages(ctx, "t2", conv.ID, 0, 0)
	require.ErrorIs(t, err, ErrNotFound)

	list, err := repo.List(ctx, "t2", 10, 0)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestMemoryListNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	clock := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	first, err := repo.Create(ctx, Conversation{TenantID: "t1", Title: "first"})
	require.NoError(t, err)
	second, err := repo.Create(ctx, Conversation{TenantID: "t1", Title: "second"})
	require.NoError(t, err)

	list, err := repo.List(ctx, "t1", 10, 0)
	require.NoError(t, err)
	require.Equal(t, []string{second.ID, first.ID}, ids(list))

	// appending moves a conversation to the top
	_, err = repo.Append(ctx, "t1", first.ID, Message{Role: RoleUser, Content: "bump"})
	require.NoError(t, err)
	list, err = repo.List(ctx, "t1", 10, 0)
	require.NoError(t, err)
	require.Equal(t, []string{first.ID, second.ID}, ids(list))

	list, err = repo.List(ctx, "t1", 1, 1)
	require.NoError(t, err)
	require.Equal(t, []string{second.ID}, ids(list))
}

func TestMemoryMessagesPaging(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	conv, err := repo.Create(ctx, Conversation{TenantID: "t1"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := repo.Append(ctx, "t1", conv.ID, Message{Role: RoleUser, Content: "m"})
		require.NoError(t, err)
	}

	msgs, err := repo.Messages(ctx, "t1", conv.ID, 2, 3)
	require.NoError(t, err)
	seqs := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		seqs = append(seqs, m.Seq)
	}
	require.Equal(t, []int64{4, 5}, seqs)

	msgs, err = repo.Messages(ctx, "t1", conv.ID, 2, 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func ids(convs []Conversation) []string {
	out := make([]string, 0, len(convs))
	for _, c := range convs {
		out = append(out, c.ID)
	}
	return out
}

func TestMemoryDeleteEmptyKeepsConversationsWithMessages(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	empty, err := repo.Create(ctx, Conversation{TenantID: "t1"})
	require.NoError(t, err)
	used, err := repo.Create(ctx, Conversation{TenantID: "t1"})
	require.NoError(t, err)
	_, err = repo.Append(ctx, "t1", used.ID, Message{Role: RoleUser, Content: "q"})
	require.NoError(t, err)

	require.ErrorIs(t, repo.DeleteEmpty(ctx, "t2", empty.ID), ErrNotFound)
	require.NoError(t, repo.DeleteEmpty(ctx, "t1", empty.ID))
	require.NoError(t, repo.DeleteEmpty(ctx, "t1", used.ID))

	_, err = repo.Get(ctx, "t1", empty.ID)
	require.ErrorIs(t, err, ErrNotFound)
	kept, err := repo.Get(ctx, "t1", used.ID)
	require.NoError(t, err)
	require.Equal(t, 1, kept.MessageCount)
}
