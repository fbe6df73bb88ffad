package conversations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docchat-backend/internal/shared/storage/db"
)

// PGRepo stores conversations in Postgres. The conversation row's next_seq
// column, read under FOR UPDATE, hands out message sequence numbers.
type PGRepo struct {
	DB *sql.DB
}

const conversationSelect = `
	SELECT c.id, c.tenant_id, c.title, c.created_at, c.updated_at,
	       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
	       COALESCE((SELECT m.content FROM messages m WHERE m.conversation_id = c.id ORDER BY m.seq DESC LIMIT 1), '')
	FROM conversations c`

func (r *PGRepo) Create(ctx context.Context, conv Conversation) (Conversation, error) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO conversations (id, tenant_id, title, next_seq, created_at, updated_at)
		VALUES ($1, $2, $3, 0, now(), now())
		RETURNING created_at, updated_at`,
		conv.ID, conv.TenantID, conv.Title,
	).Scan(&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return Conversation{}, err
	}
	conv.MessageCount, conv.LastMessage = 0, ""
	return conv, nil
}

func (r *PGRepo) Get(ctx context.Context, tenantID, id string) (Conversation, error) {
	row := r.DB.QueryRowContext(ctx, conversationSelect+`
		WHERE c.id = $1 AND c.tenant_id = $2`, id, tenantID)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return conv, err
}

func (r *PGRepo) List(ctx context.Context, tenantID string, limit, offset int) ([]Conversation, error) {
	rows, err := r.DB.QueryContext(ctx, conversationSelect+`
		WHERE c.tenant_id = $1
		ORDER BY c.updated_at DESC, c.id
		LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (r *PGRepo) Append(ctx context.Context, tenantID, conversationID string, msgs ...Message) ([]Message, error) {
	stored := make([]Message, len(msgs))
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		var next int64
		err := tx.QueryRowContext(ctx, `
			SELECT next_seq FROM conversations
			WHERE id = $1 AND tenant_id = $2
			FOR UPDATE`, conversationID, tenantID).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}

		for i, m := range msgs {
			next++
			m.ID = uuid.NewString()
			m.ConversationID = conversationID
			m.Seq = next
			sources, err := encodeSources(m.Sources)
			if err != nil {
				return err
			}
			err = tx.QueryRowContext(ctx, `
				INSERT INTO messages (id, conversation_id, tenant_id, seq, role, content, sources, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, now())
				RETURNING created_at`,
				m.ID, conversationID, tenantID, m.Seq, string(m.Role), m.Content, sources,
			).Scan(&m.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert message seq=%d: %w", m.Seq, err)
			}
			stored[i] = m
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE conversations SET next_seq = $1, updated_at = now()
			WHERE id = $2`, next, conversationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *PGRepo) Messages(ctx context.Context, tenantID, conversationID string, limit, offset int) ([]Message, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1 AND tenant_id = $2)`,
		conversationID, tenantID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, conversation_id, seq, role, content, sources, created_at
		FROM messages
		WHERE conversation_id = $1 AND tenant_id = $2
		ORDER BY seq ASC
		LIMIT $3 OFFSET $4`, conversationID, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var (
			m       Message
			role    string
			sources []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &role, &m.Content, &sources, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &m.Sources); err != nil {
				return nil, fmt.Errorf("decode sources of %s: %w", m.ID, err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PGRepo) DeleteEmpty(ctx context.Context, tenantID, id string) error {
	_, err := r.DB.ExecContext(ctx, `
		DELETE FROM conversations
		WHERE id = $1 AND tenant_id = $2 AND next_seq = 0`, id, tenantID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var (
		conv    Conversation
		created time.Time
		updated time.Time
		last    string
	)
	if err := row.Scan(&conv.ID, &conv.TenantID, &conv.Title, &created, &updated, &conv.MessageCount, &last); err != nil {
		return Conversation{}, err
	}
	conv.CreatedAt, conv.UpdatedAt = created, updated
	conv.LastMessage = preview(last)
	return conv, nil
}

func encodeSources(sources []Source) (any, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(sources)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

var _ Repo = (*PGRepo)(nil)
