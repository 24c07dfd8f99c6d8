package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devmatch/messaging/internal/logger"
	"github.com/devmatch/messaging/internal/model"
)

// MessageRepository is the message store: an append-only log per conversation
// with read tracking and pagination. The store, not the gateway, is the
// ordering authority (created_at assigned at insert).
type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

const msgCols = `m.id, m.conversation_id, m.sender_id, m.content, m.attachments, m.read_by, m.created_at, m.updated_at,
		 u.id, u.username, u.avatar_url, u.headline, u.is_online, u.last_seen_at`

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	var attachments []byte
	sender := &model.UserPublic{}
	if err := s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &attachments, &m.ReadBy, &m.CreatedAt, &m.UpdatedAt,
		&sender.ID, &sender.Username, &sender.AvatarURL, &sender.Headline, &sender.IsOnline, &sender.LastSeenAt); err != nil {
		return err
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return fmt.Errorf("decode attachments: %w", err)
		}
	}
	m.Sender = sender
	return nil
}

// Append inserts a message and advances the owning conversation's last-message
// pointer in one transaction, so a reader never observes last_message_at ahead
// of the queryable history. The sender starts in the read_by set.
func (r *MessageRepository) Append(ctx context.Context, conversationID, senderID, content string, attachments []model.Attachment) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.Append", time.Now())()
	if content == "" && len(attachments) == 0 {
		return nil, fmt.Errorf("msgRepo.Append: empty content and no attachments: %w", ErrValidation)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Append begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	m := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Attachments:    attachments,
		ReadBy:         []string{senderID},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tag, err := tx.Exec(ctx,
		`UPDATE conversations SET last_message_at = $2, last_message_id = $3, updated_at = $2 WHERE id = $1`,
		conversationID, now, m.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Append update pointer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	attJSON, err := json.Marshal(m.Attachments)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Append encode attachments: %w", err)
	}
	if m.Attachments == nil {
		attJSON = []byte("[]")
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, attachments, read_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, attJSON, m.ReadBy, now,
	); err != nil {
		return nil, fmt.Errorf("msgRepo.Append insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("msgRepo.Append commit: %w", err)
	}
	return m, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+msgCols+` FROM messages m JOIN users u ON u.id = m.sender_id WHERE m.id = $1`, id)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// ListPage returns conversation history oldest-first, totally ordered by
// (created_at, id). The canonical contract is cursor pagination: afterID is
// the id of the last message the caller already has; an empty afterID with
// offset > 0 falls back to offset pagination for initial page loads.
func (r *MessageRepository) ListPage(ctx context.Context, conversationID, afterID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListPage", time.Now())()
	var (
		rows pgx.Rows
		err  error
	)
	if afterID != "" {
		// Resolve the cursor first. A row comparison against an empty
		// subquery is NULL, which would turn a bogus cursor into a
		// silent empty page instead of an error.
		var cursorAt time.Time
		var cursorID string
		err = r.pool.QueryRow(ctx,
			`SELECT created_at, id FROM messages WHERE id = $1 AND conversation_id = $2`,
			afterID, conversationID,
		).Scan(&cursorAt, &cursorID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("msgRepo.ListPage: cursor %q not in conversation: %w", afterID, ErrValidation)
		}
		if err != nil {
			return nil, fmt.Errorf("msgRepo.ListPage cursor: %w", err)
		}
		rows, err = r.pool.Query(ctx,
			`SELECT `+msgCols+`
			 FROM messages m
			 JOIN users u ON u.id = m.sender_id
			 WHERE m.conversation_id = $1
			   AND (m.created_at, m.id) > ($2, $3)
			 ORDER BY m.created_at, m.id
			 LIMIT $4`, conversationID, cursorAt, cursorID, limit,
		)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT `+msgCols+`
			 FROM messages m
			 JOIN users u ON u.id = m.sender_id
			 WHERE m.conversation_id = $1
			 ORDER BY m.created_at, m.id
			 LIMIT $2 OFFSET $3`, conversationID, limit, offset,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListPage query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListPage scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListPage rows: %w", err)
	}
	return messages, nil
}

// MarkRead adds userID to read_by for every message in the conversation it is
// not in yet and returns the number of messages updated. Set semantics make
// the call idempotent.
func (r *MessageRepository) MarkRead(ctx context.Context, conversationID, userID string) (int64, error) {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET read_by = array_append(read_by, $2), updated_at = $3
		 WHERE conversation_id = $1 AND NOT (read_by @> ARRAY[$2]::text[])`,
		conversationID, userID, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Remove deletes a message permanently. Only the original sender may remove;
// a non-sender or unknown id both come back as ErrNotFound. If the removed
// message was the conversation's last, the pointer is recomputed in the same
// transaction (last_message_at stays put, which directory sorting tolerates).
func (r *MessageRepository) Remove(ctx context.Context, messageID, requesterID string) error {
	defer logger.DeferLogDuration("msg.Remove", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.Remove begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var conversationID string
	err = tx.QueryRow(ctx,
		`DELETE FROM messages WHERE id = $1 AND sender_id = $2 RETURNING conversation_id`,
		messageID, requesterID,
	).Scan(&conversationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("msgRepo.Remove delete: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations c
		 SET last_message_id = (SELECT id FROM messages WHERE conversation_id = c.id ORDER BY created_at DESC, id DESC LIMIT 1)
		 WHERE c.id = $1 AND c.last_message_id = $2`,
		conversationID, messageID,
	); err != nil {
		return fmt.Errorf("msgRepo.Remove repoint: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.Remove commit: %w", err)
	}
	return nil
}

// GetLastMessage returns the newest message of a conversation, or nil when
// the conversation has no messages yet.
func (r *MessageRepository) GetLastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetLastMessage", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+msgCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.conversation_id = $1
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT 1`, conversationID)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("msgRepo.GetLastMessage: %w", err)
	}
	return m, nil
}
