package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devmatch/messaging/internal/logger"
	"github.com/devmatch/messaging/internal/model"
)

// ConversationRepository is the conversation directory: it maps participant
// sets to conversation rows and owns the one-direct-conversation-per-pair
// invariant via a partial unique index on direct_key.
type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

const convCols = `c.id, c.is_group, c.name, c.last_message_at, c.last_message_id, c.created_at, c.updated_at,
		 (SELECT COALESCE(array_agg(p.user_id ORDER BY p.position), '{}') FROM conversation_participants p WHERE p.conversation_id = c.id)`

func scanConversation(s interface{ Scan(dest ...any) error }, c *model.Conversation) error {
	return s.Scan(&c.ID, &c.IsGroup, &c.Name, &c.LastMessageAt, &c.LastMessageID, &c.CreatedAt, &c.UpdatedAt, &c.Participants)
}

// FindOrCreateDirect returns the single non-group conversation for the given
// pair, creating it atomically if absent. participants must already be
// canonical (deduplicated, requester included) and of size exactly 2.
// Concurrent callers for the same pair converge on one row: the insert
// conflicts on the direct_key unique index and the loser reads the winner's
// committed row.
func (r *ConversationRepository) FindOrCreateDirect(ctx context.Context, participants []string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.FindOrCreateDirect", time.Now())()
	if len(participants) != 2 {
		return nil, fmt.Errorf("convRepo.FindOrCreateDirect: want 2 participants, got %d: %w", len(participants), ErrValidation)
	}
	key := model.DirectKey(participants)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("convRepo.FindOrCreateDirect begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	id := uuid.New().String()
	var insertedID string
	err = tx.QueryRow(ctx,
		`INSERT INTO conversations (id, is_group, name, direct_key, last_message_at, created_at, updated_at)
		 VALUES ($1, false, '', $2, $3, $3, $3)
		 ON CONFLICT (direct_key) WHERE is_group = false DO NOTHING
		 RETURNING id`,
		id, key, now,
	).Scan(&insertedID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race (or the pair already talked): return the existing row.
		c := &model.Conversation{}
		row := tx.QueryRow(ctx,
			`SELECT `+convCols+` FROM conversations c WHERE c.direct_key = $1 AND c.is_group = false`, key)
		if err := scanConversation(row, c); err != nil {
			return nil, fmt.Errorf("convRepo.FindOrCreateDirect select existing: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("convRepo.FindOrCreateDirect commit: %w", err)
		}
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.FindOrCreateDirect insert: %w", err)
	}

	for i, uid := range participants {
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id, position, joined_at)
			 VALUES ($1, $2, $3, $4)`,
			insertedID, uid, i, now,
		); err != nil {
			return nil, fmt.Errorf("convRepo.FindOrCreateDirect add participant: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("convRepo.FindOrCreateDirect commit: %w", err)
	}

	return &model.Conversation{
		ID:            insertedID,
		IsGroup:       false,
		Participants:  participants,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// CreateGroup always creates a new row. participants must be canonical and of
// size > 2; size-2 sets belong to FindOrCreateDirect.
func (r *ConversationRepository) CreateGroup(ctx context.Context, participants []string, name string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.CreateGroup", time.Now())()
	if len(participants) < 3 {
		return nil, fmt.Errorf("convRepo.CreateGroup: want >2 participants, got %d: %w", len(participants), ErrValidation)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("convRepo.CreateGroup begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	c := &model.Conversation{
		ID:            uuid.New().String(),
		IsGroup:       true,
		Name:          name,
		Participants:  participants,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO conversations (id, is_group, name, direct_key, last_message_at, created_at, updated_at)
		 VALUES ($1, true, $2, NULL, $3, $3, $3)`,
		c.ID, c.Name, now,
	); err != nil {
		return nil, fmt.Errorf("convRepo.CreateGroup insert: %w", err)
	}
	for i, uid := range participants {
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id, position, joined_at)
			 VALUES ($1, $2, $3, $4)`,
			c.ID, uid, i, now,
		); err != nil {
			return nil, fmt.Errorf("convRepo.CreateGroup add participant: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("convRepo.CreateGroup commit: %w", err)
	}
	return c, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetByID", time.Now())()
	c := &model.Conversation{}
	row := r.pool.QueryRow(ctx, `SELECT `+convCols+` FROM conversations c WHERE c.id = $1`, id)
	if err := scanConversation(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("convRepo.GetByID: %w", err)
	}
	return c, nil
}

// ListForUser returns the user's conversations sorted by last_message_at
// descending (directory order).
func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conv.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+convCols+`
		 FROM conversations c
		 JOIN conversation_participants cp ON cp.conversation_id = c.id
		 WHERE cp.user_id = $1
		 ORDER BY c.last_message_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0, 16)
	for rows.Next() {
		var c model.Conversation
		if err := scanConversation(rows, &c); err != nil {
			return nil, fmt.Errorf("convRepo.ListForUser scan: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser rows: %w", err)
	}
	return convs, nil
}

func (r *ConversationRepository) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	defer logger.DeferLogDuration("conv.IsParticipant", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2)`,
		conversationID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("convRepo.IsParticipant: %w", err)
	}
	return exists, nil
}

func (r *ConversationRepository) GetParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	defer logger.DeferLogDuration("conv.GetParticipantIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = $1 ORDER BY position`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetParticipantIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("convRepo.GetParticipantIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.GetParticipantIDs rows: %w", err)
	}
	return ids, nil
}

// Delete removes a conversation. Messages and participant rows cascade with
// the conversation row (ON DELETE CASCADE), so the whole delete is one atomic
// statement. Returns ErrNotFound when the row does not exist.
func (r *ConversationRepository) Delete(ctx context.Context, conversationID string) error {
	defer logger.DeferLogDuration("conv.Delete", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("convRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
