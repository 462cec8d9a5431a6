package database

import (
	"context"
	"fmt"
	"time"

	"wadispatch/internal/errors"
	"wadispatch/internal/migrations"
	"wadispatch/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the message store for deployments that run several
// processor replicas against one database.
type PostgresStore struct {
	pool      *pgxpool.Pool
	encryptor *encryptor
}

const (
	pgQueueColumns = `q.id, q.message_id, q.priority, q.retry_count, q.max_retries,
		q.next_retry_at, q.status, q.error_details, q.created_at, q.updated_at`

	pgMessageColumns = `m.id, m.conversation_id, m.destination, m.content, m.message_type,
		m.direction, m.status, m.provider_message_id, m.sent_at, m.failed_at,
		m.error_details, m.created_at, m.updated_at`

	// Rows locked by a concurrent claimer are skipped rather than waited on.
	pgClaimDueQuery = `
		UPDATE message_queue q
		SET status = 'processing', updated_at = $1
		FROM (
			SELECT q2.id FROM message_queue q2
			JOIN messages m ON m.id = q2.message_id
			WHERE q2.status = 'pending'
			  AND q2.next_retry_at <= $2
			  AND m.status IN ('queued', 'scheduled')
			ORDER BY q2.priority ASC, q2.created_at ASC, q2.seq ASC
			LIMIT $3
			FOR UPDATE OF q2 SKIP LOCKED
		) due
		WHERE q.id = due.id AND q.status = 'pending'
		RETURNING q.id
	`

	pgSelectClaimedQuery = `
		SELECT ` + pgQueueColumns + `, ` + pgMessageColumns + `
		FROM message_queue q
		JOIN messages m ON m.id = q.message_id
		WHERE q.id = ANY($1)
		ORDER BY q.priority ASC, q.created_at ASC, q.seq ASC
	`

	pgSelectStaleQuery = `
		SELECT ` + pgQueueColumns + `, ` + pgMessageColumns + `
		FROM message_queue q
		JOIN messages m ON m.id = q.message_id
		WHERE q.status = 'processing' AND q.updated_at < $1
		ORDER BY q.updated_at ASC
		LIMIT $2
	`

	pgSelectMessageQuery = `SELECT ` + pgMessageColumns + ` FROM messages m WHERE m.id = $1`

	pgSelectQueueEntryQuery = `SELECT ` + pgQueueColumns + ` FROM message_queue q WHERE q.id = $1`

	pgSelectConversationQuery = `
		SELECT ` + pgMessageColumns + `
		FROM messages m
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2
	`
)

// NewPostgresStore connects a pool, verifies it and applies the schema.
func NewPostgresStore(ctx context.Context, url string, minConns, maxConns int, encryptionSecret string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if minConns > 0 {
		cfg.MinConns = int32(minConns)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetSchema(migrations.Postgres)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := newEncryptor(encryptionSecret)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &PostgresStore{pool: pool, encryptor: enc}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message, entry *models.QueueEntry) error {
	destination, err := s.encryptor.Encrypt(msg.Destination)
	if err != nil {
		return fmt.Errorf("failed to encrypt destination: %w", err)
	}
	content, err := s.encryptor.Encrypt(msg.Content)
	if err != nil {
		return fmt.Errorf("failed to encrypt content: %w", err)
	}
	conversationID, err := s.encryptor.EncryptForLookup(msg.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to encrypt conversation ID: %w", err)
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO messages (id, conversation_id, destination, content, message_type, direction, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			msg.ID, conversationID, destination, content, string(msg.MessageType), string(msg.Direction),
			string(msg.Status), msg.CreatedAt, msg.UpdatedAt,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO message_queue (id, message_id, priority, retry_count, max_retries, next_retry_at, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			entry.ID, entry.MessageID, int(entry.Priority), entry.RetryCount, entry.MaxRetries,
			entry.NextRetryAt, string(entry.Status), entry.CreatedAt, entry.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return errors.NewDatabaseError("create message", err)
	}
	return nil
}

func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.ClaimedEntry, error) {
	rows, err := s.pool.Query(ctx, pgClaimDueQuery, now, now, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("claim due entries", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.NewDatabaseError("claim due entries", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	return s.queryClaimed(ctx, "load claimed entries", pgSelectClaimedQuery, ids)
}

func (s *PostgresStore) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.ClaimedEntry, error) {
	return s.queryClaimed(ctx, "list stale entries", pgSelectStaleQuery, cutoff, limit)
}

func (s *PostgresStore) queryClaimed(ctx context.Context, op, query string, args ...any) ([]models.ClaimedEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewDatabaseError(op, err)
	}
	defer rows.Close()

	var out []models.ClaimedEntry
	for rows.Next() {
		var c models.ClaimedEntry
		var conversationID, destination, content string
		err := rows.Scan(
			&c.Entry.ID, &c.Entry.MessageID, &c.Entry.Priority, &c.Entry.RetryCount, &c.Entry.MaxRetries,
			&c.Entry.NextRetryAt, &c.Entry.Status, &c.Entry.ErrorDetails, &c.Entry.CreatedAt, &c.Entry.UpdatedAt,
			&c.Message.ID, &conversationID, &destination, &content, &c.Message.MessageType,
			&c.Message.Direction, &c.Message.Status, &c.Message.ProviderMessageID, &c.Message.SentAt, &c.Message.FailedAt,
			&c.Message.ErrorDetails, &c.Message.CreatedAt, &c.Message.UpdatedAt,
		)
		if err != nil {
			return nil, errors.NewDatabaseError(op, err)
		}
		if err := s.decrypt(&c.Message, conversationID, destination, content); err != nil {
			return nil, err
		}
		normalizeEntryTimes(&c.Entry)
		normalizeMessageTimes(&c.Message)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError(op, err)
	}
	return out, nil
}

func (s *PostgresStore) CompleteEntry(ctx context.Context, queueID, messageID, providerMessageID string, now time.Time) (bool, error) {
	return s.transition(ctx, "complete entry",
		`UPDATE message_queue SET status = 'completed', updated_at = $1 WHERE id = $2 AND status = 'processing'`,
		[]any{now, queueID},
		`UPDATE messages SET status = 'sent', sent_at = $1, provider_message_id = NULLIF($2, ''), updated_at = $1
		 WHERE id = $3 AND status IN ('queued', 'scheduled')`,
		[]any{now, providerMessageID, messageID},
	)
}

func (s *PostgresStore) RescheduleEntry(ctx context.Context, queueID string, retryCount int, nextRetryAt time.Time, reason string, now time.Time) (bool, error) {
	return s.transition(ctx, "reschedule entry",
		`UPDATE message_queue SET status = 'pending', retry_count = $1, next_retry_at = $2, error_details = $3, updated_at = $4
		 WHERE id = $5 AND status = 'processing'`,
		[]any{retryCount, nextRetryAt, reason, now, queueID},
		`UPDATE messages SET status = 'queued', updated_at = $1
		 WHERE status = 'scheduled' AND id = (SELECT message_id FROM message_queue WHERE id = $2)`,
		[]any{now, queueID},
	)
}

func (s *PostgresStore) FailEntry(ctx context.Context, queueID, messageID string, retryCount int, reason string, now time.Time) (bool, error) {
	return s.transition(ctx, "fail entry",
		`UPDATE message_queue SET status = 'failed', retry_count = $1, error_details = $2, updated_at = $3
		 WHERE id = $4 AND status = 'processing'`,
		[]any{retryCount, reason, now, queueID},
		`UPDATE messages SET status = 'failed', failed_at = $1, error_details = $2, updated_at = $1
		 WHERE id = $3 AND status IN ('queued', 'scheduled')`,
		[]any{now, reason, messageID},
	)
}

func (s *PostgresStore) transition(ctx context.Context, op, queueSQL string, queueArgs []any, messageSQL string, messageArgs []any) (bool, error) {
	var applied bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, queueSQL, queueArgs...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if messageSQL != "" {
			if _, err := tx.Exec(ctx, messageSQL, messageArgs...); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, errors.NewDatabaseError(op, err)
	}
	return applied, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg, err := s.scanMessage(s.pool.QueryRow(ctx, pgSelectMessageQuery, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("message", id)
	}
	if err != nil {
		return nil, errors.NewDatabaseError("get message", err)
	}
	return msg, nil
}

func (s *PostgresStore) GetQueueEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	var e models.QueueEntry
	err := s.pool.QueryRow(ctx, pgSelectQueueEntryQuery, id).Scan(
		&e.ID, &e.MessageID, &e.Priority, &e.RetryCount, &e.MaxRetries,
		&e.NextRetryAt, &e.Status, &e.ErrorDetails, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("queue entry", id)
	}
	if err != nil {
		return nil, errors.NewDatabaseError("get queue entry", err)
	}
	normalizeEntryTimes(&e)
	return &e, nil
}

func (s *PostgresStore) ListConversation(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	lookup, err := s.encryptor.EncryptForLookup(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt conversation ID: %w", err)
	}

	rows, err := s.pool.Query(ctx, pgSelectConversationQuery, lookup, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("list conversation", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		msg, err := s.scanMessage(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("scan message", err)
		}
		out = append(out, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("list conversation", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *PostgresStore) QueueDepth(ctx context.Context) (map[models.QueueStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM message_queue GROUP BY status`)
	if err != nil {
		return nil, errors.NewDatabaseError("count queue", err)
	}
	defer rows.Close()

	depth := make(map[models.QueueStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.NewDatabaseError("count queue", err)
		}
		depth[models.QueueStatus(status)] = n
	}
	return depth, rows.Err()
}

func (s *PostgresStore) CleanupOldRecords(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM messages WHERE status IN ('sent', 'failed') AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, errors.NewDatabaseError("cleanup old records", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	var conversationID, destination, content string
	err := row.Scan(
		&m.ID, &conversationID, &destination, &content, &m.MessageType,
		&m.Direction, &m.Status, &m.ProviderMessageID, &m.SentAt, &m.FailedAt,
		&m.ErrorDetails, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := s.decrypt(&m, conversationID, destination, content); err != nil {
		return nil, err
	}
	normalizeMessageTimes(&m)
	return &m, nil
}

func (s *PostgresStore) decrypt(m *models.Message, conversationID, destination, content string) error {
	var err error
	if m.ConversationID, err = s.encryptor.Decrypt(conversationID); err != nil {
		return fmt.Errorf("failed to decrypt conversation ID: %w", err)
	}
	if m.Destination, err = s.encryptor.Decrypt(destination); err != nil {
		return fmt.Errorf("failed to decrypt destination: %w", err)
	}
	if m.Content, err = s.encryptor.Decrypt(content); err != nil {
		return fmt.Errorf("failed to decrypt content: %w", err)
	}
	return nil
}

func normalizeEntryTimes(e *models.QueueEntry) {
	e.NextRetryAt = e.NextRetryAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
}

func normalizeMessageTimes(m *models.Message) {
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	if m.SentAt != nil {
		t := m.SentAt.UTC()
		m.SentAt = &t
	}
	if m.FailedAt != nil {
		t := m.FailedAt.UTC()
		m.FailedAt = &t
	}
}
