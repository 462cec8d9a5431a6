package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"wadispatch/internal/errors"
	"wadispatch/internal/migrations"
	"wadispatch/internal/models"
	"wadispatch/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the SQLite message store.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

type rowScanner interface {
	Scan(dest ...any) error
}

// New opens (creating if needed) the SQLite database at dbPath and applies
// the schema. A non-empty encryptionSecret enables column encryption for
// destinations, content and conversation ids.
func New(dbPath, encryptionSecret string) (*Database, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	closeWith := func(cause error) error {
		if closeErr := db.Close(); closeErr != nil {
			return fmt.Errorf("%w (close error: %v)", cause, closeErr)
		}
		return cause
	}

	if err := db.Ping(); err != nil {
		return nil, closeWith(fmt.Errorf("failed to ping database: %w", err))
	}

	schema, err := migrations.GetSchema(migrations.SQLite)
	if err != nil {
		return nil, closeWith(fmt.Errorf("failed to read schema: %w", err))
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, closeWith(fmt.Errorf("failed to initialize schema: %w", err))
	}

	enc, err := newEncryptor(encryptionSecret)
	if err != nil {
		return nil, closeWith(fmt.Errorf("failed to initialize encryptor: %w", err))
	}

	return &Database{db: db, encryptor: enc}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// CreateMessage inserts a message and its queue entry in one transaction.
func (d *Database) CreateMessage(ctx context.Context, msg *models.Message, entry *models.QueueEntry) error {
	destination, err := d.encryptor.Encrypt(msg.Destination)
	if err != nil {
		return fmt.Errorf("failed to encrypt destination: %w", err)
	}
	content, err := d.encryptor.Encrypt(msg.Content)
	if err != nil {
		return fmt.Errorf("failed to encrypt content: %w", err)
	}
	conversationID, err := d.encryptor.EncryptForLookup(msg.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to encrypt conversation ID: %w", err)
	}

	err = retryableDBOperation(ctx, "create message", func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, InsertMessageQuery,
			msg.ID, conversationID, destination, content, msg.MessageType, msg.Direction,
			msg.Status, toMillis(msg.CreatedAt), toMillis(msg.UpdatedAt),
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, InsertQueueEntryQuery,
			entry.ID, entry.MessageID, entry.Priority, entry.RetryCount, entry.MaxRetries,
			toMillis(entry.NextRetryAt), entry.Status, toMillis(entry.CreatedAt), toMillis(entry.UpdatedAt),
		); err != nil {
			return err
		}

		return tx.Commit()
	})
	if err != nil {
		return storeError("create message", err)
	}
	return nil
}

// ClaimDue atomically marks up to limit due entries as processing and
// returns them with their messages in (priority, createdAt) order.
func (d *Database) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.ClaimedEntry, error) {
	var ids []string
	err := retryableDBOperation(ctx, "claim due entries", func() error {
		ids = ids[:0]
		rows, err := d.db.QueryContext(ctx, ClaimDueQuery, toMillis(now), toMillis(now), limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeError("claim due entries", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := d.db.QueryContext(ctx, SelectClaimedQueryPrefix+placeholders+SelectClaimedQuerySuffix, args...)
	if err != nil {
		return nil, storeError("load claimed entries", err)
	}
	defer rows.Close()

	return d.scanClaimedRows(rows)
}

// ListStaleProcessing returns entries that have been processing since
// before cutoff.
func (d *Database) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.ClaimedEntry, error) {
	rows, err := d.db.QueryContext(ctx, SelectStaleProcessingQuery, toMillis(cutoff), limit)
	if err != nil {
		return nil, storeError("list stale entries", err)
	}
	defer rows.Close()

	return d.scanClaimedRows(rows)
}

// CompleteEntry records a successful send. It reports false when the entry
// was no longer processing.
func (d *Database) CompleteEntry(ctx context.Context, queueID, messageID, providerMessageID string, now time.Time) (bool, error) {
	return d.transition(ctx, "complete entry",
		func(tx *sql.Tx) (sql.Result, error) {
			return tx.ExecContext(ctx, CompleteQueueEntryQuery, toMillis(now), queueID)
		},
		func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, MarkMessageSentQuery,
				toMillis(now), nullString(providerMessageID), toMillis(now), messageID)
			return err
		},
	)
}

// RescheduleEntry returns a processing entry to pending with a new retry
// count and due time. A scheduled message becomes queued once it is retrying.
func (d *Database) RescheduleEntry(ctx context.Context, queueID string, retryCount int, nextRetryAt time.Time, reason string, now time.Time) (bool, error) {
	return d.transition(ctx, "reschedule entry",
		func(tx *sql.Tx) (sql.Result, error) {
			return tx.ExecContext(ctx, RescheduleQueueEntryQuery,
				retryCount, toMillis(nextRetryAt), reason, toMillis(now), queueID)
		},
		func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, RequeueScheduledMessageQuery, toMillis(now), queueID)
			return err
		},
	)
}

// FailEntry moves a processing entry and its message to failed.
func (d *Database) FailEntry(ctx context.Context, queueID, messageID string, retryCount int, reason string, now time.Time) (bool, error) {
	return d.transition(ctx, "fail entry",
		func(tx *sql.Tx) (sql.Result, error) {
			return tx.ExecContext(ctx, FailQueueEntryQuery, retryCount, reason, toMillis(now), queueID)
		},
		func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, MarkMessageFailedQuery, toMillis(now), reason, toMillis(now), messageID)
			return err
		},
	)
}

// transition runs a conditional queue update and, if it matched a row, the
// follow-up message update in the same transaction.
func (d *Database) transition(ctx context.Context, name string, queueUpdate func(*sql.Tx) (sql.Result, error), messageUpdate func(*sql.Tx) error) (bool, error) {
	var applied bool
	err := retryableDBOperation(ctx, name, func() error {
		applied = false
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := queueUpdate(tx)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		if messageUpdate != nil {
			if err := messageUpdate(tx); err != nil {
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, storeError(name, err)
	}
	return applied, nil
}

func (d *Database) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg, err := d.scanMessage(d.db.QueryRowContext(ctx, SelectMessageQuery, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("message", id)
	}
	if err != nil {
		return nil, storeError("get message", err)
	}
	return msg, nil
}

func (d *Database) GetQueueEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	entry, err := scanQueueEntry(d.db.QueryRowContext(ctx, SelectQueueEntryQuery, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("queue entry", id)
	}
	if err != nil {
		return nil, storeError("get queue entry", err)
	}
	return entry, nil
}

// ListConversation returns the most recent limit messages of a conversation
// in ascending chronological order.
func (d *Database) ListConversation(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	lookup, err := d.encryptor.EncryptForLookup(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt conversation ID: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, SelectConversationQuery, lookup, limit)
	if err != nil {
		return nil, storeError("list conversation", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		msg, err := d.scanMessage(rows)
		if err != nil {
			return nil, storeError("scan message", err)
		}
		out = append(out, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list conversation", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// QueueDepth counts queue entries per status.
func (d *Database) QueueDepth(ctx context.Context) (map[models.QueueStatus]int64, error) {
	rows, err := d.db.QueryContext(ctx, CountQueueByStatusQuery)
	if err != nil {
		return nil, storeError("count queue", err)
	}
	defer rows.Close()

	depth := make(map[models.QueueStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, storeError("count queue", err)
		}
		depth[models.QueueStatus(status)] = n
	}
	return depth, rows.Err()
}

// CleanupOldRecords deletes terminal messages (and, by cascade, their queue
// entries) last updated before cutoff.
func (d *Database) CleanupOldRecords(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, DeleteOldMessagesQuery, toMillis(cutoff))
	if err != nil {
		return 0, storeError("cleanup old records", err)
	}
	return res.RowsAffected()
}

func (d *Database) scanClaimedRows(rows *sql.Rows) ([]models.ClaimedEntry, error) {
	var out []models.ClaimedEntry
	for rows.Next() {
		c, err := d.scanClaimed(rows)
		if err != nil {
			return nil, storeError("scan claimed entry", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("scan claimed entries", err)
	}
	return out, nil
}

func (d *Database) scanClaimed(row rowScanner) (*models.ClaimedEntry, error) {
	var (
		c                                    models.ClaimedEntry
		qNextRetry, qCreated, qUpdated       int64
		qErr                                 sql.NullString
		mProvider, mErr                      sql.NullString
		mSent, mFailed                       sql.NullInt64
		mCreated, mUpdated                   int64
		conversationID, destination, content string
	)

	err := row.Scan(
		&c.Entry.ID, &c.Entry.MessageID, &c.Entry.Priority, &c.Entry.RetryCount, &c.Entry.MaxRetries,
		&qNextRetry, &c.Entry.Status, &qErr, &qCreated, &qUpdated,
		&c.Message.ID, &conversationID, &destination, &content, &c.Message.MessageType,
		&c.Message.Direction, &c.Message.Status, &mProvider, &mSent, &mFailed,
		&mErr, &mCreated, &mUpdated,
	)
	if err != nil {
		return nil, err
	}

	c.Entry.NextRetryAt = fromMillis(qNextRetry)
	c.Entry.ErrorDetails = stringPtr(qErr)
	c.Entry.CreatedAt = fromMillis(qCreated)
	c.Entry.UpdatedAt = fromMillis(qUpdated)

	if err := d.decryptMessage(&c.Message, conversationID, destination, content); err != nil {
		return nil, err
	}
	c.Message.ProviderMessageID = stringPtr(mProvider)
	c.Message.SentAt = timePtr(mSent)
	c.Message.FailedAt = timePtr(mFailed)
	c.Message.ErrorDetails = stringPtr(mErr)
	c.Message.CreatedAt = fromMillis(mCreated)
	c.Message.UpdatedAt = fromMillis(mUpdated)

	return &c, nil
}

func (d *Database) scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m                                    models.Message
		provider, errDetails                 sql.NullString
		sentAt, failedAt                     sql.NullInt64
		created, updated                     int64
		conversationID, destination, content string
	)

	err := row.Scan(
		&m.ID, &conversationID, &destination, &content, &m.MessageType,
		&m.Direction, &m.Status, &provider, &sentAt, &failedAt,
		&errDetails, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	if err := d.decryptMessage(&m, conversationID, destination, content); err != nil {
		return nil, err
	}
	m.ProviderMessageID = stringPtr(provider)
	m.SentAt = timePtr(sentAt)
	m.FailedAt = timePtr(failedAt)
	m.ErrorDetails = stringPtr(errDetails)
	m.CreatedAt = fromMillis(created)
	m.UpdatedAt = fromMillis(updated)

	return &m, nil
}

func (d *Database) decryptMessage(m *models.Message, conversationID, destination, content string) error {
	var err error
	if m.ConversationID, err = d.encryptor.Decrypt(conversationID); err != nil {
		return fmt.Errorf("failed to decrypt conversation ID: %w", err)
	}
	if m.Destination, err = d.encryptor.Decrypt(destination); err != nil {
		return fmt.Errorf("failed to decrypt destination: %w", err)
	}
	if m.Content, err = d.encryptor.Decrypt(content); err != nil {
		return fmt.Errorf("failed to decrypt content: %w", err)
	}
	return nil
}

func scanQueueEntry(row rowScanner) (*models.QueueEntry, error) {
	var (
		e                           models.QueueEntry
		nextRetry, created, updated int64
		errDetails                  sql.NullString
	)

	err := row.Scan(
		&e.ID, &e.MessageID, &e.Priority, &e.RetryCount, &e.MaxRetries,
		&nextRetry, &e.Status, &errDetails, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	e.NextRetryAt = fromMillis(nextRetry)
	e.ErrorDetails = stringPtr(errDetails)
	e.CreatedAt = fromMillis(created)
	e.UpdatedAt = fromMillis(updated)
	return &e, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
