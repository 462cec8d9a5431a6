package database

// Column lists shared by the joined queue/message selects.
const (
	queueColumns = `q.id, q.message_id, q.priority, q.retry_count, q.max_retries,
		q.next_retry_at, q.status, q.error_details, q.created_at, q.updated_at`

	messageColumns = `m.id, m.conversation_id, m.destination, m.content, m.message_type,
		m.direction, m.status, m.provider_message_id, m.sent_at, m.failed_at,
		m.error_details, m.created_at, m.updated_at`
)

const (
	InsertMessageQuery = `
		INSERT INTO messages (
			id, conversation_id, destination, content, message_type, direction,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	InsertQueueEntryQuery = `
		INSERT INTO message_queue (
			id, message_id, priority, retry_count, max_retries, next_retry_at,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	// ClaimDueQuery moves up to N due entries from pending to processing in
	// one statement. The outer status predicate makes the transition a
	// compare-and-swap even if another writer committed in between.
	ClaimDueQuery = `
		UPDATE message_queue
		SET status = 'processing', updated_at = ?
		WHERE status = 'pending'
		  AND id IN (
			SELECT q.id FROM message_queue q
			JOIN messages m ON m.id = q.message_id
			WHERE q.status = 'pending'
			  AND q.next_retry_at <= ?
			  AND m.status IN ('queued', 'scheduled')
			ORDER BY q.priority ASC, q.created_at ASC, q.rowid ASC
			LIMIT ?
		  )
		RETURNING id
	`

	SelectClaimedQueryPrefix = `
		SELECT ` + queueColumns + `, ` + messageColumns + `
		FROM message_queue q
		JOIN messages m ON m.id = q.message_id
		WHERE q.id IN (`

	SelectClaimedQuerySuffix = `)
		ORDER BY q.priority ASC, q.created_at ASC, q.rowid ASC
	`

	SelectStaleProcessingQuery = `
		SELECT ` + queueColumns + `, ` + messageColumns + `
		FROM message_queue q
		JOIN messages m ON m.id = q.message_id
		WHERE q.status = 'processing' AND q.updated_at < ?
		ORDER BY q.updated_at ASC
		LIMIT ?
	`

	CompleteQueueEntryQuery = `
		UPDATE message_queue
		SET status = 'completed', updated_at = ?
		WHERE id = ? AND status = 'processing'
	`

	MarkMessageSentQuery = `
		UPDATE messages
		SET status = 'sent', sent_at = ?, provider_message_id = ?, updated_at = ?
		WHERE id = ? AND status IN ('queued', 'scheduled')
	`

	RescheduleQueueEntryQuery = `
		UPDATE message_queue
		SET status = 'pending', retry_count = ?, next_retry_at = ?, error_details = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'
	`

	RequeueScheduledMessageQuery = `
		UPDATE messages
		SET status = 'queued', updated_at = ?
		WHERE status = 'scheduled' AND id = (SELECT message_id FROM message_queue WHERE id = ?)
	`

	FailQueueEntryQuery = `
		UPDATE message_queue
		SET status = 'failed', retry_count = ?, error_details = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'
	`

	MarkMessageFailedQuery = `
		UPDATE messages
		SET status = 'failed', failed_at = ?, error_details = ?, updated_at = ?
		WHERE id = ? AND status IN ('queued', 'scheduled')
	`

	SelectMessageQuery = `
		SELECT ` + messageColumns + `
		FROM messages m
		WHERE m.id = ?
	`

	SelectQueueEntryQuery = `
		SELECT ` + queueColumns + `
		FROM message_queue q
		WHERE q.id = ?
	`

	SelectConversationQuery = `
		SELECT ` + messageColumns + `
		FROM messages m
		WHERE m.conversation_id = ?
		ORDER BY m.created_at DESC, m.rowid DESC
		LIMIT ?
	`

	CountQueueByStatusQuery = `
		SELECT status, COUNT(*) FROM message_queue GROUP BY status
	`

	DeleteOldMessagesQuery = `
		DELETE FROM messages
		WHERE status IN ('sent', 'failed') AND updated_at < ?
	`
)
