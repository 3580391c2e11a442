package store

import "time"

// QueueWrite appends a write-back for the remote feed. payload is the JSON
// value to store at path, "null" to remove it.
func (db *DB) QueueWrite(clientID, path, payload string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO pending_writes (client_id, path, payload, status, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)`,
		clientID, path, payload, now, now)
	return err
}

// MarkWriteSending claims a queued write for delivery.
func (db *DB) MarkWriteSending(clientID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE pending_writes SET status = 'sending', attempts = attempts + 1, updated_at = ? WHERE client_id = ?`, now, clientID)
	return err
}

// MarkWriteSent records a delivered write.
func (db *DB) MarkWriteSent(clientID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE pending_writes SET status = 'sent', error_message = '', updated_at = ? WHERE client_id = ?`, now, clientID)
	return err
}

// MarkWriteFailed parks a write after its last attempt.
func (db *DB) MarkWriteFailed(clientID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE pending_writes SET status = 'failed', error_message = ?, updated_at = ? WHERE client_id = ?`, errMsg, now, clientID)
	return err
}

// RequeueWrite returns a write to the queue after a transient failure.
func (db *DB) RequeueWrite(clientID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE pending_writes SET status = 'queued', error_message = ?, updated_at = ? WHERE client_id = ?`, errMsg, now, clientID)
	return err
}

// RecoverSending requeues writes left in 'sending' by a previous run.
func (db *DB) RecoverSending() (int64, error) {
	res, err := db.Exec(`UPDATE pending_writes SET status = 'queued' WHERE status = 'sending'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PendingWrites returns queued writes in submission order.
func (db *DB) PendingWrites(limit int) ([]PendingWrite, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, client_id, path, payload, status, attempts, error_message, created_at
		FROM pending_writes WHERE status = 'queued' ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []PendingWrite
	for rows.Next() {
		var w PendingWrite
		if err := rows.Scan(&w.ID, &w.ClientID, &w.Path, &w.Payload, &w.Status, &w.Attempts, &w.ErrorMessage, &w.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// PurgeWrites drops every queued and delivered write. Used on teardown.
func (db *DB) PurgeWrites() error {
	_, err := db.Exec(`DELETE FROM pending_writes`)
	return err
}
