package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/feedmirror/internal/model"
)

const conversationColumns = `id, name, thumbnail_url, is_group, self_chat, pinned, muted, is_typing, badge,
	participants, has_last_message, last_message_id, last_message_text, last_message_kind,
	last_message_status, last_message_at, last_message_sender, rev`

// UpsertConversation inserts or updates the record for c.ID. Fields equal to
// the stored ones leave the row (and its revision) untouched, so replaying
// the same snapshot reports Unchanged. IsTyping is local state and is not
// written here; see SetTyping.
func (db *DB) UpsertConversation(c *model.Conversation) (Change, error) {
	participants, err := json.Marshal(nonNil(c.Participants))
	if err != nil {
		return Unchanged, fmt.Errorf("encode participants: %w", err)
	}
	var lm model.LastMessage
	if c.LastMessage != nil {
		lm = *c.LastMessage
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	var exists bool
	if err := db.QueryRow(`SELECT EXISTS(SELECT 1 FROM conversations WHERE id = ?)`, c.ID).Scan(&exists); err != nil {
		return Unchanged, err
	}

	res, err := db.Exec(`
		INSERT INTO conversations (id, name, thumbnail_url, is_group, self_chat, pinned, muted, badge,
			participants, has_last_message, last_message_id, last_message_text, last_message_kind,
			last_message_status, last_message_at, last_message_sender, rev, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			thumbnail_url = excluded.thumbnail_url,
			is_group = excluded.is_group,
			self_chat = excluded.self_chat,
			pinned = excluded.pinned,
			muted = excluded.muted,
			badge = excluded.badge,
			participants = excluded.participants,
			has_last_message = excluded.has_last_message,
			last_message_id = excluded.last_message_id,
			last_message_text = excluded.last_message_text,
			last_message_kind = excluded.last_message_kind,
			last_message_status = excluded.last_message_status,
			last_message_at = excluded.last_message_at,
			last_message_sender = excluded.last_message_sender,
			rev = conversations.rev + 1,
			updated_at = excluded.updated_at
		WHERE conversations.name IS NOT excluded.name
			OR conversations.thumbnail_url IS NOT excluded.thumbnail_url
			OR conversations.is_group IS NOT excluded.is_group
			OR conversations.self_chat IS NOT excluded.self_chat
			OR conversations.pinned IS NOT excluded.pinned
			OR conversations.muted IS NOT excluded.muted
			OR conversations.badge IS NOT excluded.badge
			OR conversations.participants IS NOT excluded.participants
			OR conversations.has_last_message IS NOT excluded.has_last_message
			OR conversations.last_message_id IS NOT excluded.last_message_id
			OR conversations.last_message_text IS NOT excluded.last_message_text
			OR conversations.last_message_kind IS NOT excluded.last_message_kind
			OR conversations.last_message_status IS NOT excluded.last_message_status
			OR conversations.last_message_at IS NOT excluded.last_message_at
			OR conversations.last_message_sender IS NOT excluded.last_message_sender`,
		c.ID, c.Name, c.ThumbnailURL, c.IsGroup, c.SelfChat, c.Pinned, c.Muted, c.Badge,
		string(participants), c.LastMessage != nil, lm.ID, lm.Text, string(lm.Kind),
		lm.Status, lm.Timestamp, lm.SenderID, time.Now().UnixMilli())
	if err != nil {
		return Unchanged, fmt.Errorf("upsert conversation %q: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Unchanged, err
	}
	if n == 0 {
		return Unchanged, nil
	}
	db.refreshLocked()
	if exists {
		return Updated, nil
	}
	return Inserted, nil
}

// DeleteConversation removes the record. Deleting an unknown id is a no-op
// and reports false.
func (db *DB) DeleteConversation(id string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete conversation %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		db.refreshLocked()
	}
	return n > 0, nil
}

// DeleteAllConversations wipes the mirror.
func (db *DB) DeleteAllConversations() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("wipe conversations: %w", err)
	}
	db.refreshLocked()
	return nil
}

// SetTyping flips the local typing flag.
func (db *DB) SetTyping(id string, typing bool) (bool, error) {
	return db.updateFlag(`is_typing`, id, typing)
}

// SetPinned flips the pinned flag ahead of the remote echo.
func (db *DB) SetPinned(id string, pinned bool) (bool, error) {
	return db.updateFlag(`pinned`, id, pinned)
}

// SetMuted flips the muted flag ahead of the remote echo.
func (db *DB) SetMuted(id string, muted bool) (bool, error) {
	return db.updateFlag(`muted`, id, muted)
}

// ClearBadge zeroes the unread count of a conversation.
func (db *DB) ClearBadge(id string) (bool, error) {
	return db.update(`UPDATE conversations SET badge = 0, rev = rev + 1, updated_at = ? WHERE id = ? AND badge != 0`,
		time.Now().UnixMilli(), id)
}

func (db *DB) updateFlag(column, id string, v bool) (bool, error) {
	q := fmt.Sprintf(`UPDATE conversations SET %[1]s = ?, rev = rev + 1, updated_at = ? WHERE id = ? AND %[1]s IS NOT ?`, column)
	return db.update(q, v, time.Now().UnixMilli(), id, v)
}

func (db *DB) update(query string, args ...any) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.Exec(query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		db.refreshLocked()
	}
	return n > 0, nil
}

// GetConversation returns a single record, or nil when absent.
func (db *DB) GetConversation(id string) (*model.Conversation, error) {
	row := db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	r, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.Conversation, nil
}

// ListConversations returns every record ordered by last activity, newest first.
func (db *DB) ListConversations() ([]*model.Conversation, error) {
	rows, err := db.listRows()
	if err != nil {
		return nil, err
	}
	out := make([]*model.Conversation, len(rows))
	for i, r := range rows {
		out[i] = r.Conversation
	}
	return out, nil
}

// ConversationIDs returns the identifiers currently mirrored.
func (db *DB) ConversationIDs() ([]string, error) {
	rows, err := db.Query(`SELECT id FROM conversations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// BadgeTotal sums the unread counts of all conversations, muted included.
func (db *DB) BadgeTotal() (int, error) {
	var total int
	err := db.QueryRow(`SELECT COALESCE(SUM(badge), 0) FROM conversations`).Scan(&total)
	return total, err
}

// record is a conversation plus the revision the views diff against.
type record struct {
	*model.Conversation
	rev int64
}

func (db *DB) listRows() ([]record, error) {
	rows, err := db.Query(`SELECT ` + conversationColumns + ` FROM conversations ORDER BY last_message_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []record
	for rows.Next() {
		r, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(s scanner) (record, error) {
	var (
		c            model.Conversation
		lm           model.LastMessage
		kind         string
		participants string
		hasLast      bool
		rev          int64
	)
	err := s.Scan(&c.ID, &c.Name, &c.ThumbnailURL, &c.IsGroup, &c.SelfChat, &c.Pinned, &c.Muted, &c.IsTyping, &c.Badge,
		&participants, &hasLast, &lm.ID, &lm.Text, &kind, &lm.Status, &lm.Timestamp, &lm.SenderID, &rev)
	if err != nil {
		return record{}, err
	}
	if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
		return record{}, fmt.Errorf("conversation %q participants: %w", c.ID, err)
	}
	if hasLast {
		lm.Kind = model.BodyKind(kind)
		c.LastMessage = &lm
	}
	return record{Conversation: &c, rev: rev}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
