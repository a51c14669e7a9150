package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// MentionRecord is a persisted inbound mention.
type MentionRecord struct {
	ID             int64
	PlatformID     string
	AuthorUsername string
	Content        string
	URL            string
	Responded      bool
	Processed      bool
	MentionedAt    time.Time
}

// MentionExists reports whether a mention with the given platform id is
// already known. This is the dedup check the listen step relies on.
func (s *Store) MentionExists(ctx context.Context, platformID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM mentions WHERE platform_id = ?;`, platformID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, persistErr("mention exists", err)
	}
	return true, nil
}

// InsertMention stores a newly accepted mention and returns its row id.
func (s *Store) InsertMention(ctx context.Context, m MentionRecord) (int64, error) {
	if m.MentionedAt.IsZero() {
		m.MentionedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO mentions (platform_id, author_username, content, url, mentioned_at)
		VALUES (?, ?, ?, ?, ?);
	`, m.PlatformID, m.AuthorUsername, m.Content, m.URL, m.MentionedAt)
	if err != nil {
		return 0, persistErr("insert mention", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, persistErr("insert mention id", err)
	}
	return id, nil
}

// GetMention fetches a mention by platform id.
func (s *Store) GetMention(ctx context.Context, platformID string) (*MentionRecord, error) {
	var m MentionRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, platform_id, author_username, content, url, responded, processed, mentioned_at
		FROM mentions WHERE platform_id = ?;
	`, platformID).Scan(&m.ID, &m.PlatformID, &m.AuthorUsername, &m.Content, &m.URL,
		&m.Responded, &m.Processed, &m.MentionedAt)
	if err != nil {
		return nil, persistErr("get mention", err)
	}
	return &m, nil
}
