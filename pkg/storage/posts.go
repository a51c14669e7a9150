package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Post lifecycle states.
const (
	PostStatusDraft  = "draft"
	PostStatusPosted = "posted"
	PostStatusFailed = "failed"
)

// PostRecord is a generated reply or content item, persisted as a draft
// until posted.
type PostRecord struct {
	ID               int64
	Content          string
	PlatformID       string
	Status           string
	HasImage         bool
	MediaPaths       []string
	GenerationPrompt string
	PostedAt         *time.Time
}

// InsertDraft stores a draft post and returns its row id. Creation of the
// draft is the single transaction the respond step relies on: either the
// draft exists afterwards or the caller gets an error and drops the item.
func (s *Store) InsertDraft(ctx context.Context, p PostRecord) (int64, error) {
	media, err := json.Marshal(p.MediaPaths)
	if err != nil {
		return 0, persistErr("encode media paths", err)
	}
	if p.MediaPaths == nil {
		media = []byte("[]")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (content, status, has_image, media_paths, generation_prompt)
		VALUES (?, 'draft', ?, ?, ?);
	`, p.Content, p.HasImage, string(media), p.GenerationPrompt)
	if err != nil {
		return 0, persistErr("insert draft", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, persistErr("insert draft id", err)
	}
	return id, nil
}

// MarkPosted transitions a draft to posted and, in the same transaction,
// flags the source mention as responded and processed. mentionPlatformID may
// be empty for topic-driven posts that have no source mention.
func (s *Store) MarkPosted(ctx context.Context, postID int64, mentionPlatformID, postedPlatformID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin mark posted", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE posts
		SET status = 'posted',
			platform_id = NULLIF(?, ''),
			posted_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?;
	`, postedPlatformID, postID); err != nil {
		return persistErr("mark post posted", err)
	}

	if mentionPlatformID != "" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE mentions
			SET responded = 1, processed = 1
			WHERE platform_id = ?;
		`, mentionPlatformID); err != nil {
			return persistErr("mark mention handled", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr("commit mark posted", err)
	}
	return nil
}

// MarkPostFailed transitions a draft to failed. The source mention's
// responded/processed flags are deliberately left untouched so a later run
// can pick the mention up again.
func (s *Store) MarkPostFailed(ctx context.Context, postID int64) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE posts SET status = 'failed', updated_at = CURRENT_TIMESTAMP WHERE id = ?;
	`, postID); err != nil {
		return persistErr("mark post failed", err)
	}
	return nil
}

// GetPost fetches a post by row id.
func (s *Store) GetPost(ctx context.Context, id int64) (*PostRecord, error) {
	var p PostRecord
	var media string
	var platformID sql.NullString
	var postedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, content, platform_id, status, has_image, media_paths, generation_prompt, posted_at
		FROM posts WHERE id = ?;
	`, id).Scan(&p.ID, &p.Content, &platformID, &p.Status, &p.HasImage, &media, &p.GenerationPrompt, &postedAt)
	if err != nil {
		return nil, persistErr("get post", err)
	}
	if platformID.Valid {
		p.PlatformID = platformID.String
	}
	if postedAt.Valid {
		t := postedAt.Time
		p.PostedAt = &t
	}
	if err := json.Unmarshal([]byte(media), &p.MediaPaths); err != nil {
		return nil, persistErr("decode media paths", err)
	}
	return &p, nil
}
