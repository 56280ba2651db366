package repo

import (
	"context"
	"database/sql"
	"strings"

	"peerproof/internal/domain"
)

func (r Repo) InsertFeedPost(ctx context.Context, tx *sql.Tx, p domain.FeedPost) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO feed_posts(id,submission_id,author_id,challenge_id,body,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.SubmissionID, p.AuthorID, p.ChallengeID, p.Body, p.CreatedAt)
	return err
}

type FeedFilters struct {
	AuthorID        string
	ChallengeID     string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListFeedPosts(ctx context.Context, f FeedFilters) ([]domain.FeedPost, error) {
	var clauses []string
	var args []any
	if f.AuthorID != "" {
		clauses = append(clauses, "author_id=?")
		args = append(args, f.AuthorID)
	}
	if f.ChallengeID != "" {
		clauses = append(clauses, "challenge_id=?")
		args = append(args, f.ChallengeID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,submission_id,author_id,challenge_id,COALESCE(body,'') AS body,created_at FROM feed_posts ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FeedPost
	for rows.Next() {
		var p domain.FeedPost
		if err := rows.Scan(&p.ID, &p.SubmissionID, &p.AuthorID, &p.ChallengeID, &p.Body, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) GetFeedPostBySubmission(ctx context.Context, submissionID string) (domain.FeedPost, error) {
	var p domain.FeedPost
	err := r.DB.QueryRowContext(ctx, `SELECT id,submission_id,author_id,challenge_id,COALESCE(body,'') AS body,created_at FROM feed_posts WHERE submission_id=?`, submissionID).
		Scan(&p.ID, &p.SubmissionID, &p.AuthorID, &p.ChallengeID, &p.Body, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}
