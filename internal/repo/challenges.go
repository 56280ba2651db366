package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"peerproof/internal/domain"
)

func (r Repo) InsertChallenge(ctx context.Context, c domain.Challenge) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO challenges(id,creator_id,title,description,points,active,created_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.CreatorID, c.Title, c.Description, c.Points, c.Active, c.CreatedAt)
	return err
}

func scanChallenge(scan func(dest ...any) error) (domain.Challenge, error) {
	var c domain.Challenge
	err := scan(&c.ID, &c.CreatorID, &c.Title, &c.Description, &c.Points, &c.Active, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) GetChallenge(ctx context.Context, id string) (domain.Challenge, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,creator_id,title,COALESCE(description,'') AS description,points,active,created_at FROM challenges WHERE id=?`, id)
	return scanChallenge(row.Scan)
}

func (r Repo) GetChallengeTx(ctx context.Context, tx *sql.Tx, id string) (domain.Challenge, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,creator_id,title,COALESCE(description,'') AS description,points,active,created_at FROM challenges WHERE id=?`, id)
	return scanChallenge(row.Scan)
}

type ChallengeFilters struct {
	CreatorID       string
	ActiveOnly      bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListChallenges(ctx context.Context, f ChallengeFilters) ([]domain.Challenge, error) {
	var clauses []string
	var args []any
	if f.CreatorID != "" {
		clauses = append(clauses, "creator_id=?")
		args = append(args, f.CreatorID)
	}
	if f.ActiveOnly {
		clauses = append(clauses, "active=1")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,creator_id,title,COALESCE(description,'') AS description,points,active,created_at FROM challenges ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Challenge
	for rows.Next() {
		var c domain.Challenge
		if err := rows.Scan(&c.ID, &c.CreatorID, &c.Title, &c.Description, &c.Points, &c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, nil
}

type ChallengeUpdate struct {
	Title       *string
	Description *string
	Points      *int64
	Active      *bool
}

func (r Repo) UpdateChallenge(ctx context.Context, id string, u ChallengeUpdate) error {
	var (
		fields []string
		args   []any
	)
	if u.Title != nil {
		fields = append(fields, "title=?")
		args = append(args, *u.Title)
	}
	if u.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, *u.Description)
	}
	if u.Points != nil {
		fields = append(fields, "points=?")
		args = append(args, *u.Points)
	}
	if u.Active != nil {
		fields = append(fields, "active=?")
		args = append(args, *u.Active)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE challenges SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
