package repo

import (
	"context"
	"database/sql"
	"strings"

	"peerproof/internal/domain"
)

func (r Repo) InsertProfile(ctx context.Context, p domain.Profile) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO profiles(id,display_name,role,premium,points,defeats,created_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.DisplayName, p.Role, p.Premium, p.Points, p.Defeats, p.CreatedAt)
	return err
}

// EnsureProfile creates the profile if it does not exist yet.
func (r Repo) EnsureProfile(ctx context.Context, p domain.Profile) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO profiles(id,display_name,role,premium,points,defeats,created_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.DisplayName, p.Role, p.Premium, p.Points, p.Defeats, p.CreatedAt)
	return err
}

func scanProfile(scan func(dest ...any) error) (domain.Profile, error) {
	var p domain.Profile
	err := scan(&p.ID, &p.DisplayName, &p.Role, &p.Premium, &p.Points, &p.Defeats, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,display_name,role,premium,points,defeats,created_at FROM profiles WHERE id=?`, id)
	return scanProfile(row.Scan)
}

func (r Repo) GetProfileTx(ctx context.Context, tx *sql.Tx, id string) (domain.Profile, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,display_name,role,premium,points,defeats,created_at FROM profiles WHERE id=?`, id)
	return scanProfile(row.Scan)
}

type ProfileFilters struct {
	Role            string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListProfiles(ctx context.Context, f ProfileFilters) ([]domain.Profile, error) {
	var clauses []string
	var args []any
	if f.Role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, f.Role)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,display_name,role,premium,points,defeats,created_at FROM profiles ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Profile
	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Role, &p.Premium, &p.Points, &p.Defeats, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

func (r Repo) UpdateProfileRole(ctx context.Context, id, role string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE profiles SET role=? WHERE id=?`, role, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddPoints adjusts a balance inside tx. A negative delta that would take
// the balance below zero reports zero rows affected.
func (r Repo) AddPoints(ctx context.Context, tx *sql.Tx, userID string, delta int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE profiles SET points=points+? WHERE id=? AND points+? >= 0`, delta, userID, delta)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) IncrementDefeats(ctx context.Context, tx *sql.Tx, userID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE profiles SET defeats=defeats+1 WHERE id=?`, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
