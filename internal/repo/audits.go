package repo

import (
	"context"
	"database/sql"
	"strings"

	"peerproof/internal/domain"
)

func (r Repo) InsertAudit(ctx context.Context, tx *sql.Tx, a domain.ValidationAudit) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO validation_audits(id,submission_id,validator_id,action,reason,comment,metadata_json,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.SubmissionID, a.ValidatorID, a.Action, nullableStringPtr(a.Reason), nullableStringPtr(a.Comment), a.MetadataJSON, a.CreatedAt)
	return err
}

func scanAudit(scan func(dest ...any) error) (domain.ValidationAudit, error) {
	var a domain.ValidationAudit
	var reason, comment sql.NullString
	err := scan(&a.ID, &a.SubmissionID, &a.ValidatorID, &a.Action, &reason, &comment, &a.MetadataJSON, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if reason.Valid {
		a.Reason = &reason.String
	}
	if comment.Valid {
		a.Comment = &comment.String
	}
	return a, nil
}

func (r Repo) GetAuditBySubmission(ctx context.Context, submissionID string) (domain.ValidationAudit, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,submission_id,validator_id,action,reason,comment,metadata_json,created_at FROM validation_audits WHERE submission_id=?`, submissionID)
	return scanAudit(row.Scan)
}

type AuditFilters struct {
	ValidatorID     string
	Action          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListAudits(ctx context.Context, f AuditFilters) ([]domain.ValidationAudit, error) {
	var clauses []string
	var args []any
	if f.ValidatorID != "" {
		clauses = append(clauses, "validator_id=?")
		args = append(args, f.ValidatorID)
	}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,submission_id,validator_id,action,reason,comment,metadata_json,created_at FROM validation_audits ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ValidationAudit
	for rows.Next() {
		a, err := scanAudit(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ValidatorLeaderboard ranks validators by audit count, descending.
func (r Repo) ValidatorLeaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT validator_id, count(*) AS validations FROM validation_audits GROUP BY validator_id ORDER BY validations DESC, validator_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.ValidatorID, &e.Validations); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
