package repo

import (
	"context"
	"database/sql"
	"strings"

	"peerproof/internal/domain"
)

const reportColumns = `id,submission_id,reporter_id,reason,COALESCE(description,'') AS description,status,reviewer_id,reviewed_at,created_at`

func (r Repo) InsertReport(ctx context.Context, tx *sql.Tx, rep domain.SubmissionReport) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO submission_reports(id,submission_id,reporter_id,reason,description,status,reviewer_id,reviewed_at,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		rep.ID, rep.SubmissionID, rep.ReporterID, rep.Reason, rep.Description, rep.Status,
		nullableStringPtr(rep.ReviewerID), nullableStringPtr(rep.ReviewedAt), rep.CreatedAt)
	return err
}

func scanReport(scan func(dest ...any) error) (domain.SubmissionReport, error) {
	var rep domain.SubmissionReport
	var reviewerID, reviewedAt sql.NullString
	err := scan(&rep.ID, &rep.SubmissionID, &rep.ReporterID, &rep.Reason, &rep.Description, &rep.Status, &reviewerID, &reviewedAt, &rep.CreatedAt)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	if err != nil {
		return rep, err
	}
	if reviewerID.Valid {
		rep.ReviewerID = &reviewerID.String
	}
	if reviewedAt.Valid {
		rep.ReviewedAt = &reviewedAt.String
	}
	return rep, nil
}

func (r Repo) GetReport(ctx context.Context, id string) (domain.SubmissionReport, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM submission_reports WHERE id=?`, id)
	return scanReport(row.Scan)
}

func (r Repo) GetReportTx(ctx context.Context, tx *sql.Tx, id string) (domain.SubmissionReport, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM submission_reports WHERE id=?`, id)
	return scanReport(row.Scan)
}

// HasPendingReport reports whether reporter already has a pending report
// against the submission.
func (r Repo) HasPendingReport(ctx context.Context, tx *sql.Tx, submissionID, reporterID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM submission_reports WHERE submission_id=? AND reporter_id=? AND status='pending'`, submissionID, reporterID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ResolvePendingReport flips a pending report to reviewed or dismissed.
// Zero rows affected means it was already resolved or never existed.
func (r Repo) ResolvePendingReport(ctx context.Context, tx *sql.Tx, id, status, reviewerID, reviewedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE submission_reports SET status=?, reviewer_id=?, reviewed_at=? WHERE id=? AND status='pending'`,
		status, reviewerID, reviewedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type ReportFilters struct {
	SubmissionID    string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListReports(ctx context.Context, f ReportFilters) ([]domain.SubmissionReport, error) {
	var clauses []string
	var args []any
	if f.SubmissionID != "" {
		clauses = append(clauses, "submission_id=?")
		args = append(args, f.SubmissionID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + reportColumns + ` FROM submission_reports ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SubmissionReport
	for rows.Next() {
		rep, err := scanReport(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

func (r Repo) CountPendingReports(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM submission_reports WHERE status='pending'`).Scan(&n)
	return n, err
}
