package repo

import (
	"context"
	"database/sql"
	"strings"

	"peerproof/internal/domain"
)

const submissionColumns = `id,challenge_id,submitter_id,COALESCE(proof_text,'') AS proof_text,image_url,video_url,status,validator_id,validator_comment,rejection_reason,created_at,validated_at`

func (r Repo) InsertSubmission(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO submissions(id,challenge_id,submitter_id,proof_text,image_url,video_url,status,validator_id,validator_comment,rejection_reason,created_at,validated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ChallengeID, s.SubmitterID, s.ProofText, nullableStringPtr(s.ImageURL), nullableStringPtr(s.VideoURL),
		s.Status, nullableStringPtr(s.ValidatorID), nullableStringPtr(s.ValidatorComment), nullableStringPtr(s.RejectionReason),
		s.CreatedAt, nullableStringPtr(s.ValidatedAt))
	return err
}

func scanSubmission(scan func(dest ...any) error) (domain.Submission, error) {
	var s domain.Submission
	var imageURL, videoURL, validatorID, validatorComment, rejectionReason, validatedAt sql.NullString
	err := scan(&s.ID, &s.ChallengeID, &s.SubmitterID, &s.ProofText, &imageURL, &videoURL, &s.Status,
		&validatorID, &validatorComment, &rejectionReason, &s.CreatedAt, &validatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if imageURL.Valid {
		s.ImageURL = &imageURL.String
	}
	if videoURL.Valid {
		s.VideoURL = &videoURL.String
	}
	if validatorID.Valid {
		s.ValidatorID = &validatorID.String
	}
	if validatorComment.Valid {
		s.ValidatorComment = &validatorComment.String
	}
	if rejectionReason.Valid {
		s.RejectionReason = &rejectionReason.String
	}
	if validatedAt.Valid {
		s.ValidatedAt = &validatedAt.String
	}
	return s, nil
}

func (r Repo) GetSubmission(ctx context.Context, id string) (domain.Submission, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=?`, id)
	return scanSubmission(row.Scan)
}

func (r Repo) GetSubmissionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Submission, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=?`, id)
	return scanSubmission(row.Scan)
}

type SubmissionFilters struct {
	ChallengeID     string
	SubmitterID     string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListSubmissions(ctx context.Context, f SubmissionFilters) ([]domain.Submission, error) {
	var clauses []string
	var args []any
	if f.ChallengeID != "" {
		clauses = append(clauses, "challenge_id=?")
		args = append(args, f.ChallengeID)
	}
	if f.SubmitterID != "" {
		clauses = append(clauses, "submitter_id=?")
		args = append(args, f.SubmitterID)
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
	query := `SELECT ` + submissionColumns + ` FROM submissions ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubmissions(rows)
}

func collectSubmissions(rows *sql.Rows) ([]domain.Submission, error) {
	var res []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// HasPendingSubmission reports whether submitter already has a pending
// submission for the challenge.
func (r Repo) HasPendingSubmission(ctx context.Context, tx *sql.Tx, challengeID, submitterID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM submissions WHERE challenge_id=? AND submitter_id=? AND status='pending'`, challengeID, submitterID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ResolvePending flips a pending submission to its terminal status. The
// WHERE guard on status makes the transition first-writer-wins: zero rows
// affected means the row is gone or someone else already resolved it.
func (r Repo) ResolvePending(ctx context.Context, tx *sql.Tx, id, status, validatorID string, comment, reason *string, validatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE submissions SET status=?, validator_id=?, validator_comment=?, rejection_reason=?, validated_at=? WHERE id=? AND status='pending'`,
		status, validatorID, nullableStringPtr(comment), nullableStringPtr(reason), validatedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PendingQueue lists pending submissions oldest first, excluding the
// viewer's own, annotated with the viewer's eligibility per challenge.
func (r Repo) PendingQueue(ctx context.Context, viewerID string, limit int, cursorCreatedAt, cursorID string) ([]domain.QueueEntry, error) {
	clauses := []string{"s.status='pending'", "s.submitter_id != ?"}
	args := []any{viewerID, viewerID, viewerID}
	if cursorCreatedAt != "" && cursorID != "" {
		clauses = append(clauses, "(s.created_at > ? OR (s.created_at = ? AND s.id > ?))")
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT ` + prefixedSubmissionColumns + `,
  (c.creator_id = ? OR EXISTS (
    SELECT 1 FROM submissions prior
    WHERE prior.challenge_id = s.challenge_id AND prior.submitter_id = ? AND prior.status = 'approved'
  )) AS eligible
FROM submissions s
JOIN challenges c ON c.id = s.challenge_id ` + where + ` ORDER BY s.created_at ASC, s.id ASC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QueueEntry
	for rows.Next() {
		var e domain.QueueEntry
		var imageURL, videoURL, validatorID, validatorComment, rejectionReason, validatedAt sql.NullString
		if err := rows.Scan(&e.Submission.ID, &e.Submission.ChallengeID, &e.Submission.SubmitterID, &e.Submission.ProofText,
			&imageURL, &videoURL, &e.Submission.Status, &validatorID, &validatorComment, &rejectionReason,
			&e.Submission.CreatedAt, &validatedAt, &e.Eligible); err != nil {
			return nil, err
		}
		if imageURL.Valid {
			e.Submission.ImageURL = &imageURL.String
		}
		if videoURL.Valid {
			e.Submission.VideoURL = &videoURL.String
		}
		if validatedAt.Valid {
			e.Submission.ValidatedAt = &validatedAt.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

const prefixedSubmissionColumns = `s.id,s.challenge_id,s.submitter_id,COALESCE(s.proof_text,'') AS proof_text,s.image_url,s.video_url,s.status,s.validator_id,s.validator_comment,s.rejection_reason,s.created_at,s.validated_at`

// IsEligibleValidator checks validator standing for a challenge inside tx.
func (r Repo) IsEligibleValidator(ctx context.Context, tx *sql.Tx, challengeID, validatorID string) (bool, error) {
	var eligible bool
	err := tx.QueryRowContext(ctx, `SELECT (c.creator_id = ? OR EXISTS (
  SELECT 1 FROM submissions prior
  WHERE prior.challenge_id = c.id AND prior.submitter_id = ? AND prior.status = 'approved'
)) FROM challenges c WHERE c.id=?`, validatorID, validatorID, challengeID).Scan(&eligible)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	return eligible, err
}

func (r Repo) CountSubmissionsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM submissions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int64{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, nil
}

// AvgValidationSeconds reports mean pending-to-resolved latency, nil when
// nothing has been resolved yet.
func (r Repo) AvgValidationSeconds(ctx context.Context) (*float64, error) {
	var avg sql.NullFloat64
	err := r.DB.QueryRowContext(ctx, `SELECT AVG(julianday(validated_at) - julianday(created_at)) * 86400.0
FROM submissions WHERE validated_at IS NOT NULL`).Scan(&avg)
	if err != nil {
		return nil, err
	}
	if !avg.Valid {
		return nil, nil
	}
	return &avg.Float64, nil
}
