package repo

import (
	"context"
	"database/sql"

	"peerproof/internal/domain"
)

// UpsertProgress stamps a user's standing on a challenge inside tx.
func (r Repo) UpsertProgress(ctx context.Context, tx *sql.Tx, p domain.ChallengeProgress) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO challenge_progress(challenge_id,user_id,status,completed_submission_id,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(challenge_id,user_id) DO UPDATE SET status=excluded.status, completed_submission_id=excluded.completed_submission_id, updated_at=excluded.updated_at`,
		p.ChallengeID, p.UserID, p.Status, nullableStringPtr(p.CompletedSubmissionID), p.UpdatedAt)
	return err
}

func (r Repo) GetProgress(ctx context.Context, challengeID, userID string) (domain.ChallengeProgress, error) {
	var p domain.ChallengeProgress
	var completed sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT challenge_id,user_id,status,completed_submission_id,updated_at FROM challenge_progress WHERE challenge_id=? AND user_id=?`, challengeID, userID).
		Scan(&p.ChallengeID, &p.UserID, &p.Status, &completed, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if completed.Valid {
		p.CompletedSubmissionID = &completed.String
	}
	return p, nil
}

// IncrementDefeat bumps the per-challenge defeat counter inside tx.
func (r Repo) IncrementDefeat(ctx context.Context, tx *sql.Tx, challengeID, userID, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO challenge_defeats(challenge_id,user_id,count,updated_at) VALUES (?,?,1,?)
ON CONFLICT(challenge_id,user_id) DO UPDATE SET count=count+1, updated_at=excluded.updated_at`,
		challengeID, userID, now)
	return err
}

func (r Repo) GetDefeat(ctx context.Context, challengeID, userID string) (domain.ChallengeDefeat, error) {
	var d domain.ChallengeDefeat
	err := r.DB.QueryRowContext(ctx, `SELECT challenge_id,user_id,count,updated_at FROM challenge_defeats WHERE challenge_id=? AND user_id=?`, challengeID, userID).
		Scan(&d.ChallengeID, &d.UserID, &d.Count, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}
