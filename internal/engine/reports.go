package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"peerproof/internal/domain"
	"peerproof/internal/events"
)

// ReportOptions are parameters for flagging a submission.
type ReportOptions struct {
	SubmissionID string
	ReporterID   string
	Reason       string
	Description  string
}

// FileReport flags a submission for moderator review. A report never
// touches the submission itself; settlement and moderation run
// independently.
func (e Engine) FileReport(ctx context.Context, opts ReportOptions) (domain.SubmissionReport, error) {
	if e.Config == nil {
		return domain.SubmissionReport{}, errors.New("config not loaded")
	}
	if opts.ReporterID == "" {
		return domain.SubmissionReport{}, errors.New("reporter is required")
	}
	if !e.Config.ValidReportReason(opts.Reason) {
		return domain.SubmissionReport{}, fmt.Errorf("%w: %s", ErrInvalidReason, opts.Reason)
	}
	if _, err := e.Repo.GetSubmission(ctx, opts.SubmissionID); err != nil {
		return domain.SubmissionReport{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SubmissionReport{}, err
	}
	defer tx.Rollback()

	dup, err := e.Repo.HasPendingReport(ctx, tx, opts.SubmissionID, opts.ReporterID)
	if err != nil {
		return domain.SubmissionReport{}, err
	}
	if dup {
		return domain.SubmissionReport{}, ErrDuplicateReport
	}
	rep := domain.SubmissionReport{
		ID:           uuid.New().String(),
		SubmissionID: opts.SubmissionID,
		ReporterID:   opts.ReporterID,
		Reason:       opts.Reason,
		Description:  opts.Description,
		Status:       domain.ReportPending,
		CreatedAt:    e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertReport(ctx, tx, rep); err != nil {
		return domain.SubmissionReport{}, err
	}
	if err := e.events().Append(ctx, tx, "report.filed", "report", rep.ID, rep.ReporterID, events.EventPayload{
		"submission_id": rep.SubmissionID,
		"reason":        rep.Reason,
	}); err != nil {
		return domain.SubmissionReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SubmissionReport{}, err
	}
	return rep, nil
}

// ResolveReport closes a pending report as reviewed or dismissed.
func (e Engine) ResolveReport(ctx context.Context, reportID, reviewerID, outcome string) (domain.SubmissionReport, error) {
	if e.Config == nil {
		return domain.SubmissionReport{}, errors.New("config not loaded")
	}
	if outcome != domain.ReportReviewed && outcome != domain.ReportDismissed {
		return domain.SubmissionReport{}, fmt.Errorf("%w: outcome %s", ErrInvalidReason, outcome)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SubmissionReport{}, err
	}
	defer tx.Rollback()

	rep, err := e.Repo.GetReportTx(ctx, tx, reportID)
	if err != nil {
		return rep, err
	}
	if rep.Status != domain.ReportPending {
		return rep, ErrAlreadyResolved
	}
	now := e.now().UTC().Format(time.RFC3339)
	won, err := e.Repo.ResolvePendingReport(ctx, tx, rep.ID, outcome, reviewerID, now)
	if err != nil {
		return rep, err
	}
	if !won {
		return rep, ErrAlreadyResolved
	}
	if outcome == domain.ReportReviewed {
		if bonus := e.Config.Points.ReportReviewBonus; bonus > 0 {
			if err := e.creditPoints(ctx, tx, rep.ReporterID, bonus); err != nil {
				return rep, err
			}
		}
	}
	if err := e.events().Append(ctx, tx, "report.resolved", "report", rep.ID, reviewerID, events.EventPayload{
		"submission_id": rep.SubmissionID,
		"outcome":       outcome,
	}); err != nil {
		return rep, err
	}
	if err := tx.Commit(); err != nil {
		return rep, err
	}
	rep.Status = outcome
	rep.ReviewerID = &reviewerID
	rep.ReviewedAt = &now
	return rep, nil
}
