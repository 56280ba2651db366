package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"peerproof/internal/config"
	"peerproof/internal/db"
	"peerproof/internal/domain"
	"peerproof/internal/engine"
	"peerproof/internal/migrate"
	"peerproof/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("test-community")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.InitInstance(ctx, "test-community", "admin", "Admin"); err != nil {
		t.Fatalf("init instance: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) addMember(t *testing.T, id string) {
	t.Helper()
	err := env.Engine.Repo.EnsureProfile(env.Ctx, domain.Profile{
		ID:          id,
		DisplayName: id,
		Role:        "user",
		CreatedAt:   "2024-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("add member %s: %v", id, err)
	}
}

func (env testEnv) points(t *testing.T, id string) int64 {
	t.Helper()
	p, err := env.Engine.Repo.GetProfile(env.Ctx, id)
	if err != nil {
		t.Fatalf("get profile %s: %v", id, err)
	}
	return p.Points
}

func (env testEnv) newChallenge(t *testing.T, creator string, points int64) domain.Challenge {
	t.Helper()
	env.addMember(t, creator)
	c, err := env.Engine.CreateChallenge(env.Ctx, engine.ChallengeCreateOptions{
		CreatorID: creator,
		Title:     "Climb the hill",
		Points:    points,
	})
	if err != nil {
		t.Fatalf("create challenge: %v", err)
	}
	return c
}

func (env testEnv) newSubmission(t *testing.T, challengeID, submitter string) domain.Submission {
	t.Helper()
	env.addMember(t, submitter)
	s, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionCreateOptions{
		ChallengeID: challengeID,
		SubmitterID: submitter,
		ProofText:   "made it to the top",
	})
	if err != nil {
		t.Fatalf("create submission: %v", err)
	}
	return s
}

func TestApproveCreditsPointsOnce(t *testing.T) {
	env := newTestEnv(t)
	c := env.newChallenge(t, "creator", 10)
	s := env.newSubmission(t, c.ID, "alice")

	got, err := env.Engine.Approve(env.Ctx, s.ID, "creator", "nice work")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != domain.StatusApproved {
		t.Fatalf("status = %s, want approved", got.Status)
	}
	if got.ValidatorID == nil || *got.ValidatorID != "creator" {
		t.Fatalf("validator not recorded")
	}
	if pts := env.points(t, "alice"); pts != 10 {
		t.Fatalf("submitter points = %d, want 10", pts)
	}
	// default validator reward is 5
	if pts := env.points(t, "creator"); pts != 5 {
		t.Fatalf("validator points = %d, want 5", pts)
	}

	// second decision of either kind loses the race
	if _, err := env.Engine.Approve(env.Ctx, s.ID, "creator", ""); !errors.Is(err, engine.ErrAlreadyResolved) {
		t.Fatalf("second approve err = %v, want ErrAlreadyResolved", err)
	}
	if _, err := env.Engine.Reject(env.Ctx, s.ID, "creator", "proof.insufficient", ""); !errors.Is(err, engine.ErrAlreadyResolved) {
		t.Fatalf("reject after approve err = %v, want ErrAlreadyResolved", err)
	}
	if pts := env.points(t, "alice"); pts != 10 {
		t.Fatalf("points changed after repeated resolution: %d", pts)
	}

	audit, err := env.Engine.Repo.GetAuditBySubmission(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("get audit: %v", err)
	}
	if audit.Action != "approved" || audit.ValidatorID != "creator" {
		t.Fatalf("unexpected audit: %+v", audit)
	}

	progress, err := env.Engine.Repo.GetProgress(env.Ctx, c.ID, "alice")
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if progress.Status != "completed" {
		t.Fatalf("progress status = %s, want completed", progress.Status)
	}
}

func TestRejectLeavesBalanceAndCountsDefeat(t *testing.T) {
	env := newTestEnv(t)
	c := env.newChallenge(t, "creator", 10)
	s := env.newSubmission(t, c.ID, "alice")

	got, err := env.Engine.Reject(env.Ctx, s.ID, "creator", "proof.insufficient", "picture is too dark")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != domain.StatusRejected {
		t.Fatalf("status = %s, want rejected", got.Status)
	}
	if got.RejectionReason == nil || *got.RejectionReason != "proof.insufficient" {
		t.Fatalf("rejection reason not stored")
	}
	if pts := env.points(t, "alice"); pts != 0 {
		t.Fatalf("points = %d, want 0", pts)
	}
	p, err := env.Engine.Repo.GetProfile(env.Ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if p.Defeats != 1 {
		t.Fatalf("defeats = %d, want 1", p.Defeats)
	}
	defeat, err := env.Engine.Repo.GetDefeat(env.Ctx, c.ID, "alice")
	if err != nil {
		t.Fatalf("get defeat: %v", err)
	}
	if defeat.Count != 1 {
		t.Fatalf("defeat count = %d, want 1", defeat.Count)
	}

	// rejection frees the slot for another attempt
	if _, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionCreateOptions{
		ChallengeID: c.ID,
		SubmitterID: "alice",
		ProofText:   "second try",
	}); err != nil {
		t.Fatalf("resubmit after rejection: %v", err)
	}
}

func TestRejectRequiresCatalogReason(t *testing.T) {
	env := newTestEnv(t)
	c := env.newChallenge(t, "creator", 10)
	s := env.newSubmission(t, c.ID, "alice")
	if _, err := env.Engine.Reject(env.Ctx, s.ID, "creator", "because", ""); !errors.Is(err, engine.ErrInvalidReason) {
		t.Fatalf("err = %v, want ErrInvalidReason", err)
	}
}

func TestSelfValidationBlocked(t *testing.T) {
	env := newTestEnv(t)
	c := env.newChallenge(t, "creator", 10)
	s := env.newSubmission(t, c.ID, "alice")
	if _, err := env.Engine.Approve(env.Ctx, s.ID, "alice", ""); !errors.Is(err, engine.ErrSelfValidation) {
		t.Fatalf("err = %v, want ErrSelfValidation", err)
	}
}

func TestEligibilityEarnedByApproval(t *testing.T) {
	env := newTestEnv(t)
	c := env.newChallenge(t, "creator", 10)
	aliceSub := env.newSubmission(t, c.ID, "alice")
	bobSub := env.newSubmission(t, c.ID, "bob")

	// bob has no standing yet
	if _, err := env.Engine.Approve(env.Ctx, aliceSub.ID, "bob", ""); !errors.Is(err, engine.ErrNotEligible) {
		t.Fatalf("err = %v, want ErrNotEligible", err)
	}

	// creator approves bob; bob now has standing
	if _, err := env.Engine.Approve(env.Ctx, bobSub.ID, "creator", ""); err != nil {
		t.Fatalf("creator approves bob: %v", err)
	}
	if ok, err := env.Engine.CanValidate(env.Ctx, aliceSub.ID, "bob"); err != nil || !ok {
		t.Fatalf("CanValidate = %v, %v; want true", ok, err)
	}
	if _, err := env.Engine.Approve(env.Ctx, aliceSub.ID, "bob", ""); err != nil {
		t.Fatalf("bob approves alice: %v", err)
	}
}

func TestDuplicatePendingSubmission(t *testing.T) {
	env := newTestEnv(t)
	c := env.newChallenge(t, "creator", 10)
	env.newSubmission(t, c.ID, "alice")
	_, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionCreateOptions{
		ChallengeID: c.ID,
		SubmitterID: "alice",
		ProofText:   "again",
	})
	if !errors.Is(err, engine.ErrDuplicatePending) {
		t.Fatalf("err = %v, want ErrDuplicatePending", err)
	}
}

func TestInactiveChallengeRejectsSubmissions(t *testing.T) {
	env := newTestEnv(t)
	c := env.newChallenge(t, "creator", 10)
	inactive := false
	if _, err := env.Engine.UpdateChallenge(env.Ctx, engine.ChallengeUpdateOptions{
		ID:      c.ID,
		Active:  &inactive,
		ActorID: "creator",
	}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	env.addMember(t, "alice")
	_, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionCreateOptions{
		ChallengeID: c.ID,
		SubmitterID: "alice",
		ProofText:   "too late",
	})
	if !errors.Is(err, engine.ErrChallengeInactive) {
		t.Fatalf("err = %v, want ErrChallengeInactive", err)
	}
}

func TestValidationQueueExcludesOwnAndFlagsEligibility(t *testing.T) {
	env := newTestEnv(t)
	c := env.newChallenge(t, "creator", 10)
	env.newSubmission(t, c.ID, "alice")
	env.newSubmission(t, c.ID, "bob")

	entries, err := env.Engine.ValidationQueue(env.Ctx, "alice", 50, "", "")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("queue len = %d, want 1 (own submission excluded)", len(entries))
	}
	if entries[0].Submission.SubmitterID != "bob" {
		t.Fatalf("unexpected queue entry: %+v", entries[0])
	}
	if entries[0].Eligible {
		t.Fatalf("alice should not be eligible yet")
	}

	creatorView, err := env.Engine.ValidationQueue(env.Ctx, "creator", 50, "", "")
	if err != nil {
		t.Fatalf("creator queue: %v", err)
	}
	if len(creatorView) != 2 {
		t.Fatalf("creator queue len = %d, want 2", len(creatorView))
	}
	for _, entry := range creatorView {
		if !entry.Eligible {
			t.Fatalf("creator should be eligible for %s", entry.Submission.ID)
		}
	}
}

func TestReportLifecycle(t *testing.T) {
	env := newTestEnv(t)
	c := env.newChallenge(t, "creator", 10)
	s := env.newSubmission(t, c.ID, "alice")
	env.addMember(t, "bob")

	r, err := env.Engine.FileReport(env.Ctx, engine.ReportOptions{
		SubmissionID: s.ID,
		ReporterID:   "bob",
		Reason:       "cheating",
		Description:  "photoshopped",
	})
	if err != nil {
		t.Fatalf("file report: %v", err)
	}
	if r.Status != domain.ReportPending {
		t.Fatalf("status = %s, want pending", r.Status)
	}

	if _, err := env.Engine.FileReport(env.Ctx, engine.ReportOptions{
		SubmissionID: s.ID,
		ReporterID:   "bob",
		Reason:       "spam",
	}); !errors.Is(err, engine.ErrDuplicateReport) {
		t.Fatalf("duplicate report err = %v, want ErrDuplicateReport", err)
	}

	if _, err := env.Engine.FileReport(env.Ctx, engine.ReportOptions{
		SubmissionID: s.ID,
		ReporterID:   "bob",
		Reason:       "made-up",
	}); !errors.Is(err, engine.ErrInvalidReason) {
		t.Fatalf("bad reason err = %v, want ErrInvalidReason", err)
	}

	if _, err := env.Engine.ResolveReport(env.Ctx, r.ID, "admin", "escalated"); !errors.Is(err, engine.ErrInvalidReason) {
		t.Fatalf("bad outcome err = %v, want ErrInvalidReason", err)
	}

	resolved, err := env.Engine.ResolveReport(env.Ctx, r.ID, "admin", "reviewed")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != domain.ReportReviewed {
		t.Fatalf("status = %s, want reviewed", resolved.Status)
	}
	if resolved.ReviewerID == nil || *resolved.ReviewerID != "admin" {
		t.Fatalf("reviewer not recorded")
	}
	if _, err := env.Engine.ResolveReport(env.Ctx, r.ID, "admin", "dismissed"); !errors.Is(err, engine.ErrAlreadyResolved) {
		t.Fatalf("second resolve err = %v, want ErrAlreadyResolved", err)
	}

	// resolving a report is moderation bookkeeping, the submission is untouched
	sub, err := env.Engine.Repo.GetSubmission(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if sub.Status != domain.StatusPending {
		t.Fatalf("submission status = %s, want pending after report review", sub.Status)
	}
	if sub.ValidatorID != nil {
		t.Fatalf("submission validator set by report review")
	}
}

func TestConcurrentDecisionsSettleOnce(t *testing.T) {
	env := newTestEnv(t)
	c := env.newChallenge(t, "creator", 10)

	// mallory earns validation rights through an approved submission
	warm := env.newSubmission(t, c.ID, "mallory")
	if _, err := env.Engine.Approve(env.Ctx, warm.ID, "creator", ""); err != nil {
		t.Fatalf("warm-up approve: %v", err)
	}
	s := env.newSubmission(t, c.ID, "alice")

	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = env.Engine.Approve(env.Ctx, s.ID, "creator", "")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = env.Engine.Reject(env.Ctx, s.ID, "mallory", "proof.insufficient", "")
	}()
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, engine.ErrAlreadyResolved):
			losses++
		default:
			t.Fatalf("unexpected decision err: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("wins = %d, losses = %d, want exactly one winner", wins, losses)
	}

	sub, err := env.Engine.Repo.GetSubmission(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	audit, err := env.Engine.Repo.GetAuditBySubmission(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("get audit: %v", err)
	}
	if audit.Action != sub.Status {
		t.Fatalf("audit action %s does not match submission status %s", audit.Action, sub.Status)
	}
	switch sub.Status {
	case domain.StatusApproved:
		if pts := env.points(t, "alice"); pts != 10 {
			t.Fatalf("submitter points = %d, want 10", pts)
		}
	case domain.StatusRejected:
		if pts := env.points(t, "alice"); pts != 0 {
			t.Fatalf("submitter points = %d, want 0 after rejection", pts)
		}
	default:
		t.Fatalf("submission status = %s, want a settled state", sub.Status)
	}
}

func TestAdminStats(t *testing.T) {
	env := newTestEnv(t)
	c := env.newChallenge(t, "creator", 10)
	approved := env.newSubmission(t, c.ID, "alice")
	env.newSubmission(t, c.ID, "bob")
	if _, err := env.Engine.Approve(env.Ctx, approved.ID, "creator", ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	env.addMember(t, "carol")
	if _, err := env.Engine.FileReport(env.Ctx, engine.ReportOptions{
		SubmissionID: approved.ID,
		ReporterID:   "carol",
		Reason:       "spam",
	}); err != nil {
		t.Fatalf("file report: %v", err)
	}

	stats, err := env.Engine.AdminStats(env.Ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingReports != 1 {
		t.Fatalf("pending reports = %d, want 1", stats.PendingReports)
	}
	if stats.SubmissionCounts["approved"] != 1 || stats.SubmissionCounts["pending"] != 1 {
		t.Fatalf("unexpected counts: %v", stats.SubmissionCounts)
	}
	if stats.AvgValidateSecs == nil {
		t.Fatalf("expected avg validation time")
	}
	if len(stats.Leaderboard) == 0 || stats.Leaderboard[0].ValidatorID != "creator" {
		t.Fatalf("unexpected leaderboard: %+v", stats.Leaderboard)
	}
}

func TestSubmissionRequiresProof(t *testing.T) {
	env := newTestEnv(t)
	c := env.newChallenge(t, "creator", 10)
	env.addMember(t, "alice")
	_, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionCreateOptions{
		ChallengeID: c.ID,
		SubmitterID: "alice",
	})
	if err == nil {
		t.Fatalf("expected error for empty proof")
	}
}

func TestApproveEventsAndFeed(t *testing.T) {
	env := newTestEnv(t)
	c := env.newChallenge(t, "creator", 10)
	s := env.newSubmission(t, c.ID, "alice")
	if _, err := env.Engine.Approve(env.Ctx, s.ID, "creator", ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 50, "", "submission", s.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	types := map[string]bool{}
	for _, evt := range events {
		types[evt.Type] = true
		if evt.TS != "2024-01-01T00:00:00Z" {
			t.Fatalf("event ts = %s, want the injected clock", evt.TS)
		}
	}
	if !types["submission.created"] || !types["submission.approved"] {
		t.Fatalf("missing submission events: %v", types)
	}
	post, err := env.Engine.Repo.GetFeedPostBySubmission(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("feed post: %v", err)
	}
	if post.AuthorID != "alice" || post.ChallengeID != c.ID {
		t.Fatalf("unexpected feed post: %+v", post)
	}
}

func TestPointsNeverGoNegative(t *testing.T) {
	env := newTestEnv(t)
	env.addMember(t, "alice")
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	ok, err := env.Engine.Repo.AddPoints(env.Ctx, tx, "alice", -1)
	if err != nil {
		t.Fatalf("add points: %v", err)
	}
	if ok {
		t.Fatalf("expected debit below zero to be refused")
	}
}

func TestUnknownSubmissionNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.addMember(t, "creator")
	_, err := env.Engine.Approve(env.Ctx, "nope", "creator", "")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
