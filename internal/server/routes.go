package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"peerproof/internal/domain"
	"peerproof/internal/engine"
	"peerproof/internal/repo"
)

func registerChallenges(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "challenge-create",
		Method:      http.MethodPost,
		Path:        "/challenges",
		Summary:     "Create a challenge",
	}, func(ctx context.Context, input *struct {
		Body CreateChallengeRequest
	}) (*struct {
		Body ChallengeResponse
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateChallenge(ctx, engine.ChallengeCreateOptions{
			ID:          stringOrEmpty(input.Body.ID),
			CreatorID:   userID,
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			Points:      input.Body.Points,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChallengeResponse
		}{Body: challengeResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "challenge-get",
		Method:      http.MethodGet,
		Path:        "/challenges/{id}",
		Summary:     "Get a challenge",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ChallengeResponse
	}, error) {
		c, err := e.Repo.GetChallenge(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChallengeResponse
		}{Body: challengeResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "challenge-list",
		Method:      http.MethodGet,
		Path:        "/challenges",
		Summary:     "List challenges",
	}, func(ctx context.Context, input *struct {
		Creator string `query:"creator"`
		Active  bool   `query:"active"`
		Limit   int    `query:"limit"`
		Cursor  string `query:"cursor"`
	}) (*struct {
		Body paginatedChallenges
	}, error) {
		limit := normalizeLimit(input.Limit)
		ts, id, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListChallenges(ctx, repo.ChallengeFilters{
			CreatorID:       input.Creator,
			ActiveOnly:      input.Active,
			Limit:           limit + 1,
			CursorCreatedAt: ts,
			CursorID:        id,
		})
		if err != nil {
			return nil, handleError(err)
		}
		var next string
		if len(items) > limit {
			items = items[:limit]
			last := items[len(items)-1]
			next = composeCursor(last.CreatedAt, last.ID)
		}
		out := make([]ChallengeResponse, 0, len(items))
		for _, c := range items {
			out = append(out, challengeResponse(c))
		}
		return &struct {
			Body paginatedChallenges
		}{Body: paginatedChallenges{Items: out, NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "challenge-update",
		Method:      http.MethodPatch,
		Path:        "/challenges/{id}",
		Summary:     "Update a challenge",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateChallengeRequest
	}) (*struct {
		Body ChallengeResponse
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		existing, err := e.Repo.GetChallenge(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if existing.CreatorID != userID {
			if roleErr := requireRole(ctx, e, "moderator"); roleErr != nil {
				return nil, roleErr
			}
		}
		c, err := e.UpdateChallenge(ctx, engine.ChallengeUpdateOptions{
			ID:          input.ID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Points:      input.Body.Points,
			Active:      input.Body.Active,
			ActorID:     userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChallengeResponse
		}{Body: challengeResponse(c)}, nil
	})
}

func registerSubmissions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submission-create",
		Method:      http.MethodPost,
		Path:        "/submissions",
		Summary:     "Submit proof for a challenge",
	}, func(ctx context.Context, input *struct {
		Body CreateSubmissionRequest
	}) (*struct {
		Body SubmissionResponse
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		image, err := decodeAttachment(input.Body.Image)
		if err != nil {
			return nil, handleError(err)
		}
		video, err := decodeAttachment(input.Body.Video)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.CreateSubmission(ctx, engine.SubmissionCreateOptions{
			ChallengeID: input.Body.ChallengeID,
			SubmitterID: userID,
			ProofText:   stringOrEmpty(input.Body.ProofText),
			Image:       image,
			Video:       video,
			FeedBody:    stringOrEmpty(input.Body.FeedBody),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse
		}{Body: submissionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submission-get",
		Method:      http.MethodGet,
		Path:        "/submissions/{id}",
		Summary:     "Get a submission",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body SubmissionResponse
	}, error) {
		s, err := e.Repo.GetSubmission(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse
		}{Body: submissionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submission-list",
		Method:      http.MethodGet,
		Path:        "/submissions",
		Summary:     "List submissions",
	}, func(ctx context.Context, input *struct {
		Challenge string `query:"challenge"`
		Submitter string `query:"submitter"`
		Status    string `query:"status" enum:",pending,approved,rejected"`
		Limit     int    `query:"limit"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedSubmissions
	}, error) {
		limit := normalizeLimit(input.Limit)
		ts, id, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListSubmissions(ctx, repo.SubmissionFilters{
			ChallengeID:     input.Challenge,
			SubmitterID:     input.Submitter,
			Status:          input.Status,
			Limit:           limit + 1,
			CursorCreatedAt: ts,
			CursorID:        id,
		})
		if err != nil {
			return nil, handleError(err)
		}
		var next string
		if len(items) > limit {
			items = items[:limit]
			last := items[len(items)-1]
			next = composeCursor(last.CreatedAt, last.ID)
		}
		out := make([]SubmissionResponse, 0, len(items))
		for _, s := range items {
			out = append(out, submissionResponse(s))
		}
		return &struct {
			Body paginatedSubmissions
		}{Body: paginatedSubmissions{Items: out, NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submission-approve",
		Method:      http.MethodPost,
		Path:        "/submissions/{id}/approve",
		Summary:     "Approve a pending submission",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ApproveRequest
	}) (*struct {
		Body SubmissionResponse
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.Approve(ctx, input.ID, userID, stringOrEmpty(input.Body.Comment))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse
		}{Body: submissionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submission-reject",
		Method:      http.MethodPost,
		Path:        "/submissions/{id}/reject",
		Summary:     "Reject a pending submission",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body RejectRequest
	}) (*struct {
		Body SubmissionResponse
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.Reject(ctx, input.ID, userID, input.Body.Reason, stringOrEmpty(input.Body.Comment))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse
		}{Body: submissionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submission-can-validate",
		Method:      http.MethodGet,
		Path:        "/submissions/{id}/can-validate",
		Summary:     "Check validation eligibility for a submission",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body struct {
			Eligible bool `json:"eligible"`
		}
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eligible, err := e.CanValidate(ctx, input.ID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		res := &struct {
			Body struct {
				Eligible bool `json:"eligible"`
			}
		}{}
		res.Body.Eligible = eligible
		return res, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submission-audit",
		Method:      http.MethodGet,
		Path:        "/submissions/{id}/audit",
		Summary:     "Get the validation audit for a submission",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AuditResponse
	}, error) {
		a, err := e.Repo.GetAuditBySubmission(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuditResponse
		}{Body: auditResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submission-report",
		Method:      http.MethodPost,
		Path:        "/submissions/{id}/report",
		Summary:     "Report a submission for abuse",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ReportRequest
	}) (*struct {
		Body ReportResponse
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.FileReport(ctx, engine.ReportOptions{
			SubmissionID: input.ID,
			ReporterID:   userID,
			Reason:       input.Body.Reason,
			Description:  stringOrEmpty(input.Body.Description),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse
		}{Body: reportResponse(r)}, nil
	})
}

func registerQueue(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "validation-queue",
		Method:      http.MethodGet,
		Path:        "/validation-queue",
		Summary:     "List pending submissions awaiting validation",
	}, func(ctx context.Context, input *struct {
		Limit  int    `query:"limit"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedQueue
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		ts, id, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, handleError(err)
		}
		entries, err := e.ValidationQueue(ctx, userID, limit+1, ts, id)
		if err != nil {
			return nil, handleError(err)
		}
		var next string
		if len(entries) > limit {
			entries = entries[:limit]
			last := entries[len(entries)-1].Submission
			next = composeCursor(last.CreatedAt, last.ID)
		}
		out := make([]QueueEntryResponse, 0, len(entries))
		for _, entry := range entries {
			out = append(out, queueEntryResponse(entry))
		}
		return &struct {
			Body paginatedQueue
		}{Body: paginatedQueue{Items: out, NextCursor: next}}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "report-list",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List abuse reports",
	}, func(ctx context.Context, input *struct {
		Submission string `query:"submission"`
		Status     string `query:"status" enum:",pending,reviewed,dismissed"`
		Limit      int    `query:"limit"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedReports
	}, error) {
		if roleErr := requireRole(ctx, e, "moderator"); roleErr != nil {
			return nil, roleErr
		}
		limit := normalizeLimit(input.Limit)
		ts, id, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListReports(ctx, repo.ReportFilters{
			SubmissionID:    input.Submission,
			Status:          input.Status,
			Limit:           limit + 1,
			CursorCreatedAt: ts,
			CursorID:        id,
		})
		if err != nil {
			return nil, handleError(err)
		}
		var next string
		if len(items) > limit {
			items = items[:limit]
			last := items[len(items)-1]
			next = composeCursor(last.CreatedAt, last.ID)
		}
		out := make([]ReportResponse, 0, len(items))
		for _, r := range items {
			out = append(out, reportResponse(r))
		}
		return &struct {
			Body paginatedReports
		}{Body: paginatedReports{Items: out, NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-resolve",
		Method:      http.MethodPost,
		Path:        "/reports/{id}/resolve",
		Summary:     "Resolve an abuse report",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ResolveReportRequest
	}) (*struct {
		Body ReportResponse
	}, error) {
		if roleErr := requireRole(ctx, e, "moderator"); roleErr != nil {
			return nil, roleErr
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.ResolveReport(ctx, input.ID, userID, input.Body.Outcome)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse
		}{Body: reportResponse(r)}, nil
	})
}

func registerFeed(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "feed-list",
		Method:      http.MethodGet,
		Path:        "/feed",
		Summary:     "List feed posts",
	}, func(ctx context.Context, input *struct {
		Author    string `query:"author"`
		Challenge string `query:"challenge"`
		Limit     int    `query:"limit"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedFeed
	}, error) {
		limit := normalizeLimit(input.Limit)
		ts, id, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListFeedPosts(ctx, repo.FeedFilters{
			AuthorID:        input.Author,
			ChallengeID:     input.Challenge,
			Limit:           limit + 1,
			CursorCreatedAt: ts,
			CursorID:        id,
		})
		if err != nil {
			return nil, handleError(err)
		}
		var next string
		if len(items) > limit {
			items = items[:limit]
			last := items[len(items)-1]
			next = composeCursor(last.CreatedAt, last.ID)
		}
		out := make([]FeedPostResponse, 0, len(items))
		for _, p := range items {
			out = append(out, feedPostResponse(p))
		}
		return &struct {
			Body paginatedFeed
		}{Body: paginatedFeed{Items: out, NextCursor: next}}, nil
	})
}

func registerProfiles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "profile-get",
		Method:      http.MethodGet,
		Path:        "/profiles/{id}",
		Summary:     "Get a profile",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProfileResponse
	}, error) {
		p, err := e.Repo.GetProfile(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileResponse
		}{Body: profileResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "profile-progress",
		Method:      http.MethodGet,
		Path:        "/profiles/{id}/progress/{challenge}",
		Summary:     "Get a user's progress on a challenge",
	}, func(ctx context.Context, input *struct {
		ID        string `path:"id"`
		Challenge string `path:"challenge"`
	}) (*struct {
		Body domain.ChallengeProgress
	}, error) {
		p, err := e.Repo.GetProgress(ctx, input.Challenge, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChallengeProgress
		}{Body: p}, nil
	})
}

func registerAdmin(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "admin-stats",
		Method:      http.MethodGet,
		Path:        "/admin/stats",
		Summary:     "Instance statistics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AdminStatsResponse
	}, error) {
		if roleErr := requireRole(ctx, e, "admin"); roleErr != nil {
			return nil, roleErr
		}
		stats, err := e.AdminStats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AdminStatsResponse
		}{Body: statsResponse(stats)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "config-get",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Instance configuration",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body InstanceConfigResponse
	}, error) {
		cfg := e.Config
		if stored, err := e.Repo.GetInstanceConfig(ctx); err == nil {
			cfg = stored
		}
		if cfg == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "instance not initialized", nil)
		}
		return &struct {
			Body InstanceConfigResponse
		}{Body: configResponse(cfg)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "event-list",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit"`
		From       int64  `query:"from"`
	}) (*struct {
		Body paginatedEvents
	}, error) {
		limit := normalizeLimit(input.Limit)
		var (
			items []domain.Event
			err   error
		)
		if input.From > 0 {
			items, err = e.Repo.LatestEventsFrom(ctx, limit, input.From, input.Type, input.EntityKind, input.EntityID)
		} else {
			items, err = e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			out = append(out, eventResponse(evt))
		}
		var next string
		if len(items) == limit && limit > 0 {
			next = fmt.Sprint(items[len(items)-1].ID)
		}
		return &struct {
			Body paginatedEvents
		}{Body: paginatedEvents{Items: out, NextCursor: next}}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res := MeResponse{
			UserID: principal.UserID,
			Role:   principal.Role,
			Source: principal.Source,
		}
		if p, err := e.Repo.GetProfile(ctx, principal.UserID); err == nil {
			pr := profileResponse(p)
			res.Profile = &pr
			res.Role = p.Role
		}
		return &struct {
			Body MeResponse
		}{Body: res}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, auth AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Mint a development token",
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest
	}) (*struct {
		Body DevLoginResponse
	}, error) {
		if auth.JWTSecret == "" {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "dev login disabled", nil)
		}
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		role := input.Body.Role
		if role == "" {
			role = "user"
		}
		name := input.Body.DisplayName
		if name == "" {
			name = input.Body.UserID
		}
		if err := e.Repo.EnsureProfile(ctx, domain.Profile{
			ID:          input.Body.UserID,
			DisplayName: name,
			Role:        role,
			CreatedAt:   e.NowString(),
		}); err != nil {
			return nil, handleError(err)
		}
		token, err := signDevToken(auth.JWTSecret, input.Body.UserID, role, name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DevLoginResponse
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

var errInvalidAttachment = errors.New("invalid attachment encoding")

func decodeAttachment(req *AttachmentRequest) (*engine.ProofAttachment, error) {
	if req == nil {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(req.DataBase64)
	if err != nil {
		return nil, errInvalidAttachment
	}
	return &engine.ProofAttachment{Data: data, ContentType: req.ContentType}, nil
}
