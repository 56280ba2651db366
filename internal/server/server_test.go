package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"peerproof/internal/config"
	"peerproof/internal/db"
	"peerproof/internal/domain"
	"peerproof/internal/engine"
	"peerproof/internal/migrate"
	"peerproof/internal/repo"
)

func apiKeyFixture(id, userID, secret string) domain.APIKey {
	return domain.APIKey{
		ID:        id,
		UserID:    userID,
		Name:      "test key",
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: "2024-01-01T00:00:00Z",
	}
}

const testJWTSecret = "server-test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("peerproof")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if err := e.InitInstance(context.Background(), "peerproof", "operator", "Operator"); err != nil {
		t.Fatalf("init instance: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testJWTSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func login(t *testing.T, srv *testServer, userID, role string) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"user_id": userID,
		"role":    role,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login %s: %d %s", userID, res.StatusCode, string(data))
	}
	var body DevLoginResponse
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + body.Token}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestChallengeSubmissionApprovalFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	creator := login(t, srv, "creator", "user")
	alice := login(t, srv, "alice", "user")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/challenges", map[string]any{
		"title":  "Run 5k",
		"points": 10,
	}, creator)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create challenge: %d %s", res.StatusCode, string(data))
	}
	var challenge ChallengeResponse
	_ = json.Unmarshal(data, &challenge)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", map[string]any{
		"challenge_id": challenge.ID,
		"proof_text":   "strava screenshot attached",
	}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create submission: %d %s", res.StatusCode, string(data))
	}
	var submission SubmissionResponse
	_ = json.Unmarshal(data, &submission)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions/"+submission.ID+"/approve", map[string]any{
		"comment": "verified",
	}, creator)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, string(data))
	}
	var approved SubmissionResponse
	_ = json.Unmarshal(data, &approved)
	if approved.Status != "approved" {
		t.Fatalf("status = %s, want approved", approved.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/profiles/alice", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get profile: %d %s", res.StatusCode, string(data))
	}
	var profile ProfileResponse
	_ = json.Unmarshal(data, &profile)
	if profile.Points != 10 {
		t.Fatalf("points = %d, want 10", profile.Points)
	}

	// settled submissions cannot be resolved again
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions/"+submission.ID+"/approve", map[string]any{}, creator)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second approve: %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "already_resolved" {
		t.Fatalf("error code = %s, want already_resolved", code)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/challenges", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("error code = %s, want unauthorized", code)
	}
}

func TestHealthIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
}

func TestEligibilityEnforcedOverAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	creator := login(t, srv, "creator", "user")
	alice := login(t, srv, "alice", "user")
	bob := login(t, srv, "bob", "user")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/challenges", map[string]any{
		"title":  "Bake bread",
		"points": 5,
	}, creator)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create challenge: %d %s", res.StatusCode, string(data))
	}
	var challenge ChallengeResponse
	_ = json.Unmarshal(data, &challenge)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", map[string]any{
		"challenge_id": challenge.ID,
		"proof_text":   "sourdough photo",
	}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	var submission SubmissionResponse
	_ = json.Unmarshal(data, &submission)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions/"+submission.ID+"/approve", map[string]any{}, bob)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("ineligible approve: %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_eligible" {
		t.Fatalf("error code = %s, want not_eligible", code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/validation-queue", nil, bob)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("queue: %d %s", res.StatusCode, string(data))
	}
	var queue paginatedQueue
	_ = json.Unmarshal(data, &queue)
	if len(queue.Items) != 1 || queue.Items[0].Eligible {
		t.Fatalf("unexpected queue for bob: %s", string(data))
	}
}

func TestRejectionReasonValidatedOverAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	creator := login(t, srv, "creator", "user")
	alice := login(t, srv, "alice", "user")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/challenges", map[string]any{
		"title":  "Do a handstand",
		"points": 3,
	}, creator)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create challenge: %d %s", res.StatusCode, string(data))
	}
	var challenge ChallengeResponse
	_ = json.Unmarshal(data, &challenge)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", map[string]any{
		"challenge_id": challenge.ID,
		"proof_text":   "video attached",
	}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	var submission SubmissionResponse
	_ = json.Unmarshal(data, &submission)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions/"+submission.ID+"/reject", map[string]any{
		"reason": "not-in-catalog",
	}, creator)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad reason: %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_reason" {
		t.Fatalf("error code = %s, want invalid_reason", code)
	}
}

func TestAdminStatsRequiresRole(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	user := login(t, srv, "plain-user", "user")
	admin := login(t, srv, "boss", "admin")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/admin/stats", nil, user)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("user stats: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/admin/stats", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin stats: %d %s", res.StatusCode, string(data))
	}
	var stats AdminStatsResponse
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
}

func TestMeReflectsProfile(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "someone", "moderator")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	var me MeResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.UserID != "someone" || me.Role != "moderator" {
		t.Fatalf("unexpected me: %+v", me)
	}
	if me.Profile == nil {
		t.Fatalf("dev login should have created a profile")
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	robot := domain.Profile{ID: "robot", DisplayName: "Robot", Role: "user", CreatedAt: srv.Engine.NowString()}
	if err := srv.Engine.Repo.EnsureProfile(ctx, robot); err != nil {
		t.Fatalf("ensure profile: %v", err)
	}
	if err := srv.Engine.Repo.InsertAPIKey(ctx, nil, apiKeyFixture("key-1", "robot", "secret-value")); err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "secret-value"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth: %d %s", res.StatusCode, string(data))
	}
	var me MeResponse
	_ = json.Unmarshal(data, &me)
	if me.UserID != "robot" || me.Source != "api_key" {
		t.Fatalf("unexpected principal: %+v", me)
	}
}
