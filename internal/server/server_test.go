package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pursuit/internal/authz"
	"pursuit/internal/config"
	"pursuit/internal/db"
	"pursuit/internal/domain"
	"pursuit/internal/events"
	"pursuit/internal/migrate"
	"pursuit/internal/repo"
	"pursuit/internal/workflow"
	"pursuit/internal/workflow/steps"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default("pursuit")
	cfg.RBAC.Roles["gateway"] = config.RBACRole{
		DisplayName: "Gateway Service",
		ADGroupName: "aud_api://pursuit",
		Permissions: []string{"Opportunities_Read_All"},
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	if err := r.SeedCatalog(ctx, cfg); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}

	profiles := []domain.UserProfile{
		{ID: "u-alice", DisplayName: "Alice", UserPrincipalName: "alice@example.com", RoleNames: []string{"Relationship Manager", "Loan Officer"}},
		{ID: "u-bob", DisplayName: "Bob", UserPrincipalName: "bob@example.com", RoleNames: []string{"Credit Analyst"}},
		{ID: "u-root", DisplayName: "Root", UserPrincipalName: "root@example.com", RoleNames: []string{"Administrator"}},
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for _, p := range profiles {
		if err := r.UpsertUserProfile(ctx, tx, p); err != nil {
			t.Fatalf("seed profile %s: %v", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit profiles: %v", err)
	}

	tmpl := domain.Template{
		ID:   "tmpl-std",
		Name: "Standard",
		ProcessList: []domain.ProcessStep{
			{Order: 1, ProcessType: "checklisttab", ProcessStep: "Start Process", Channel: "Deal Room"},
			{Order: 2, ProcessType: "checklisttab", ProcessStep: "Credit Review"},
			{Order: 3, ProcessType: "proposalstatustab", ProcessStep: "Proposal"},
		},
	}
	if err := r.UpsertTemplate(ctx, tmpl); err != nil {
		t.Fatalf("seed template: %v", err)
	}

	engine := authz.New(r, cfg.App.ClientID)
	writer := events.Writer{DB: conn}
	orchestrator := workflow.New(steps.Wire(steps.Deps{DB: conn, Events: writer, Authz: engine}), nil, nil, cfg)

	handler, err := New(Config{
		DB:           conn,
		Repo:         r,
		Events:       writer,
		Authz:        engine,
		Orchestrator: orchestrator,
		App:          cfg,
		BasePath:     "/v0",
		Auth:         AuthConfig{JWTSecret: testSecret},
	})
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
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func userToken(t *testing.T, upn string) string {
	t.Helper()
	return signToken(t, jwt.MapClaims{
		"preferred_username": upn,
		"aud":                "api://pursuit",
		"tid":                "local-dev-tenant",
		"exp":                time.Now().Add(time.Hour).Unix(),
	})
}

func appToken(t *testing.T, azp, aud string) string {
	t.Helper()
	return signToken(t, jwt.MapClaims{
		"azp": azp,
		"aud": aud,
		"tid": "local-dev-tenant",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, client *http.Client, method, url, token string, body any) (*http.Response, []byte) {
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
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
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

func createOpportunity(t *testing.T, srv *testServer, token string) OpportunityResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/opportunities", token, map[string]any{
		"display_name": "Harbor Expansion",
		"template_id":  "tmpl-std",
		"team_members": []map[string]any{
			{"id": "m1", "display_name": "Alice", "user_principal_name": "alice@example.com"},
		},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created OpportunityResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal opportunity: %v", err)
	}
	return created
}

func TestAuthenticationRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/opportunities", "", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}

	// Health stays open.
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", res.StatusCode)
	}
}

func TestCreateOpportunityRunsWorkflow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	alice := userToken(t, "alice@example.com")

	created := createOpportunity(t, srv, alice)
	if created.State != "in_progress" {
		t.Fatalf("multi-step template should leave the opportunity in progress, got %s", created.State)
	}
	if !created.TemplateLoaded {
		t.Fatal("channel provisioning should mark the template loaded")
	}
	if len(created.Content.Checklists) != 2 {
		t.Fatalf("expected checklists per distinct step, got %d", len(created.Content.Checklists))
	}
	if created.Content.ProposalDocument == nil {
		t.Fatal("proposal section should be initialized")
	}

	// The creator who is on the team can read it back.
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/opportunities/"+created.ID, alice, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}

	// A coarse-granted caller who is not on the team cannot.
	bob := userToken(t, "bob@example.com")
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/opportunities/"+created.ID, bob, nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-member, got %d: %s", res.StatusCode, string(data))
	}
}

func TestDealTypeChangeRequiresPermission(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	alice := userToken(t, "alice@example.com")
	created := createOpportunity(t, srv, alice)

	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/opportunities/"+created.ID, alice, map[string]any{
		"deal_type": "syndicated",
	})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("alice lacks deal-type write, expected 403, got %d: %s", res.StatusCode, string(data))
	}

	// Plain content changes stay allowed.
	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/opportunities/"+created.ID, alice, map[string]any{
		"notes": []map[string]any{{"body": "Kickoff done"}},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("note update status %d: %s", res.StatusCode, string(data))
	}
	var updated OpportunityResponse
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(updated.Content.Notes) != 1 || updated.Content.Notes[0].CreatedBy != "alice@example.com" {
		t.Fatalf("note not normalized: %+v", updated.Content.Notes)
	}
	if updated.Version <= created.Version {
		t.Fatalf("update should bump the version, got %d", updated.Version)
	}
}

func TestAdminEndpointsGated(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	alice := userToken(t, "alice@example.com")
	root := userToken(t, "root@example.com")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/roles", alice, nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "forbidden" || envelope.Error.Details["permission"] != "Administrator" {
		t.Fatalf("unexpected envelope: %s", string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/roles", root, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin roles status %d: %s", res.StatusCode, string(data))
	}
	var roles []RoleResponse
	if err := json.Unmarshal(data, &roles); err != nil {
		t.Fatalf("unmarshal roles: %v", err)
	}
	if len(roles) == 0 {
		t.Fatal("seeded roles expected")
	}

	created := createOpportunity(t, srv, alice)
	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/opportunities/"+created.ID, alice, nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("delete by non-admin should 403, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/opportunities/"+created.ID, root, nil)
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		t.Fatalf("delete by admin status %d: %s", res.StatusCode, string(data))
	}
}

func TestApplicationTokenPath(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	alice := userToken(t, "alice@example.com")
	createOpportunity(t, srv, alice)

	// The configured client with a matching aud group may list.
	gateway := appToken(t, "local-dev-client", "api://pursuit")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/opportunities", gateway, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("gateway list status %d: %s", res.StatusCode, string(data))
	}
	var items []OpportunitySummaryResponse
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("unmarshal summaries: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one summary, got %d", len(items))
	}

	// An unknown client is rejected outright.
	stranger := appToken(t, "other-client", "api://pursuit")
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/opportunities", stranger, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for azp mismatch, got %d: %s", res.StatusCode, string(data))
	}
}

func TestOpportunityEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	alice := userToken(t, "alice@example.com")
	created := createOpportunity(t, srv, alice)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/opportunities/"+created.ID+"/events", alice, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var evts []EventResponse
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evts) == 0 {
		t.Fatal("workflow run should leave audit events")
	}
	found := false
	for _, e := range evts {
		if e.Type == "opportunity.created" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected opportunity.created among events: %+v", evts)
	}
}
