package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"pursuit/internal/config"
	"pursuit/internal/db"
	"pursuit/internal/domain"
	"pursuit/internal/events"
	"pursuit/internal/migrate"
	"pursuit/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, conn
}

func inTx(t *testing.T, conn *sql.DB, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := conn.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func sampleOpportunity(id string) domain.Opportunity {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339)
	return domain.Opportunity{
		ID:          id,
		DisplayName: "Harbor Expansion",
		Reference:   "REF-42",
		State:       domain.StateCreating,
		Content: domain.Content{
			DealType: "syndicated",
			TeamMembers: []domain.TeamMember{
				{ID: "m1", DisplayName: "Alice", UserPrincipalName: "alice@example.com"},
			},
		},
		DocumentAttachments: []domain.DocumentAttachment{
			{ID: "a1", FileName: "term-sheet.pdf", FolderLocation: domain.FolderLocationTemp},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOpportunityRoundtrip(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()

	opp := sampleOpportunity("opp-1")
	inTx(t, conn, func(tx *sql.Tx) error {
		return r.InsertOpportunity(ctx, tx, opp)
	})

	got, err := r.GetOpportunity(ctx, "opp-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DisplayName != opp.DisplayName || got.Reference != opp.Reference || got.State != opp.State {
		t.Fatalf("header mismatch: %+v", got)
	}
	if got.Content.DealType != "syndicated" || len(got.Content.TeamMembers) != 1 {
		t.Fatalf("content mismatch: %+v", got.Content)
	}
	if len(got.DocumentAttachments) != 1 || got.DocumentAttachments[0].FolderLocation != domain.FolderLocationTemp {
		t.Fatalf("attachments mismatch: %+v", got.DocumentAttachments)
	}

	if _, err := r.GetOpportunity(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateOpportunityVersioning(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()

	opp := sampleOpportunity("opp-2")
	inTx(t, conn, func(tx *sql.Tx) error {
		return r.InsertOpportunity(ctx, tx, opp)
	})

	opp.State = domain.StateInProgress
	var saved domain.Opportunity
	inTx(t, conn, func(tx *sql.Tx) error {
		var err error
		saved, err = r.UpdateOpportunity(ctx, tx, opp)
		return err
	})
	if saved.Version != opp.Version+1 {
		t.Fatalf("expected version bump, got %d", saved.Version)
	}

	// A writer holding the stale version loses.
	stale := opp
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if _, err := r.UpdateOpportunity(ctx, tx, stale); !errors.Is(err, repo.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	missing := sampleOpportunity("ghost")
	if _, err := r.UpdateOpportunity(ctx, tx, missing); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing row, got %v", err)
	}
}

func TestListAndDeleteOpportunities(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"opp-a", "opp-b"} {
		o := sampleOpportunity(id)
		inTx(t, conn, func(tx *sql.Tx) error {
			return r.InsertOpportunity(ctx, tx, o)
		})
	}

	items, err := r.ListOpportunities(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(items))
	}

	if err := r.DeleteOpportunity(ctx, "opp-a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.DeleteOpportunity(ctx, "opp-a"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete should be ErrNotFound, got %v", err)
	}
}

func TestSeedCatalogIdempotent(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	cfg := config.Default("pursuit")

	if err := r.SeedCatalog(ctx, cfg); err != nil {
		t.Fatalf("seed: %v", err)
	}
	roles1, err := r.Roles(ctx)
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	perms1, err := r.Permissions(ctx)
	if err != nil {
		t.Fatalf("permissions: %v", err)
	}
	if len(roles1) == 0 || len(perms1) == 0 {
		t.Fatal("default config should seed a catalog")
	}

	if err := r.SeedCatalog(ctx, cfg); err != nil {
		t.Fatalf("re-seed: %v", err)
	}
	roles2, _ := r.Roles(ctx)
	perms2, _ := r.Permissions(ctx)
	if len(roles2) != len(roles1) || len(perms2) != len(perms1) {
		t.Fatalf("re-seed must not duplicate: roles %d->%d perms %d->%d",
			len(roles1), len(roles2), len(perms1), len(perms2))
	}

	var admin *domain.Role
	for i := range roles2 {
		if roles2[i].DisplayName == "Administrator" {
			admin = &roles2[i]
		}
	}
	if admin == nil {
		t.Fatal("default config should contain an Administrator role")
	}
	found := false
	for _, p := range admin.Permissions {
		if p.Name == "Administrator" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Administrator role should carry the Administrator permission: %+v", admin.Permissions)
	}
}

func TestUserProfileLookupIsCaseInsensitive(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()

	profile := domain.UserProfile{
		ID:                "u-1",
		DisplayName:       "Alice",
		UserPrincipalName: "Alice@Example.com",
		RoleNames:         []string{"Loan Officer", "Credit Analyst"},
	}
	inTx(t, conn, func(tx *sql.Tx) error {
		return r.UpsertUserProfile(ctx, tx, profile)
	})

	got, err := r.UserProfileByUPN(ctx, "alice@example.COM")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != "u-1" || len(got.RoleNames) != 2 {
		t.Fatalf("profile mismatch: %+v", got)
	}

	// Re-upsert replaces the role set.
	profile.RoleNames = []string{"Loan Officer"}
	inTx(t, conn, func(tx *sql.Tx) error {
		return r.UpsertUserProfile(ctx, tx, profile)
	})
	got, err = r.UserProfileByUPN(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if len(got.RoleNames) != 1 {
		t.Fatalf("roles should be replaced, got %v", got.RoleNames)
	}

	if _, err := r.UserProfileByUPN(ctx, "nobody@example.com"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTemplateRoundtrip(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	tmpl := domain.Template{
		ID:   "tmpl-1",
		Name: "Standard",
		ProcessList: []domain.ProcessStep{
			{Order: 1, ProcessType: "checklisttab", ProcessStep: "Start Process"},
			{Order: 2, ProcessType: "proposalstatustab", ProcessStep: "Proposal"},
		},
	}
	if err := r.UpsertTemplate(ctx, tmpl); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := r.GetTemplate(ctx, "tmpl-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.ProcessList) != 2 || got.ProcessList[1].ProcessType != "proposalstatustab" {
		t.Fatalf("process list mismatch: %+v", got.ProcessList)
	}

	tmpl.Name = "Standard v2"
	tmpl.ProcessList = tmpl.ProcessList[:1]
	if err := r.UpsertTemplate(ctx, tmpl); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	items, err := r.ListTemplates(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].Name != "Standard v2" || len(items[0].ProcessList) != 1 {
		t.Fatalf("upsert should replace, got %+v", items)
	}
}

func TestEventsAfter(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()
	w := events.Writer{DB: conn, Now: func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }}

	inTx(t, conn, func(tx *sql.Tx) error {
		if err := w.Append(ctx, tx, "opportunity.created", "opp-1", "opportunity", "opp-1", "alice@example.com", nil); err != nil {
			return err
		}
		if err := w.Append(ctx, tx, "opportunity.updated", "opp-1", "opportunity", "opp-1", "alice@example.com", events.EventPayload{"state": "in_progress"}); err != nil {
			return err
		}
		return w.Append(ctx, tx, "opportunity.created", "opp-2", "opportunity", "opp-2", "bob@example.com", nil)
	})

	all, err := r.EventsAfter(ctx, 10, 0, "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}

	scoped, err := r.EventsAfter(ctx, 10, 0, "opp-1")
	if err != nil {
		t.Fatalf("scoped events: %v", err)
	}
	if len(scoped) != 2 {
		t.Fatalf("expected 2 events for opp-1, got %d", len(scoped))
	}

	after, err := r.EventsAfter(ctx, 10, scoped[0].ID, "opp-1")
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if len(after) != 1 || after[0].Type != "opportunity.updated" {
		t.Fatalf("cursor should skip earlier events, got %+v", after)
	}
}
