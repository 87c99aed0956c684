package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"pursuit/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrVersionConflict signals a lost optimistic-concurrency race on an
// opportunity row. Callers retry or surface a conflict.
var ErrVersionConflict = errors.New("opportunity version conflict")

func scanOpportunity(row *sql.Row) (domain.Opportunity, error) {
	var (
		o           domain.Opportunity
		reference   sql.NullString
		contentJSON string
		attachJSON  sql.NullString
		loaded      int
	)
	err := row.Scan(&o.ID, &o.DisplayName, &reference, &o.State, &o.Version, &loaded, &contentJSON, &attachJSON, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	if reference.Valid {
		o.Reference = reference.String
	}
	o.TemplateLoaded = loaded != 0
	if err := json.Unmarshal([]byte(contentJSON), &o.Content); err != nil {
		return o, fmt.Errorf("decode opportunity content: %w", err)
	}
	if attachJSON.Valid && attachJSON.String != "" {
		if err := json.Unmarshal([]byte(attachJSON.String), &o.DocumentAttachments); err != nil {
			return o, fmt.Errorf("decode opportunity attachments: %w", err)
		}
	}
	return o, nil
}

func (r Repo) GetOpportunity(ctx context.Context, id string) (domain.Opportunity, error) {
	return scanOpportunity(r.DB.QueryRowContext(ctx,
		`SELECT id,display_name,reference,state,version,template_loaded,content_json,attachments_json,created_at,updated_at FROM opportunities WHERE id=?`, id))
}

func (r Repo) InsertOpportunity(ctx context.Context, tx *sql.Tx, o domain.Opportunity) error {
	contentJSON, attachJSON, err := encodeOpportunity(o)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO opportunities(id,display_name,reference,state,version,template_loaded,content_json,attachments_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.DisplayName, nullable(o.Reference), o.State, o.Version, boolInt(o.TemplateLoaded), contentJSON, attachJSON, o.CreatedAt, o.UpdatedAt)
	return err
}

// UpdateOpportunity writes the aggregate back, bumping version. The WHERE
// clause on the prior version makes concurrent writers lose cleanly instead
// of interleaving.
func (r Repo) UpdateOpportunity(ctx context.Context, tx *sql.Tx, o domain.Opportunity) (domain.Opportunity, error) {
	contentJSON, attachJSON, err := encodeOpportunity(o)
	if err != nil {
		return o, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE opportunities SET display_name=?,reference=?,state=?,version=version+1,template_loaded=?,content_json=?,attachments_json=?,updated_at=? WHERE id=? AND version=?`,
		o.DisplayName, nullable(o.Reference), o.State, boolInt(o.TemplateLoaded), contentJSON, attachJSON, o.UpdatedAt, o.ID, o.Version)
	if err != nil {
		return o, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		if _, getErr := r.GetOpportunity(ctx, o.ID); errors.Is(getErr, ErrNotFound) {
			return o, ErrNotFound
		}
		return o, ErrVersionConflict
	}
	o.Version++
	return o, nil
}

func (r Repo) ListOpportunities(ctx context.Context) ([]domain.Opportunity, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,display_name,COALESCE(reference,'') AS reference,state,version,template_loaded,created_at,updated_at FROM opportunities ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Opportunity
	for rows.Next() {
		var (
			o      domain.Opportunity
			loaded int
		)
		if err := rows.Scan(&o.ID, &o.DisplayName, &o.Reference, &o.State, &o.Version, &loaded, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.TemplateLoaded = loaded != 0
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) DeleteOpportunity(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM opportunities WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeOpportunity(o domain.Opportunity) (string, any, error) {
	contentBytes, err := json.Marshal(o.Content)
	if err != nil {
		return "", nil, fmt.Errorf("encode opportunity content: %w", err)
	}
	var attachJSON any
	if len(o.DocumentAttachments) > 0 {
		b, err := json.Marshal(o.DocumentAttachments)
		if err != nil {
			return "", nil, fmt.Errorf("encode opportunity attachments: %w", err)
		}
		attachJSON = string(b)
	}
	return string(contentBytes), attachJSON, nil
}

func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64, opportunityID string) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,type,COALESCE(opportunity_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? AND (?='' OR opportunity_id=?) ORDER BY id LIMIT ?`,
		afterID, opportunityID, opportunityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.OpportunityID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
