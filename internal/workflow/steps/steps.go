// Package steps holds the process step handlers the orchestrator dispatches
// to. Each handler is an idempotent upsert against one section of the
// opportunity's content and must leave unrelated sections untouched.
package steps

import (
	"context"
	"database/sql"
	"log"
	"time"

	"pursuit/internal/authz"
	"pursuit/internal/events"
)

// Deps is the shared collaborator set handlers are built from.
type Deps struct {
	DB     *sql.DB
	Events events.Writer
	Authz  authz.Engine
	Logger *log.Logger
	Now    func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

// record appends an audit event in its own short transaction. Audit loss is
// logged, never fatal to the step.
func (d Deps) record(ctx context.Context, evtType, opportunityID, entityKind, entityID, actorID string, payload events.EventPayload) {
	if d.DB == nil {
		return
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		d.logger().Printf("audit %s for opportunity %s: begin: %v", evtType, opportunityID, err)
		return
	}
	defer tx.Rollback()
	if err := d.Events.Append(ctx, tx, evtType, opportunityID, entityKind, entityID, actorID, payload); err != nil {
		d.logger().Printf("audit %s for opportunity %s: %v", evtType, opportunityID, err)
		return
	}
	if err := tx.Commit(); err != nil {
		d.logger().Printf("audit %s for opportunity %s: commit: %v", evtType, opportunityID, err)
	}
}

func actorFromContext(ctx context.Context) string {
	if p, ok := authz.PrincipalFromContext(ctx); ok && p.PreferredUsername != "" {
		return p.PreferredUsername
	}
	return "system"
}
