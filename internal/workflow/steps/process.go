package steps

import (
	"context"

	"pursuit/internal/domain"
	"pursuit/internal/events"
	"pursuit/internal/workflow"
)

// StartProcessHandler fires for any process step labeled "start process",
// regardless of the step's type. It kicks the opportunity out of its
// creating state and records the kickoff.
type StartProcessHandler struct {
	Deps
}

func (h StartProcessHandler) CreateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	if opp.State == domain.StateNone || opp.State == domain.StateCreating {
		opp.State = domain.StateInProgress
	}
	h.record(ctx, "workflow.started", opp.ID, "opportunity", opp.ID, actorFromContext(ctx), events.EventPayload{
		"request_id": requestID,
		"state":      opp.State,
	})
	return opp, nil
}

func (h StartProcessHandler) UpdateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	return h.CreateWorkflow(ctx, opp, requestID)
}

// DashboardHandler recomputes the rollup the dashboard reads: checklist
// completion and current state. It owns no content section; it only records
// the refreshed snapshot.
type DashboardHandler struct {
	Deps
}

func (h DashboardHandler) CreateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	total := len(opp.Content.Checklists)
	completed := 0
	for _, cl := range opp.Content.Checklists {
		if cl.Status == "completed" {
			completed++
		}
	}
	h.record(ctx, "dashboard.refreshed", opp.ID, "opportunity", opp.ID, actorFromContext(ctx), events.EventPayload{
		"request_id":           requestID,
		"state":                opp.State,
		"checklists_total":     total,
		"checklists_completed": completed,
	})
	return opp, nil
}

func (h DashboardHandler) UpdateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	return h.CreateWorkflow(ctx, opp, requestID)
}

// Wire builds the orchestrator's handler set from shared deps.
func Wire(d Deps) workflow.Handlers {
	return workflow.Handlers{
		Checklist:        ChecklistHandler{d},
		CustomerDecision: CustomerDecisionHandler{d},
		CustomerFeedback: CustomerFeedbackHandler{d},
		ProposalDocument: ProposalDocumentHandler{d},
		StartProcess:     StartProcessHandler{d},
		TeamChannel:      TeamChannelHandler{d},
		Member:           MemberHandler{d},
		Notes:            NotesHandler{d},
		Dashboard:        DashboardHandler{d},
	}
}
