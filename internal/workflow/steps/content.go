package steps

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"pursuit/internal/authz"
	"pursuit/internal/domain"
	"pursuit/internal/events"
	"pursuit/internal/workflow"
)

// ChecklistHandler seeds one checklist per checklist-typed process step.
// Existing checklists are kept; the upsert is keyed by checklist type.
// Writes are gated by the partial-write permission unless the orchestration
// override is set on the context.
type ChecklistHandler struct {
	Deps
}

func (h ChecklistHandler) CreateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	if !h.Authz.CheckAccessInOpportunity(ctx, opp, authz.ActionWritePartial, requestID) {
		h.logger().Printf("request_id %s: checklist write denied for opportunity %s", requestID, opp.ID)
		return opp, nil
	}
	tmpl := opp.Content.Template
	if tmpl == nil {
		return opp, nil
	}
	existing := map[string]bool{}
	for _, cl := range opp.Content.Checklists {
		existing[strings.ToLower(cl.ChecklistType)] = true
	}
	added := 0
	for _, step := range tmpl.ProcessList {
		if !strings.EqualFold(step.ProcessType, workflow.ProcessTypeChecklist) {
			continue
		}
		key := strings.ToLower(step.ProcessStep)
		if key == "" || existing[key] {
			continue
		}
		existing[key] = true
		opp.Content.Checklists = append(opp.Content.Checklists, domain.Checklist{
			ID:             uuid.New().String(),
			ChecklistType:  step.ProcessStep,
			Status:         "not_started",
			AssignedRoleID: step.RoleID,
		})
		added++
	}
	if added > 0 {
		h.record(ctx, "opportunity.checklists.seeded", opp.ID, "checklist", "", actorFromContext(ctx), events.EventPayload{
			"request_id": requestID,
			"added":      added,
		})
	}
	return opp, nil
}

func (h ChecklistHandler) UpdateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	return h.CreateWorkflow(ctx, opp, requestID)
}

// CustomerDecisionHandler ensures the decision section exists. It never
// overwrites a recorded decision.
type CustomerDecisionHandler struct {
	Deps
}

func (h CustomerDecisionHandler) CreateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	if !h.Authz.CheckAccessInOpportunity(ctx, opp, authz.ActionWritePartial, requestID) {
		h.logger().Printf("request_id %s: customer decision write denied for opportunity %s", requestID, opp.ID)
		return opp, nil
	}
	if opp.Content.CustomerDecision == nil {
		opp.Content.CustomerDecision = &domain.CustomerDecision{ID: uuid.New().String()}
		h.record(ctx, "opportunity.decision.initialized", opp.ID, "customer_decision", opp.Content.CustomerDecision.ID, actorFromContext(ctx), events.EventPayload{
			"request_id": requestID,
		})
	}
	return opp, nil
}

func (h CustomerDecisionHandler) UpdateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	opp, err := h.CreateWorkflow(ctx, opp, requestID)
	if err != nil {
		return opp, err
	}
	// A recorded approval moves the opportunity forward; a recorded
	// rejection regresses it to declined.
	if d := opp.Content.CustomerDecision; d != nil && d.Decision != "" {
		if d.Approved {
			if d.ApprovedDate == "" {
				d.ApprovedDate = h.now().UTC().Format(time.RFC3339)
			}
			opp.State = domain.StateAccepted
		} else {
			opp.State = domain.StateDeclined
		}
	}
	return opp, nil
}

// CustomerFeedbackHandler normalizes the feedback section: entries get ids
// and timestamps, blank entries are dropped.
type CustomerFeedbackHandler struct {
	Deps
}

func (h CustomerFeedbackHandler) CreateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	kept := make([]domain.FeedbackEntry, 0, len(opp.Content.CustomerFeedback))
	for _, fb := range opp.Content.CustomerFeedback {
		if strings.TrimSpace(fb.Feedback) == "" {
			continue
		}
		if fb.ID == "" {
			fb.ID = uuid.New().String()
		}
		if fb.CreatedAt == "" {
			fb.CreatedAt = h.now().UTC().Format(time.RFC3339)
		}
		kept = append(kept, fb)
	}
	opp.Content.CustomerFeedback = kept
	return opp, nil
}

func (h CustomerFeedbackHandler) UpdateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	return h.CreateWorkflow(ctx, opp, requestID)
}

// ProposalDocumentHandler ensures the proposal section exists and tracks its
// status.
type ProposalDocumentHandler struct {
	Deps
}

func (h ProposalDocumentHandler) CreateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	if opp.Content.ProposalDocument == nil {
		opp.Content.ProposalDocument = &domain.ProposalDocument{
			ID:          uuid.New().String(),
			DisplayName: opp.DisplayName + " Proposal",
			Status:      "not_started",
		}
		h.record(ctx, "opportunity.proposal.initialized", opp.ID, "proposal_document", opp.Content.ProposalDocument.ID, actorFromContext(ctx), events.EventPayload{
			"request_id": requestID,
		})
	}
	return opp, nil
}

func (h ProposalDocumentHandler) UpdateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	return h.CreateWorkflow(ctx, opp, requestID)
}

// NotesHandler normalizes the notes section: ids, timestamps, author from
// the caller when missing.
type NotesHandler struct {
	Deps
}

func (h NotesHandler) CreateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	actor := actorFromContext(ctx)
	for i := range opp.Content.Notes {
		n := &opp.Content.Notes[i]
		if n.ID == "" {
			n.ID = uuid.New().String()
		}
		if n.CreatedAt == "" {
			n.CreatedAt = h.now().UTC().Format(time.RFC3339)
		}
		if n.CreatedBy == "" {
			n.CreatedBy = actor
		}
	}
	return opp, nil
}

func (h NotesHandler) UpdateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	return h.CreateWorkflow(ctx, opp, requestID)
}
