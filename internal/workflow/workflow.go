package workflow

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"pursuit/internal/config"
	"pursuit/internal/domain"
	"pursuit/internal/notify"
	"pursuit/internal/sites"
)

// Process types the dispatch table knows about.
const (
	ProcessTypeChecklist        = "checklisttab"
	ProcessTypeCustomerDecision = "customerdecisiontab"
	ProcessTypeCustomerFeedback = "customerfeedbacktab"
	ProcessTypeProposalStatus   = "proposalstatustab"
)

// StepLabelStartProcess is the process-step label that triggers the
// start-process handler, independent of the step's process type.
const StepLabelStartProcess = "start process"

// StepHandler implements one workflow step as an idempotent upsert against
// the opportunity's relevant content section.
type StepHandler interface {
	CreateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error)
	UpdateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error)
}

// FirePolicy controls how often a handler runs for repeated occurrences of
// its process type within one process list.
type FirePolicy int

const (
	FiresEveryOccurrence FirePolicy = iota
	FiresOnce
)

type dispatchEntry struct {
	Handler StepHandler
	Policy  FirePolicy
}

// Handlers wires the step handlers the orchestrator dispatches to.
type Handlers struct {
	Checklist        StepHandler
	CustomerDecision StepHandler
	CustomerFeedback StepHandler
	ProposalDocument StepHandler
	StartProcess     StepHandler
	TeamChannel      StepHandler
	Member           StepHandler
	Notes            StepHandler
	Dashboard        StepHandler
}

// ValidationError aborts a workflow run before any handler fires.
type ValidationError struct {
	OpportunityID string
	Reason        string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("opportunity %s: %s", e.OpportunityID, e.Reason)
}

// Orchestrator drives an opportunity through its template's process list.
// It persists nothing itself; handlers own persistence.
type Orchestrator struct {
	Handlers Handlers
	Sites    sites.Client
	Notifier notify.Notifier
	Config   *config.Config
	Logger   *log.Logger
	Now      func() time.Time

	dispatch map[string]dispatchEntry
	locks    keyedMutex
}

func New(h Handlers, siteClient sites.Client, notifier notify.Notifier, cfg *config.Config) *Orchestrator {
	o := &Orchestrator{
		Handlers: h,
		Sites:    siteClient,
		Notifier: notifier,
		Config:   cfg,
		Now:      time.Now,
	}
	o.dispatch = map[string]dispatchEntry{
		ProcessTypeChecklist:        {Handler: h.Checklist, Policy: FiresOnce},
		ProcessTypeCustomerDecision: {Handler: h.CustomerDecision, Policy: FiresEveryOccurrence},
		ProcessTypeCustomerFeedback: {Handler: h.CustomerFeedback, Policy: FiresEveryOccurrence},
		ProcessTypeProposalStatus:   {Handler: h.ProposalDocument, Policy: FiresEveryOccurrence},
	}
	return o
}

func (o *Orchestrator) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Default()
}

type stepMode int

const (
	modeCreate stepMode = iota
	modeUpdate
)

func invoke(ctx context.Context, h StepHandler, mode stepMode, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	if mode == modeCreate {
		return h.CreateWorkflow(ctx, opp, requestID)
	}
	return h.UpdateWorkflow(ctx, opp, requestID)
}

// CreateWorkflow runs the creation pass: provisioning, the process-list
// dispatch, then the best-effort notes/dashboard tail.
func (o *Orchestrator) CreateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	unlock := o.locks.Lock(opp.ID)
	defer unlock()

	opp.State = domain.StateCreating
	result, err := o.run(ctx, opp, requestID, modeCreate)
	if err != nil {
		return result, fmt.Errorf("request_id %s: create workflow for opportunity %s: %w", requestID, opp.ID, err)
	}
	result = o.bestEffort(ctx, result, requestID, modeCreate, o.Handlers.Notes, "notes")
	result = o.bestEffort(ctx, result, requestID, modeCreate, o.Handlers.Dashboard, "dashboard")
	return result, nil
}

// UpdateWorkflow runs the update pass: the same fatal provisioning/dispatch
// body, then the best-effort relocation, dashboard refresh, and state-change
// notification tail.
func (o *Orchestrator) UpdateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	unlock := o.locks.Lock(opp.ID)
	defer unlock()

	stateBefore := opp.State
	result, err := o.run(ctx, opp, requestID, modeUpdate)
	if err != nil {
		return result, fmt.Errorf("request_id %s: update workflow for opportunity %s: %w", requestID, opp.ID, err)
	}

	if moved, err := o.MoveTempFileToTeam(ctx, result, requestID); err != nil {
		o.logger().Printf("request_id %s: move temp files for opportunity %s: %v", requestID, result.ID, err)
	} else {
		result = moved
	}
	result = o.bestEffort(ctx, result, requestID, modeUpdate, o.Handlers.Dashboard, "dashboard")

	if result.State != stateBefore {
		o.sendStateChangeNotices(ctx, result, stateBefore, requestID)
	}
	return result, nil
}

// run is the fatal body shared by create and update: template validation,
// team-channel/member provisioning, and the ordered process-list dispatch.
// Provisioning always uses create semantics; membership may need re-sync
// even when the channel already exists, so the member handler runs
// regardless of TemplateLoaded.
func (o *Orchestrator) run(ctx context.Context, opp domain.Opportunity, requestID string, mode stepMode) (domain.Opportunity, error) {
	tmpl := opp.Content.Template
	if tmpl == nil || len(tmpl.ProcessList) == 0 {
		return opp, ValidationError{OpportunityID: opp.ID, Reason: "template with a non-empty process list is required"}
	}

	var err error
	if len(tmpl.ProcessList) > 1 {
		if !opp.TemplateLoaded {
			if o.Handlers.TeamChannel != nil {
				opp, err = o.Handlers.TeamChannel.CreateWorkflow(ctx, opp, requestID)
				if err != nil {
					return opp, fmt.Errorf("team channel: %w", err)
				}
			}
			opp.State = domain.StateInProgress
		}
		if o.Handlers.Member != nil {
			opp, err = o.Handlers.Member.CreateWorkflow(ctx, opp, requestID)
			if err != nil {
				return opp, fmt.Errorf("member sync: %w", err)
			}
		}
	}

	fired := map[string]bool{}
	for _, step := range tmpl.ProcessList {
		key := strings.ToLower(step.ProcessType)
		if entry, ok := o.dispatch[key]; ok && entry.Handler != nil {
			if !(entry.Policy == FiresOnce && fired[key]) {
				opp, err = invoke(ctx, entry.Handler, mode, opp, requestID)
				if err != nil {
					return opp, fmt.Errorf("step %s: %w", key, err)
				}
				fired[key] = true
			}
		}
		// Label dispatch is independent of the type dispatch above; a step
		// can trigger both.
		if strings.EqualFold(step.ProcessStep, StepLabelStartProcess) && o.Handlers.StartProcess != nil {
			opp, err = invoke(ctx, o.Handlers.StartProcess, mode, opp, requestID)
			if err != nil {
				return opp, fmt.Errorf("start process: %w", err)
			}
		}
	}
	return opp, nil
}

// bestEffort invokes a handler and keeps the prior opportunity on failure.
func (o *Orchestrator) bestEffort(ctx context.Context, opp domain.Opportunity, requestID string, mode stepMode, h StepHandler, name string) domain.Opportunity {
	if h == nil {
		return opp
	}
	result, err := invoke(ctx, h, mode, opp, requestID)
	if err != nil {
		o.logger().Printf("request_id %s: %s refresh for opportunity %s: %v", requestID, name, opp.ID, err)
		return opp
	}
	return result
}

func (o *Orchestrator) sendStateChangeNotices(ctx context.Context, opp domain.Opportunity, previous, requestID string) {
	if o.Notifier == nil || (o.Config != nil && !o.Config.NotificationsEnabled()) {
		return
	}
	message := fmt.Sprintf("Opportunity %s moved from %s to %s", opp.DisplayName, previous, opp.State)
	for _, member := range opp.Content.TeamMembers {
		if member.UserPrincipalName == "" {
			continue
		}
		if err := o.Notifier.SendStateChangeNotice(ctx, opp, member.UserPrincipalName, message, requestID); err != nil {
			o.logger().Printf("request_id %s: state change notice to %s: %v", requestID, member.UserPrincipalName, err)
		}
	}
}
