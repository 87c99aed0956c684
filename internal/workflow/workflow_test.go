package workflow

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"

	"pursuit/internal/config"
	"pursuit/internal/domain"
)

type countingHandler struct {
	name   string
	calls  *callLog
	fail   error
	mutate func(domain.Opportunity) domain.Opportunity
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (h countingHandler) CreateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	h.calls.add(h.name)
	if h.fail != nil {
		return opp, h.fail
	}
	if h.mutate != nil {
		return h.mutate(opp), nil
	}
	return opp, nil
}

func (h countingHandler) UpdateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	return h.CreateWorkflow(ctx, opp, requestID)
}

func testHandlers(calls *callLog) Handlers {
	return Handlers{
		Checklist:        countingHandler{name: "checklist", calls: calls},
		CustomerDecision: countingHandler{name: "decision", calls: calls},
		CustomerFeedback: countingHandler{name: "feedback", calls: calls},
		ProposalDocument: countingHandler{name: "proposal", calls: calls},
		StartProcess:     countingHandler{name: "start", calls: calls},
		TeamChannel:      countingHandler{name: "channel", calls: calls},
		Member:           countingHandler{name: "member", calls: calls},
		Notes:            countingHandler{name: "notes", calls: calls},
		Dashboard:        countingHandler{name: "dashboard", calls: calls},
	}
}

func opportunityWithSteps(steps ...domain.ProcessStep) domain.Opportunity {
	return domain.Opportunity{
		ID:          "opp-1",
		DisplayName: "Harbor Expansion",
		Content: domain.Content{
			Template: &domain.Template{
				ID:          "tmpl-1",
				Name:        "Standard",
				ProcessList: steps,
			},
		},
	}
}

func step(processType, label string) domain.ProcessStep {
	return domain.ProcessStep{ProcessType: processType, ProcessStep: label}
}

func TestCreateWorkflowMissingTemplate(t *testing.T) {
	calls := &callLog{}
	o := New(testHandlers(calls), nil, nil, nil)

	_, err := o.CreateWorkflow(context.Background(), domain.Opportunity{ID: "opp-1"}, "req-1")
	var invalid ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if invalid.OpportunityID != "opp-1" {
		t.Fatalf("expected opportunity id in error, got %s", invalid.OpportunityID)
	}
	if len(calls.calls) != 0 {
		t.Fatalf("no handler may fire before validation, got %v", calls.calls)
	}

	empty := domain.Opportunity{ID: "opp-2", Content: domain.Content{Template: &domain.Template{ID: "t"}}}
	if _, err := o.CreateWorkflow(context.Background(), empty, "req-2"); !errors.As(err, &invalid) {
		t.Fatalf("empty process list must fail validation, got %v", err)
	}
}

func TestChecklistFiresOnce(t *testing.T) {
	calls := &callLog{}
	o := New(testHandlers(calls), nil, nil, nil)

	opp := opportunityWithSteps(
		step(ProcessTypeChecklist, "Credit Review"),
		step(ProcessTypeChecklist, "Legal Review"),
		step(ProcessTypeProposalStatus, "Proposal"),
	)
	_, err := o.CreateWorkflow(context.Background(), opp, "req-3")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := calls.count("checklist"); got != 1 {
		t.Fatalf("checklist should fire once across occurrences, got %d", got)
	}
	if got := calls.count("proposal"); got != 1 {
		t.Fatalf("proposal should fire once, got %d", got)
	}
}

func TestRepeatedTypesFireEveryOccurrence(t *testing.T) {
	calls := &callLog{}
	o := New(testHandlers(calls), nil, nil, nil)

	opp := opportunityWithSteps(
		step(ProcessTypeCustomerDecision, "Decision A"),
		step(ProcessTypeCustomerDecision, "Decision B"),
		step(ProcessTypeCustomerFeedback, "Feedback A"),
		step(ProcessTypeCustomerFeedback, "Feedback B"),
	)
	_, err := o.UpdateWorkflow(context.Background(), opp, "req-4")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := calls.count("decision"); got != 2 {
		t.Fatalf("decision should fire per occurrence, got %d", got)
	}
	if got := calls.count("feedback"); got != 2 {
		t.Fatalf("feedback should fire per occurrence, got %d", got)
	}
}

func TestStartProcessLabelDispatch(t *testing.T) {
	calls := &callLog{}
	o := New(testHandlers(calls), nil, nil, nil)

	// The label triggers regardless of casing and in addition to the type
	// dispatch of the same step.
	opp := opportunityWithSteps(
		domain.ProcessStep{ProcessType: ProcessTypeChecklist, ProcessStep: "Start PROCESS"},
	)
	_, err := o.CreateWorkflow(context.Background(), opp, "req-5")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := calls.count("start"); got != 1 {
		t.Fatalf("start process should fire once, got %d", got)
	}
	if got := calls.count("checklist"); got != 1 {
		t.Fatalf("type dispatch should fire alongside label dispatch, got %d", got)
	}
}

func TestUnknownTypeSkipped(t *testing.T) {
	calls := &callLog{}
	o := New(testHandlers(calls), nil, nil, nil)

	opp := opportunityWithSteps(
		step("customtab", "Custom"),
		step(ProcessTypeProposalStatus, "Proposal"),
	)
	_, err := o.CreateWorkflow(context.Background(), opp, "req-6")
	if err != nil {
		t.Fatalf("unknown types must not fail the run: %v", err)
	}
	if got := calls.count("proposal"); got != 1 {
		t.Fatalf("known steps still fire, got %d", got)
	}
}

func TestProvisioningOnMultiStepTemplates(t *testing.T) {
	calls := &callLog{}
	o := New(testHandlers(calls), nil, nil, nil)

	single := opportunityWithSteps(step(ProcessTypeChecklist, "Only"))
	if _, err := o.CreateWorkflow(context.Background(), single, "req-7"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if calls.count("channel") != 0 || calls.count("member") != 0 {
		t.Fatalf("single-step template must not provision, got %v", calls.calls)
	}

	multi := opportunityWithSteps(
		step(ProcessTypeChecklist, "One"),
		step(ProcessTypeProposalStatus, "Two"),
	)
	result, err := o.CreateWorkflow(context.Background(), multi, "req-8")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if calls.count("channel") != 1 {
		t.Fatalf("channel should provision once, got %d", calls.count("channel"))
	}
	if calls.count("member") != 1 {
		t.Fatalf("member sync should run, got %d", calls.count("member"))
	}
	if result.State != domain.StateInProgress {
		t.Fatalf("provisioned opportunity should be in progress, got %s", result.State)
	}

	// A template already loaded skips the channel but still re-syncs members.
	loaded := multi
	loaded.TemplateLoaded = true
	before := calls.count("channel")
	if _, err := o.UpdateWorkflow(context.Background(), loaded, "req-9"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if calls.count("channel") != before {
		t.Fatal("loaded template must not provision the channel again")
	}
	if calls.count("member") != 2 {
		t.Fatalf("member sync runs on every pass, got %d", calls.count("member"))
	}
}

func TestBestEffortTailSwallowsFailures(t *testing.T) {
	calls := &callLog{}
	h := testHandlers(calls)
	h.Notes = countingHandler{name: "notes", calls: calls, fail: errors.New("notes down")}
	h.Dashboard = countingHandler{name: "dashboard", calls: calls, fail: errors.New("dashboard down")}
	o := New(h, nil, nil, nil)
	o.Logger = log.New(&strings.Builder{}, "", 0)

	opp := opportunityWithSteps(step(ProcessTypeChecklist, "Only"))
	result, err := o.CreateWorkflow(context.Background(), opp, "req-10")
	if err != nil {
		t.Fatalf("tail failures must not surface: %v", err)
	}
	if result.ID != opp.ID {
		t.Fatalf("aggregate lost through tail, got %s", result.ID)
	}
	if calls.count("notes") != 1 || calls.count("dashboard") != 1 {
		t.Fatalf("tail handlers should still have been attempted, got %v", calls.calls)
	}
}

func TestDispatchFailureIsFatalAndWrapped(t *testing.T) {
	calls := &callLog{}
	h := testHandlers(calls)
	h.ProposalDocument = countingHandler{name: "proposal", calls: calls, fail: errors.New("boom")}
	o := New(h, nil, nil, nil)

	opp := opportunityWithSteps(step(ProcessTypeProposalStatus, "Proposal"))
	_, err := o.UpdateWorkflow(context.Background(), opp, "req-11")
	if err == nil {
		t.Fatal("dispatch failure must surface")
	}
	if !strings.Contains(err.Error(), "req-11") || !strings.Contains(err.Error(), "opp-1") {
		t.Fatalf("error should carry request and opportunity ids: %v", err)
	}
	if calls.count("dashboard") != 0 {
		t.Fatal("tail must not run after a fatal dispatch failure")
	}
}

type recordingNotifier struct {
	mu         sync.Mutex
	recipients []string
	messages   []string
}

func (n *recordingNotifier) SendStateChangeNotice(ctx context.Context, opp domain.Opportunity, recipient, message, requestID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recipients = append(n.recipients, recipient)
	n.messages = append(n.messages, message)
	return nil
}

func TestStateChangeNotices(t *testing.T) {
	calls := &callLog{}
	h := testHandlers(calls)
	notifier := &recordingNotifier{}
	cfg := config.Default("pursuit")
	enabled := true
	cfg.Notifications.Enabled = &enabled
	cfg.Notifications.URL = "http://localhost/hook"

	o := New(h, nil, notifier, cfg)

	opp := opportunityWithSteps(
		step(ProcessTypeChecklist, "One"),
		step(ProcessTypeProposalStatus, "Two"),
	)
	opp.State = domain.StateCreating
	opp.Content.TeamMembers = []domain.TeamMember{
		{UserPrincipalName: "alice@example.com"},
		{UserPrincipalName: ""},
		{UserPrincipalName: "bob@example.com"},
	}

	if _, err := o.UpdateWorkflow(context.Background(), opp, "req-12"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(notifier.recipients) != 2 {
		t.Fatalf("expected a notice per addressable member, got %v", notifier.recipients)
	}

	// No state change, no notices.
	notifier.recipients = nil
	steady := opp
	steady.State = domain.StateInProgress
	steady.TemplateLoaded = true
	if _, err := o.UpdateWorkflow(context.Background(), steady, "req-13"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(notifier.recipients) != 0 {
		t.Fatalf("steady state must not notify, got %v", notifier.recipients)
	}
}

func TestSameOpportunitySerialized(t *testing.T) {
	calls := &callLog{}
	o := New(testHandlers(calls), nil, nil, nil)
	opp := opportunityWithSteps(step(ProcessTypeChecklist, "Only"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.UpdateWorkflow(context.Background(), opp, "req-14"); err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := calls.count("checklist"); got != 8 {
		t.Fatalf("all runs should complete, got %d", got)
	}
}
