package steps

import (
	"context"
	"strings"

	"pursuit/internal/domain"
	"pursuit/internal/events"
)

// TeamChannelHandler provisions the workspace and its channels for an
// opportunity the first time a multi-step template runs. Subsequent runs are
// no-ops because TemplateLoaded sticks once set.
type TeamChannelHandler struct {
	Deps
}

func (h TeamChannelHandler) CreateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	if opp.TemplateLoaded {
		return opp, nil
	}
	channels := channelNames(opp.Content.Template)
	opp.TemplateLoaded = true
	h.record(ctx, "opportunity.channel.provisioned", opp.ID, "opportunity", opp.ID, actorFromContext(ctx), events.EventPayload{
		"request_id": requestID,
		"channels":   channels,
	})
	return opp, nil
}

func (h TeamChannelHandler) UpdateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	return h.CreateWorkflow(ctx, opp, requestID)
}

func channelNames(tmpl *domain.Template) []string {
	if tmpl == nil {
		return nil
	}
	seen := map[string]bool{}
	var channels []string
	for _, step := range tmpl.ProcessList {
		name := strings.TrimSpace(step.Channel)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		channels = append(channels, name)
	}
	return channels
}

// MemberHandler syncs team membership against the template's role
// assignments. It runs on every workflow pass: membership drifts
// independently of channel provisioning.
type MemberHandler struct {
	Deps
}

func (h MemberHandler) CreateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	tmpl := opp.Content.Template
	if tmpl == nil {
		return opp, nil
	}
	stepByRole := map[string]string{}
	for _, step := range tmpl.ProcessList {
		if step.RoleName != "" {
			stepByRole[strings.ToLower(step.RoleName)] = step.ProcessStep
		}
	}
	// Dedupe by UPN, annotate each member with the process step their role
	// is assigned to.
	seen := map[string]bool{}
	members := make([]domain.TeamMember, 0, len(opp.Content.TeamMembers))
	for _, m := range opp.Content.TeamMembers {
		key := strings.ToLower(m.UserPrincipalName)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if step, ok := stepByRole[strings.ToLower(m.RoleName)]; ok {
			m.ProcessStep = step
		}
		members = append(members, m)
	}
	opp.Content.TeamMembers = members
	h.record(ctx, "opportunity.members.synced", opp.ID, "opportunity", opp.ID, actorFromContext(ctx), events.EventPayload{
		"request_id": requestID,
		"count":      len(members),
	})
	return opp, nil
}

func (h MemberHandler) UpdateWorkflow(ctx context.Context, opp domain.Opportunity, requestID string) (domain.Opportunity, error) {
	return h.CreateWorkflow(ctx, opp, requestID)
}
