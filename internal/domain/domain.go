package domain

import "strings"

// Opportunity lifecycle states, ordered. Transitions move forward unless a
// workflow step explicitly regresses the state.
const (
	StateNone       = "none"
	StateCreating   = "creating"
	StateInProgress = "in_progress"
	StateAccepted   = "accepted"
	StateDeclined   = "declined"
	StateArchived   = "archived"
)

// FolderLocationTemp marks an attachment still sitting in the staging folder,
// pending relocation into the opportunity's permanent site.
const FolderLocationTemp = "TempFolder"

type Opportunity struct {
	ID                  string               `json:"id"`
	DisplayName         string               `json:"display_name"`
	Reference           string               `json:"reference,omitempty"`
	State               string               `json:"state" enum:"none,creating,in_progress,accepted,declined,archived"`
	Version             int64                `json:"version"`
	TemplateLoaded      bool                 `json:"template_loaded"`
	Content             Content              `json:"content"`
	DocumentAttachments []DocumentAttachment `json:"document_attachments,omitempty"`
	CreatedAt           string               `json:"created_at" format:"date-time"`
	UpdatedAt           string               `json:"updated_at" format:"date-time"`
}

type Content struct {
	DealType         string            `json:"deal_type,omitempty"`
	TeamMembers      []TeamMember      `json:"team_members,omitempty"`
	Notes            []Note            `json:"notes,omitempty"`
	Checklists       []Checklist       `json:"checklists,omitempty"`
	ProposalDocument *ProposalDocument `json:"proposal_document,omitempty"`
	CustomerDecision *CustomerDecision `json:"customer_decision,omitempty"`
	CustomerFeedback []FeedbackEntry   `json:"customer_feedback,omitempty"`
	Template         *Template         `json:"template,omitempty"`
}

type TeamMember struct {
	ID                string `json:"id"`
	DisplayName       string `json:"display_name"`
	UserPrincipalName string `json:"user_principal_name"`
	RoleID            string `json:"role_id,omitempty"`
	RoleName          string `json:"role_name,omitempty"`
	ProcessStep       string `json:"process_step,omitempty"`
}

type Note struct {
	ID          string `json:"id"`
	Body        string `json:"body"`
	CreatedBy   string `json:"created_by,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	ProcessStep string `json:"process_step,omitempty"`
}

type Checklist struct {
	ID             string          `json:"id"`
	ChecklistType  string          `json:"checklist_type"`
	Status         string          `json:"status" enum:"not_started,in_progress,blocked,completed"`
	Tasks          []ChecklistTask `json:"tasks,omitempty"`
	AssignedRoleID string          `json:"assigned_role_id,omitempty"`
}

type ChecklistTask struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
	FileURI   string `json:"file_uri,omitempty"`
}

type ProposalDocument struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name,omitempty"`
	Status      string   `json:"status" enum:"not_started,in_progress,submitted,accepted"`
	DocumentURI string   `json:"document_uri,omitempty"`
	Sections    []string `json:"sections,omitempty"`
	Version     string   `json:"version,omitempty"`
}

type CustomerDecision struct {
	ID           string `json:"id"`
	Approved     bool   `json:"approved"`
	Decision     string `json:"decision,omitempty"`
	ApprovedDate string `json:"approved_date,omitempty" format:"date-time"`
}

type FeedbackEntry struct {
	ID        string `json:"id"`
	Feedback  string `json:"feedback"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Template carries the ordered process list driving a workflow run.
type Template struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	ProcessList []ProcessStep `json:"process_list"`
}

// ProcessStep is one configured workflow step. ProcessType selects the
// handler; the ProcessStep label "start process" is an independent second
// dispatch key.
type ProcessStep struct {
	Order       int    `json:"order"`
	ProcessType string `json:"process_type"`
	ProcessStep string `json:"process_step"`
	Channel     string `json:"channel,omitempty"`
	Status      string `json:"status,omitempty"`
	RoleID      string `json:"role_id,omitempty"`
	RoleName    string `json:"role_name,omitempty"`
}

type DocumentAttachment struct {
	ID             string   `json:"id"`
	FileName       string   `json:"file_name"`
	Note           string   `json:"note,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Category       string   `json:"category,omitempty"`
	DocumentURI    string   `json:"document_uri,omitempty"`
	FolderLocation string   `json:"folder_location,omitempty"`
}

type Permission struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Role struct {
	ID              string       `json:"id"`
	DisplayName     string       `json:"display_name"`
	ADGroupName     string       `json:"ad_group_name,omitempty"`
	Permissions     []Permission `json:"permissions,omitempty"`
	TeamsMembership bool         `json:"teams_membership"`
}

type UserProfile struct {
	ID                string   `json:"id"`
	DisplayName       string   `json:"display_name"`
	UserPrincipalName string   `json:"user_principal_name"`
	RoleNames         []string `json:"role_names,omitempty"`
}

type Event struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts" format:"date-time"`
	Type          string `json:"type"`
	OpportunityID string `json:"opportunity_id,omitempty"`
	EntityKind    string `json:"entity_kind"`
	EntityID      string `json:"entity_id,omitempty"`
	ActorID       string `json:"actor_id"`
	Payload       string `json:"payload_json"`
}

// HasTempAttachments reports whether any attachment still awaits relocation.
func (o Opportunity) HasTempAttachments() bool {
	for _, a := range o.DocumentAttachments {
		if a.FolderLocation == FolderLocationTemp {
			return true
		}
	}
	return false
}

// TeamMemberByUPN finds a team member by user principal name, case-insensitive.
func (c Content) TeamMemberByUPN(upn string) (TeamMember, bool) {
	for _, m := range c.TeamMembers {
		if strings.EqualFold(m.UserPrincipalName, upn) {
			return m, true
		}
	}
	return TeamMember{}, false
}
