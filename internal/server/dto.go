package server

import (
	"pursuit/internal/domain"
)

// Request payloads

type CreateOpportunityRequest struct {
	ID          *string                     `json:"id,omitempty"`
	DisplayName string                      `json:"display_name"`
	Reference   *string                     `json:"reference,omitempty"`
	DealType    *string                     `json:"deal_type,omitempty"`
	TemplateID  string                      `json:"template_id"`
	TeamMembers []TeamMemberRequest         `json:"team_members,omitempty"`
	Notes       []NoteRequest               `json:"notes,omitempty"`
	Attachments []DocumentAttachmentRequest `json:"attachments,omitempty"`
}

type UpdateOpportunityRequest struct {
	DisplayName *string                      `json:"display_name,omitempty"`
	DealType    *string                      `json:"deal_type,omitempty"`
	TeamMembers *[]TeamMemberRequest         `json:"team_members,omitempty"`
	Notes       *[]NoteRequest               `json:"notes,omitempty"`
	Decision    *CustomerDecisionRequest     `json:"customer_decision,omitempty"`
	Feedback    *[]FeedbackRequest           `json:"customer_feedback,omitempty"`
	Attachments *[]DocumentAttachmentRequest `json:"attachments,omitempty"`
}

type TeamMemberRequest struct {
	ID                string `json:"id,omitempty"`
	DisplayName       string `json:"display_name"`
	UserPrincipalName string `json:"user_principal_name"`
	RoleID            string `json:"role_id,omitempty"`
	RoleName          string `json:"role_name,omitempty"`
}

type NoteRequest struct {
	ID   string `json:"id,omitempty"`
	Body string `json:"body"`
}

type CustomerDecisionRequest struct {
	Approved bool   `json:"approved"`
	Decision string `json:"decision"`
}

type FeedbackRequest struct {
	ID       string `json:"id,omitempty"`
	Feedback string `json:"feedback"`
}

type DocumentAttachmentRequest struct {
	ID             string   `json:"id,omitempty"`
	FileName       string   `json:"file_name"`
	Note           string   `json:"note,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Category       string   `json:"category,omitempty"`
	DocumentURI    string   `json:"document_uri,omitempty"`
	FolderLocation string   `json:"folder_location,omitempty"`
}

type UpsertTemplateRequest struct {
	Name        string              `json:"name"`
	Description *string             `json:"description,omitempty"`
	ProcessList []ProcessStepInput `json:"process_list"`
}

type ProcessStepInput struct {
	Order       int    `json:"order"`
	ProcessType string `json:"process_type"`
	ProcessStep string `json:"process_step"`
	Channel     string `json:"channel,omitempty"`
	RoleID      string `json:"role_id,omitempty"`
	RoleName    string `json:"role_name,omitempty"`
}

// Response payloads

type OpportunityResponse struct {
	ID                  string                      `json:"id"`
	DisplayName         string                      `json:"display_name"`
	Reference           string                      `json:"reference,omitempty"`
	State               string                      `json:"state" enum:"none,creating,in_progress,accepted,declined,archived"`
	Version             int64                       `json:"version"`
	TemplateLoaded      bool                        `json:"template_loaded"`
	Content             domain.Content              `json:"content"`
	DocumentAttachments []domain.DocumentAttachment `json:"document_attachments,omitempty"`
	CreatedAt           string                      `json:"created_at" format:"date-time"`
	UpdatedAt           string                      `json:"updated_at" format:"date-time"`
}

type OpportunitySummaryResponse struct {
	ID             string `json:"id"`
	DisplayName    string `json:"display_name"`
	Reference      string `json:"reference,omitempty"`
	State          string `json:"state"`
	TemplateLoaded bool   `json:"template_loaded"`
	CreatedAt      string `json:"created_at" format:"date-time"`
	UpdatedAt      string `json:"updated_at" format:"date-time"`
}

type RoleResponse struct {
	ID              string   `json:"id"`
	DisplayName     string   `json:"display_name"`
	ADGroupName     string   `json:"ad_group_name,omitempty"`
	Permissions     []string `json:"permissions"`
	TeamsMembership bool     `json:"teams_membership"`
}

type PermissionResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type TemplateResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	ProcessList []domain.ProcessStep `json:"process_list"`
}

type EventResponse struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts" format:"date-time"`
	Type          string `json:"type"`
	OpportunityID string `json:"opportunity_id,omitempty"`
	EntityKind    string `json:"entity_kind"`
	EntityID      string `json:"entity_id,omitempty"`
	ActorID       string `json:"actor_id"`
	Payload       string `json:"payload_json"`
}

// Conversion helpers

func opportunityResponse(o domain.Opportunity) OpportunityResponse {
	return OpportunityResponse{
		ID:                  o.ID,
		DisplayName:         o.DisplayName,
		Reference:           o.Reference,
		State:               o.State,
		Version:             o.Version,
		TemplateLoaded:      o.TemplateLoaded,
		Content:             o.Content,
		DocumentAttachments: o.DocumentAttachments,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
}

func summaryResponse(o domain.Opportunity) OpportunitySummaryResponse {
	return OpportunitySummaryResponse{
		ID:             o.ID,
		DisplayName:    o.DisplayName,
		Reference:      o.Reference,
		State:          o.State,
		TemplateLoaded: o.TemplateLoaded,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func roleResponse(r domain.Role) RoleResponse {
	perms := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		perms = append(perms, p.Name)
	}
	return RoleResponse{
		ID:              r.ID,
		DisplayName:     r.DisplayName,
		ADGroupName:     r.ADGroupName,
		Permissions:     perms,
		TeamsMembership: r.TeamsMembership,
	}
}

func templateResponse(t domain.Template) TemplateResponse {
	return TemplateResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		ProcessList: t.ProcessList,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse(e)
}

func teamMembers(in []TeamMemberRequest) []domain.TeamMember {
	out := make([]domain.TeamMember, 0, len(in))
	for _, m := range in {
		out = append(out, domain.TeamMember{
			ID:                m.ID,
			DisplayName:       m.DisplayName,
			UserPrincipalName: m.UserPrincipalName,
			RoleID:            m.RoleID,
			RoleName:          m.RoleName,
		})
	}
	return out
}

func notes(in []NoteRequest) []domain.Note {
	out := make([]domain.Note, 0, len(in))
	for _, n := range in {
		out = append(out, domain.Note{ID: n.ID, Body: n.Body})
	}
	return out
}

func feedback(in []FeedbackRequest) []domain.FeedbackEntry {
	out := make([]domain.FeedbackEntry, 0, len(in))
	for _, f := range in {
		out = append(out, domain.FeedbackEntry{ID: f.ID, Feedback: f.Feedback})
	}
	return out
}

func attachments(in []DocumentAttachmentRequest) []domain.DocumentAttachment {
	out := make([]domain.DocumentAttachment, 0, len(in))
	for _, a := range in {
		out = append(out, domain.DocumentAttachment{
			ID:             a.ID,
			FileName:       a.FileName,
			Note:           a.Note,
			Tags:           a.Tags,
			Category:       a.Category,
			DocumentURI:    a.DocumentURI,
			FolderLocation: a.FolderLocation,
		})
	}
	return out
}
