package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pursuit/internal/authz"
	"pursuit/internal/config"
	"pursuit/internal/domain"
	"pursuit/internal/events"
	"pursuit/internal/repo"
	"pursuit/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	DB           *sql.DB
	Repo         repo.Repo
	Events       events.Writer
	Authz        authz.Engine
	Orchestrator *workflow.Orchestrator
	App          *config.Config
	BasePath     string
	Auth         AuthConfig
	Logger       *log.Logger
}

func (c Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"permission Administrator required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Pursuit API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Pursuit API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerOpportunities(group, cfg)
	registerWorkflow(group, cfg)
	registerTemplates(group, cfg)
	registerCatalog(group, cfg)
	registerEvents(group, cfg)
	registerMe(group, cfg)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var denied authz.AccessDeniedError
	if errors.As(err, &denied) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": denied.Permission})
	}
	var invalid workflow.ValidationError
	if errors.As(err, &invalid) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"opportunity_id": invalid.OpportunityID})
	}
	if errors.Is(err, authz.ErrUnauthorized) {
		return newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrVersionConflict) {
		return newAPIError(http.StatusConflict, "version_conflict", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// ensureRequestID falls back to a fresh id so every log line and error wrap
// stays correlatable even when the caller sends none.
func ensureRequestID(rid string) string {
	if strings.TrimSpace(rid) == "" {
		return uuid.NewString()
	}
	return rid
}

func actorFromContext(ctx context.Context) string {
	p, ok := authz.PrincipalFromContext(ctx)
	if !ok {
		return "system"
	}
	if p.IsDelegated() {
		return p.PreferredUsername
	}
	return "app:" + p.AuthorizedParty
}

func requireGranted(d authz.Decision, err error, action authz.Action) huma.StatusError {
	if err != nil {
		return handleError(err)
	}
	if !d.Granted {
		return newAPIError(http.StatusForbidden, "forbidden", fmt.Sprintf("action %s denied", action), nil)
	}
	return nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerOpportunities(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-opportunity",
		Method:        http.MethodPost,
		Path:          "/opportunities",
		Summary:       "Create an opportunity and run its creation workflow",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		RequestID string                   `header:"X-Request-Id"`
		Body      CreateOpportunityRequest `json:"body"`
	}) (*struct {
		Body OpportunityResponse `json:"body"`
	}, error) {
		rid := ensureRequestID(input.RequestID)
		if input.Body.DisplayName == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "display_name is required", nil)
		}
		if input.Body.TemplateID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "template_id is required", nil)
		}
		decision, err := cfg.Authz.CheckAccessForAction(ctx, authz.ActionCreate, rid)
		if statusErr := requireGranted(decision, err, authz.ActionCreate); statusErr != nil {
			return nil, statusErr
		}

		tmpl, err := cfg.Repo.GetTemplate(ctx, input.Body.TemplateID)
		if err != nil {
			return nil, handleError(fmt.Errorf("template %s: %w", input.Body.TemplateID, err))
		}

		now := time.Now().UTC().Format(time.RFC3339)
		opp := domain.Opportunity{
			ID:          uuid.NewString(),
			DisplayName: input.Body.DisplayName,
			State:       domain.StateNone,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if input.Body.ID != nil && *input.Body.ID != "" {
			opp.ID = *input.Body.ID
		}
		if input.Body.Reference != nil {
			opp.Reference = *input.Body.Reference
		}
		if input.Body.DealType != nil {
			opp.Content.DealType = *input.Body.DealType
		}
		opp.Content.Template = &tmpl
		opp.Content.TeamMembers = teamMembers(input.Body.TeamMembers)
		opp.Content.Notes = notes(input.Body.Notes)
		opp.DocumentAttachments = attachments(input.Body.Attachments)

		// The workflow run acts on the caller's behalf across every content
		// section, so the membership half of the granular gate is bypassed
		// for this call chain only.
		wctx := cfg.Authz.SetGranularAccessOverride(ctx, true)
		result, err := cfg.Orchestrator.CreateWorkflow(wctx, opp, rid)
		if err != nil {
			return nil, handleError(err)
		}

		if err := persistNew(ctx, cfg, result, rid); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OpportunityResponse `json:"body"`
		}{Body: opportunityResponse(result)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-opportunities",
		Method:      http.MethodGet,
		Path:        "/opportunities",
		Summary:     "List opportunities",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		RequestID string `header:"X-Request-Id"`
	}) (*struct {
		Body []OpportunitySummaryResponse `json:"body"`
	}, error) {
		rid := ensureRequestID(input.RequestID)
		decision, err := cfg.Authz.CheckAccessForAction(ctx, authz.ActionReadAll, rid)
		if statusErr := requireGranted(decision, err, authz.ActionReadAll); statusErr != nil {
			return nil, statusErr
		}
		items, err := cfg.Repo.ListOpportunities(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]OpportunitySummaryResponse, 0, len(items))
		for _, o := range items {
			out = append(out, summaryResponse(o))
		}
		return &struct {
			Body []OpportunitySummaryResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-opportunity",
		Method:      http.MethodGet,
		Path:        "/opportunities/{opportunity_id}",
		Summary:     "Get an opportunity",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OpportunityID string `path:"opportunity_id"`
		RequestID     string `header:"X-Request-Id"`
	}) (*struct {
		Body OpportunityResponse `json:"body"`
	}, error) {
		rid := ensureRequestID(input.RequestID)
		opp, err := cfg.Repo.GetOpportunity(ctx, input.OpportunityID)
		if err != nil {
			return nil, handleError(err)
		}
		if !cfg.Authz.CheckAccessInOpportunity(ctx, opp, authz.ActionRead, rid) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "not a member of this opportunity", nil)
		}
		return &struct {
			Body OpportunityResponse `json:"body"`
		}{Body: opportunityResponse(opp)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-opportunity",
		Method:      http.MethodDelete,
		Path:        "/opportunities/{opportunity_id}",
		Summary:     "Delete an opportunity",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OpportunityID string `path:"opportunity_id"`
		RequestID     string `header:"X-Request-Id"`
	}) (*struct{}, error) {
		rid := ensureRequestID(input.RequestID)
		if err := cfg.Authz.CheckAdminAccess(ctx, rid); err != nil {
			return nil, handleError(err)
		}
		if err := cfg.Repo.DeleteOpportunity(ctx, input.OpportunityID); err != nil {
			return nil, handleError(err)
		}
		recordEvent(ctx, cfg, "opportunity.deleted", input.OpportunityID, "opportunity", input.OpportunityID, nil)
		return &struct{}{}, nil
	})
}

func registerWorkflow(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "update-opportunity",
		Method:      http.MethodPatch,
		Path:        "/opportunities/{opportunity_id}",
		Summary:     "Apply content changes and run the update workflow",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OpportunityID string                   `path:"opportunity_id"`
		RequestID     string                   `header:"X-Request-Id"`
		Body          UpdateOpportunityRequest `json:"body"`
	}) (*struct {
		Body OpportunityResponse `json:"body"`
	}, error) {
		rid := ensureRequestID(input.RequestID)
		opp, err := cfg.Repo.GetOpportunity(ctx, input.OpportunityID)
		if err != nil {
			return nil, handleError(err)
		}
		if statusErr := applyUpdate(ctx, cfg, &opp, input.Body, rid); statusErr != nil {
			return nil, statusErr
		}

		wctx := cfg.Authz.SetGranularAccessOverride(ctx, true)
		result, err := cfg.Orchestrator.UpdateWorkflow(wctx, opp, rid)
		if err != nil {
			return nil, handleError(err)
		}
		result.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

		saved, err := persistExisting(ctx, cfg, result, rid)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OpportunityResponse `json:"body"`
		}{Body: opportunityResponse(saved)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "relocate-opportunity-files",
		Method:      http.MethodPost,
		Path:        "/opportunities/{opportunity_id}/relocate-files",
		Summary:     "Move staged attachments into the opportunity site",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OpportunityID string `path:"opportunity_id"`
		RequestID     string `header:"X-Request-Id"`
	}) (*struct {
		Body OpportunityResponse `json:"body"`
	}, error) {
		rid := ensureRequestID(input.RequestID)
		opp, err := cfg.Repo.GetOpportunity(ctx, input.OpportunityID)
		if err != nil {
			return nil, handleError(err)
		}
		if !cfg.Authz.CheckAccessInOpportunity(ctx, opp, authz.ActionWrite, rid) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "not a member of this opportunity", nil)
		}
		moved, err := cfg.Orchestrator.MoveTempFileToTeam(ctx, opp, rid)
		if err != nil {
			return nil, handleError(err)
		}
		moved.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
		saved, err := persistExisting(ctx, cfg, moved, rid)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OpportunityResponse `json:"body"`
		}{Body: opportunityResponse(saved)}, nil
	})
}

// applyUpdate merges the request into the aggregate, checking the matching
// access action per touched section before the workflow override kicks in.
func applyUpdate(ctx context.Context, cfg Config, opp *domain.Opportunity, req UpdateOpportunityRequest, rid string) huma.StatusError {
	if req.DealType != nil && *req.DealType != opp.Content.DealType {
		decision, err := cfg.Authz.CheckAccessForAction(ctx, authz.ActionDealTypeWrite, rid)
		if statusErr := requireGranted(decision, err, authz.ActionDealTypeWrite); statusErr != nil {
			return statusErr
		}
		opp.Content.DealType = *req.DealType
	}
	if req.TeamMembers != nil {
		decision, err := cfg.Authz.CheckAccessForAction(ctx, authz.ActionTeamWrite, rid)
		if statusErr := requireGranted(decision, err, authz.ActionTeamWrite); statusErr != nil {
			return statusErr
		}
		opp.Content.TeamMembers = teamMembers(*req.TeamMembers)
	}

	touchesContent := req.DisplayName != nil || req.Notes != nil || req.Decision != nil || req.Feedback != nil || req.Attachments != nil
	if touchesContent {
		if !cfg.Authz.CheckAccessInOpportunity(ctx, *opp, authz.ActionWrite, rid) {
			return newAPIError(http.StatusForbidden, "forbidden", "not a member of this opportunity", nil)
		}
	}
	if req.DisplayName != nil && *req.DisplayName != "" {
		opp.DisplayName = *req.DisplayName
	}
	if req.Notes != nil {
		opp.Content.Notes = notes(*req.Notes)
	}
	if req.Decision != nil {
		if opp.Content.CustomerDecision == nil {
			opp.Content.CustomerDecision = &domain.CustomerDecision{ID: uuid.NewString()}
		}
		opp.Content.CustomerDecision.Approved = req.Decision.Approved
		opp.Content.CustomerDecision.Decision = req.Decision.Decision
	}
	if req.Feedback != nil {
		opp.Content.CustomerFeedback = feedback(*req.Feedback)
	}
	if req.Attachments != nil {
		opp.DocumentAttachments = attachments(*req.Attachments)
	}
	return nil
}

func persistNew(ctx context.Context, cfg Config, opp domain.Opportunity, rid string) error {
	tx, err := cfg.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := cfg.Repo.InsertOpportunity(ctx, tx, opp); err != nil {
		return err
	}
	payload := events.EventPayload{"request_id": rid, "state": opp.State}
	if err := cfg.Events.Append(ctx, tx, "opportunity.created", opp.ID, "opportunity", opp.ID, actorFromContext(ctx), payload); err != nil {
		return err
	}
	return tx.Commit()
}

func persistExisting(ctx context.Context, cfg Config, opp domain.Opportunity, rid string) (domain.Opportunity, error) {
	tx, err := cfg.DB.BeginTx(ctx, nil)
	if err != nil {
		return opp, err
	}
	defer tx.Rollback()
	saved, err := cfg.Repo.UpdateOpportunity(ctx, tx, opp)
	if err != nil {
		return opp, err
	}
	payload := events.EventPayload{"request_id": rid, "state": saved.State, "version": saved.Version}
	if err := cfg.Events.Append(ctx, tx, "opportunity.updated", saved.ID, "opportunity", saved.ID, actorFromContext(ctx), payload); err != nil {
		return opp, err
	}
	return saved, tx.Commit()
}

// recordEvent appends outside of any caller transaction; failures are logged,
// never surfaced.
func recordEvent(ctx context.Context, cfg Config, evtType, opportunityID, entityKind, entityID string, payload events.EventPayload) {
	tx, err := cfg.DB.BeginTx(ctx, nil)
	if err != nil {
		cfg.logger().Printf("record %s: begin: %v", evtType, err)
		return
	}
	defer tx.Rollback()
	if err := cfg.Events.Append(ctx, tx, evtType, opportunityID, entityKind, entityID, actorFromContext(ctx), payload); err != nil {
		cfg.logger().Printf("record %s: %v", evtType, err)
		return
	}
	if err := tx.Commit(); err != nil {
		cfg.logger().Printf("record %s: commit: %v", evtType, err)
	}
}

func registerTemplates(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "List workflow templates",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TemplateResponse `json:"body"`
	}, error) {
		items, err := cfg.Repo.ListTemplates(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]TemplateResponse, 0, len(items))
		for _, t := range items {
			out = append(out, templateResponse(t))
		}
		return &struct {
			Body []TemplateResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template",
		Method:      http.MethodGet,
		Path:        "/templates/{template_id}",
		Summary:     "Get a workflow template",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*struct {
		Body TemplateResponse `json:"body"`
	}, error) {
		t, err := cfg.Repo.GetTemplate(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TemplateResponse `json:"body"`
		}{Body: templateResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-template",
		Method:      http.MethodPut,
		Path:        "/templates/{template_id}",
		Summary:     "Create or replace a workflow template",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TemplateID string                `path:"template_id"`
		RequestID  string                `header:"X-Request-Id"`
		Body       UpsertTemplateRequest `json:"body"`
	}) (*struct {
		Body TemplateResponse `json:"body"`
	}, error) {
		rid := ensureRequestID(input.RequestID)
		if err := cfg.Authz.CheckAdminAccess(ctx, rid); err != nil {
			return nil, handleError(err)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		if len(input.Body.ProcessList) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "process_list is required", nil)
		}
		t := domain.Template{ID: input.TemplateID, Name: input.Body.Name}
		if input.Body.Description != nil {
			t.Description = *input.Body.Description
		}
		for _, s := range input.Body.ProcessList {
			t.ProcessList = append(t.ProcessList, domain.ProcessStep{
				Order:       s.Order,
				ProcessType: s.ProcessType,
				ProcessStep: s.ProcessStep,
				Channel:     s.Channel,
				RoleID:      s.RoleID,
				RoleName:    s.RoleName,
			})
		}
		if err := cfg.Repo.UpsertTemplate(ctx, t); err != nil {
			return nil, handleError(err)
		}
		recordEvent(ctx, cfg, "template.upserted", "", "template", t.ID, events.EventPayload{"request_id": rid, "steps": len(t.ProcessList)})
		return &struct {
			Body TemplateResponse `json:"body"`
		}{Body: templateResponse(t)}, nil
	})
}

func registerCatalog(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-roles",
		Method:      http.MethodGet,
		Path:        "/roles",
		Summary:     "List roles and their permissions",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		RequestID string `header:"X-Request-Id"`
	}) (*struct {
		Body []RoleResponse `json:"body"`
	}, error) {
		rid := ensureRequestID(input.RequestID)
		if err := cfg.Authz.CheckAdminAccess(ctx, rid); err != nil {
			return nil, handleError(err)
		}
		roles, err := cfg.Repo.Roles(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]RoleResponse, 0, len(roles))
		for _, r := range roles {
			out = append(out, roleResponse(r))
		}
		return &struct {
			Body []RoleResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-permissions",
		Method:      http.MethodGet,
		Path:        "/permissions",
		Summary:     "List the permission catalog",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		RequestID string `header:"X-Request-Id"`
	}) (*struct {
		Body []PermissionResponse `json:"body"`
	}, error) {
		rid := ensureRequestID(input.RequestID)
		if err := cfg.Authz.CheckAdminAccess(ctx, rid); err != nil {
			return nil, handleError(err)
		}
		perms, err := cfg.Repo.Permissions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]PermissionResponse, 0, len(perms))
		for _, p := range perms {
			out = append(out, PermissionResponse(p))
		}
		return &struct {
			Body []PermissionResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-opportunity-events",
		Method:      http.MethodGet,
		Path:        "/opportunities/{opportunity_id}/events",
		Summary:     "List audit events for an opportunity",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OpportunityID string `path:"opportunity_id"`
		RequestID     string `header:"X-Request-Id"`
		AfterID       int64  `query:"after_id"`
		Limit         int    `query:"limit" default:"100" minimum:"1" maximum:"1000"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		rid := ensureRequestID(input.RequestID)
		opp, err := cfg.Repo.GetOpportunity(ctx, input.OpportunityID)
		if err != nil {
			return nil, handleError(err)
		}
		if !cfg.Authz.CheckAccessInOpportunity(ctx, opp, authz.ActionRead, rid) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "not a member of this opportunity", nil)
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 100
		}
		items, err := cfg.Repo.EventsAfter(ctx, limit, input.AfterID, input.OpportunityID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, e := range items {
			out = append(out, eventResponse(e))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerMe(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "me-permissions",
		Method:      http.MethodGet,
		Path:        "/me/permissions",
		Summary:     "Effective permissions of the caller",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		RequestID string `header:"X-Request-Id"`
	}) (*struct {
		Body []PermissionResponse `json:"body"`
	}, error) {
		rid := ensureRequestID(input.RequestID)
		perms, err := cfg.Authz.ResolvePrincipalPermissions(ctx, rid)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]PermissionResponse, 0, len(perms))
		for _, p := range perms {
			out = append(out, PermissionResponse(p))
		}
		return &struct {
			Body []PermissionResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Pursuit API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}
