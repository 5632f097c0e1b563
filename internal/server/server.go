package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"formline/internal/config"
	"formline/internal/domain"
	"formline/internal/graph"
	"formline/internal/repo"
	"formline/internal/router"
	"formline/internal/versions"
)

// Config for the HTTP API handler.
type Config struct {
	DB       *sql.DB
	Versions versions.Store
	Router   *router.Router
	Repo     repo.Repo
	App      *config.Config
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"no_published_version"`
	Message string         `json:"message" example:"form has no published version"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"form_id\":\"f-1\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Formline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the required envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	mux := chi.NewRouter()
	mux.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	mux.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Repo))
	hcfg := huma.DefaultConfig("Formline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(mux, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(mux, basePath)
	registerHealth(group)
	registerForms(group, cfg)
	registerDrafts(group, cfg)
	registerWorkflow(group, cfg)
	registerVersions(group, cfg)
	registerSubmissions(group, cfg)
	registerStats(group, cfg)
	registerEvents(group, cfg)
	registerAPIKeys(group, cfg)
	registerOpenAPI(mux, api, basePath)

	return mux, nil
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
	var ve domain.ValidationError
	if errors.As(err, &ve) {
		issues := make([]map[string]string, 0, len(ve.Issues))
		for _, is := range ve.Issues {
			issues = append(issues, map[string]string{"field": is.Field, "reason": is.Reason})
		}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"issues": issues})
	}
	var ae domain.AuthorizationError
	if errors.As(err, &ae) {
		return newAPIError(http.StatusForbidden, "role_mismatch", err.Error(), map[string]any{"required": ae.Required, "asserted": ae.Asserted})
	}
	var ia domain.InvalidActionError
	if errors.As(err, &ia) {
		return newAPIError(http.StatusBadRequest, "invalid_action", err.Error(), map[string]any{"step": ia.Step, "action": ia.Action})
	}
	var te domain.TerminatedError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "terminated", err.Error(), map[string]any{"status": te.Status})
	}
	var npe domain.NoPublishedVersionError
	if errors.As(err, &npe) {
		return newAPIError(http.StatusConflict, "no_published_version", err.Error(), map[string]any{"form_id": npe.FormID})
	}
	var ce domain.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	var ge domain.GraphIntegrityError
	if errors.As(err, &ge) {
		return newAPIError(http.StatusInternalServerError, "graph_integrity", err.Error(), map[string]any{"step": ge.Step})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
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
    <title>Formline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
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

func registerForms(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-form",
		Method:        http.MethodPost,
		Path:          "/forms",
		Summary:       "Create form",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateFormRequest `json:"body"`
	}) (*struct {
		Body FormResponse `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		owner := principal.ActorID
		if input.Body.OwnerID != nil && *input.Body.OwnerID != "" {
			owner = *input.Body.OwnerID
		}
		f, err := cfg.Versions.CreateForm(ctx, owner)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FormResponse `json:"body"`
		}{Body: formResponse(f)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-forms",
		Method:      http.MethodGet,
		Path:        "/forms",
		Summary:     "List forms",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []FormResponse `json:"body"`
	}, error) {
		items, err := cfg.Repo.ListForms(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []FormResponse `json:"body"`
		}{Body: mapForms(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-form",
		Method:      http.MethodGet,
		Path:        "/forms/{form_id}",
		Summary:     "Get form",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FormID string `path:"form_id"`
	}) (*struct {
		Body FormResponse `json:"body"`
	}, error) {
		f, err := cfg.Repo.GetForm(ctx, input.FormID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FormResponse `json:"body"`
		}{Body: formResponse(f)}, nil
	})
}

func registerDrafts(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-draft",
		Method:        http.MethodPost,
		Path:          "/forms/{form_id}/draft",
		Summary:       "Open a draft",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		FormID string `path:"form_id"`
	}) (*struct {
		Body domain.FormVersion `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := cfg.Versions.CreateDraft(ctx, input.FormID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FormVersion `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-draft",
		Method:      http.MethodPatch,
		Path:        "/forms/{form_id}/draft",
		Summary:     "Update the open draft",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		FormID string             `path:"form_id"`
		Body   UpdateDraftRequest `json:"body"`
	}) (*struct {
		Body domain.FormVersion `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := cfg.Versions.UpdateDraft(ctx, input.FormID, versions.DraftPatch{
			Fields:   input.Body.Fields,
			Settings: input.Body.Settings,
			Workflow: input.Body.Workflow,
		}, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FormVersion `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-draft",
		Method:      http.MethodGet,
		Path:        "/forms/{form_id}/draft",
		Summary:     "Get the open draft",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FormID string `path:"form_id"`
	}) (*struct {
		Body domain.FormVersion `json:"body"`
	}, error) {
		v, err := cfg.Repo.GetDraft(ctx, input.FormID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FormVersion `json:"body"`
		}{Body: v}, nil
	})
}

func registerWorkflow(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "set-workflow",
		Method:      http.MethodPut,
		Path:        "/forms/{form_id}/workflow",
		Summary:     "Replace the workflow definition",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		FormID string                    `path:"form_id"`
		Body   domain.WorkflowDefinition `json:"body"`
	}) (*struct {
		Body domain.WorkflowDefinition `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := cfg.Versions.SetWorkflow(ctx, input.FormID, input.Body, principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowDefinition `json:"body"`
		}{Body: input.Body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/forms/{form_id}/workflow",
		Summary:     "Get the workflow definition",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FormID string `path:"form_id"`
	}) (*struct {
		Body domain.WorkflowDefinition `json:"body"`
	}, error) {
		def, err := cfg.Repo.GetWorkflowDefinition(ctx, input.FormID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowDefinition `json:"body"`
		}{Body: def}, nil
	})
}

func registerVersions(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "publish-form",
		Method:        http.MethodPost,
		Path:          "/forms/{form_id}/publish",
		Summary:       "Publish the open draft",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		FormID string         `path:"form_id"`
		Body   PublishRequest `json:"body"`
	}) (*struct {
		Body domain.FormVersion `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := cfg.Versions.Publish(ctx, input.FormID, input.Body.PreviousVersion, input.Body.Note, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FormVersion `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-versions",
		Method:      http.MethodGet,
		Path:        "/forms/{form_id}/versions",
		Summary:     "List versions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FormID string `path:"form_id"`
	}) (*struct {
		Body []domain.FormVersion `json:"body"`
	}, error) {
		if _, err := cfg.Repo.GetForm(ctx, input.FormID); err != nil {
			return nil, handleError(err)
		}
		items, err := cfg.Repo.ListVersions(ctx, input.FormID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.FormVersion `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/forms/{form_id}/versions/{version}",
		Summary:     "Get a version",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FormID  string `path:"form_id"`
		Version int    `path:"version"`
	}) (*struct {
		Body domain.FormVersion `json:"body"`
	}, error) {
		v, err := cfg.Repo.GetVersion(ctx, input.FormID, input.Version)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FormVersion `json:"body"`
		}{Body: v}, nil
	})
}

func registerSubmissions(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-submission",
		Method:        http.MethodPost,
		Path:          "/forms/{form_id}/submissions",
		Summary:       "Submit against the published version",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		FormID string                  `path:"form_id"`
		Body   CreateSubmissionRequest `json:"body"`
	}) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sub, inst, err := cfg.Router.Accept(ctx, input.FormID, input.Body.Payload, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: SubmissionResponse{
			Submission:   sub,
			Instance:     inst,
			Available:    availableActions(ctx, cfg, sub, inst),
			Confirmation: confirmationMessage(ctx, cfg, sub),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-submissions",
		Method:      http.MethodGet,
		Path:        "/forms/{form_id}/submissions",
		Summary:     "List submissions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FormID string `path:"form_id"`
		Status string `query:"status" enum:"in_progress,completed,rejected"`
		Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []domain.Submission `json:"body"`
	}, error) {
		if _, err := cfg.Repo.GetForm(ctx, input.FormID); err != nil {
			return nil, handleError(err)
		}
		items, err := cfg.Repo.ListSubmissions(ctx, repo.SubmissionFilters{
			FormID: input.FormID,
			Status: input.Status,
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Submission `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-submission",
		Method:      http.MethodGet,
		Path:        "/submissions/{submission_id}",
		Summary:     "Get a submission with its instance",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SubmissionID string `path:"submission_id"`
	}) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		sub, err := cfg.Repo.GetSubmission(ctx, input.SubmissionID)
		if err != nil {
			return nil, handleError(err)
		}
		inst, err := cfg.Repo.GetInstance(ctx, input.SubmissionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: SubmissionResponse{
			Submission: sub,
			Instance:   inst,
			Available:  availableActions(ctx, cfg, sub, inst),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "act-on-submission",
		Method:      http.MethodPost,
		Path:        "/submissions/{submission_id}/actions",
		Summary:     "Apply an approval action",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		SubmissionID string        `path:"submission_id"`
		Body         ActionRequest `json:"body"`
	}) (*struct {
		Body domain.WorkflowInstance `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Action == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "action is required", nil)
		}
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inst, err := cfg.Router.Act(ctx, input.SubmissionID, input.Body.Action, principal.ActorID, principal.Role, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowInstance `json:"body"`
		}{Body: inst}, nil
	})
}

// confirmationMessage resolves what to show the submitter: the version's
// own message when set, otherwise the configured default.
func confirmationMessage(ctx context.Context, cfg Config, sub domain.Submission) string {
	v, err := cfg.Repo.GetVersion(ctx, sub.FormID, sub.Version)
	if err == nil && v.Settings.ConfirmationMessage != "" {
		return v.Settings.ConfirmationMessage
	}
	if cfg.App != nil {
		return cfg.App.Forms.DefaultConfirmationMessage
	}
	return ""
}

// availableActions is advisory for clients; the engine re-checks on act.
func availableActions(ctx context.Context, cfg Config, sub domain.Submission, inst domain.WorkflowInstance) []string {
	if inst.Status != domain.StatusInProgress || inst.CurrentStep == "" {
		return nil
	}
	v, err := cfg.Repo.GetVersion(ctx, sub.FormID, sub.Version)
	if err != nil || v.Workflow == nil {
		return nil
	}
	g, err := graph.Validate(*v.Workflow)
	if err != nil {
		return nil
	}
	step, ok := g.Step(inst.CurrentStep)
	if !ok {
		return nil
	}
	return step.Actions
}

func registerStats(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "form-stats",
		Method:      http.MethodGet,
		Path:        "/forms/{form_id}/stats",
		Summary:     "Submission counts by workflow status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FormID string `path:"form_id"`
	}) (*struct {
		Body StatsResponse `json:"body"`
	}, error) {
		f, err := cfg.Repo.GetForm(ctx, input.FormID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := cfg.Repo.CountSubmissionsByStatus(ctx, f.ID)
		if err != nil {
			return nil, handleError(err)
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		return &struct {
			Body StatsResponse `json:"body"`
		}{Body: StatsResponse{
			FormID:         f.ID,
			CurrentVersion: f.CurrentVersion,
			Total:          total,
			ByStatus:       counts,
		}}, nil
	})
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	FormID     string          `json:"form_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func registerEvents(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
		FormID     string `query:"form_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := cfg.Repo.LatestEvents(ctx, input.Limit, input.FormID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(items))
		for _, e := range items {
			var payload json.RawMessage
			if e.Payload != "" && json.Valid([]byte(e.Payload)) {
				payload = json.RawMessage(e.Payload)
			}
			res = append(res, EventResponse{
				ID:         e.ID,
				TS:         e.TS,
				Type:       e.Type,
				FormID:     e.FormID,
				EntityKind: e.EntityKind,
				EntityID:   e.EntityID,
				ActorID:    e.ActorID,
				Payload:    payload,
			})
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerAPIKeys(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		raw := uuid.NewString() + uuid.NewString()
		k := domain.APIKey{
			ID:        uuid.NewString(),
			ActorID:   input.Body.ActorID,
			Role:      input.Body.Role,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(raw),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := cfg.Repo.InsertAPIKey(ctx, k); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        k.ID,
			ActorID:   k.ActorID,
			Role:      k.Role,
			Name:      k.Name,
			Key:       raw,
			CreatedAt: k.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		items, err := cfg.Repo.ListAPIKeys(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(items))
		for _, k := range items {
			res = append(res, APIKeyResponse{
				ID:        k.ID,
				ActorID:   k.ActorID,
				Role:      k.Role,
				Name:      k.Name,
				CreatedAt: k.CreatedAt,
			})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Revoke an API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if err := cfg.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
