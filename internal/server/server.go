package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"plazos/internal/deadline"
	"plazos/internal/engine"
	"plazos/internal/engine/auth"
	"plazos/internal/repo"
	"plazos/internal/scheduler"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	Scheduler *scheduler.Scheduler
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer       prometheus.Gatherer
	BasePath       string
	AllowedOrigins []string
	Auth           AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"invalid quantity: must not be negative"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"quantity\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the plazos API.
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

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Owner-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	if cfg.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	hcfg := huma.DefaultConfig("plazos API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDeadlines(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerRulesets(group, cfg.Engine)
	registerScheduler(group, cfg.Scheduler, cfg.Auth)
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
	var inErr *deadline.InputError
	if errors.As(err, &inErr) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": inErr.Field})
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"entity_id": fe.EntityID})
	}
	switch {
	case errors.Is(err, auth.ErrOwnerRequired):
		return newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	case errors.Is(err, scheduler.ErrSweepInProgress):
		return newAPIError(http.StatusConflict, "sweep_in_progress", err.Error(), nil)
	case errors.Is(err, deadline.ErrWalkLimit):
		return newAPIError(http.StatusUnprocessableEntity, "walk_limit", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
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

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Post} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Post} {
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
    <title>plazos API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' });
      };
    </script>
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

func registerDeadlines(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "compute-deadline",
		Method:      http.MethodPost,
		Path:        "/deadlines/compute",
		Summary:     "Compute a deadline without recording it",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body DeadlineInput `json:"body"`
	}) (*struct {
		Body ComputationResponse `json:"body"`
	}, error) {
		comp, err := e.ComputeDeadline(input.Body.toInput())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ComputationResponse `json:"body"`
		}{Body: ComputationResponse{Computation: comp}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "schedule-deadline",
		Method:      http.MethodPost,
		Path:        "/deadlines",
		Summary:     "Compute a deadline and record it on the agenda",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body ScheduleDeadlineRequest `json:"body"`
	}) (*struct {
		Body ScheduleDeadlineResponse `json:"body"`
	}, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a := input.Body.Agenda
		resp, err := e.ComputeAndSchedule(ctx, engine.ComputeRequest{
			Input: input.Body.toInput(),
			Agenda: &engine.AgendaOptions{
				OwnerID:       owner,
				CaseRef:       a.CaseRef,
				Title:         a.Title,
				Notes:         a.Notes,
				Priority:      a.Priority,
				Tags:          a.Tags,
				MinutesBefore: a.MinutesBefore,
				NotifyTo:      a.NotifyTo,
			},
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScheduleDeadlineResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerRulesets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "resolve-ruleset",
		Method:      http.MethodGet,
		Path:        "/rulesets/resolve",
		Summary:     "Resolve the ruleset for a country, domain and act",
	}, func(ctx context.Context, input *struct {
		Country string `query:"country"`
		Domain  string `query:"domain"`
		Act     string `query:"act"`
	}) (*struct {
		Body ResolutionResponse `json:"body"`
	}, error) {
		res := e.Calculator.Resolver.Resolve(input.Country, input.Domain, input.Act)
		return &struct {
			Body ResolutionResponse `json:"body"`
		}{Body: resolutionResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rulesets",
		Method:      http.MethodGet,
		Path:        "/rulesets",
		Summary:     "List registry keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []string `json:"body"`
	}, error) {
		keys := e.Calculator.Resolver.Registry().Keys()
		if keys == nil {
			keys = []string{}
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: keys}, nil
	})
}

func registerScheduler(api huma.API, s *scheduler.Scheduler, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "run-sweep",
		Method:      http.MethodPost,
		Path:        "/scheduler/sweep",
		Summary:     "Run one alert sweep over every owner's records",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body scheduler.SweepResult `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		if err := authCfg.canSweep(p); err != nil {
			return nil, err
		}
		if s == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "scheduler_disabled", "scheduler not configured", nil)
		}
		res, err := s.RunSweepOnce(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body scheduler.SweepResult `json:"body"`
		}{Body: res}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (int64, string, error) {
	if cursor == "" {
		return 0, "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return 0, "", fmt.Errorf("invalid cursor")
	}
	endUnix, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid cursor")
	}
	return endUnix, parts[1], nil
}

func composeCursor(endUnix int64, id string) string {
	if id == "" {
		return ""
	}
	return strconv.FormatInt(endUnix, 10) + "|" + id
}
