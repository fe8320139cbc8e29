package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"flowline/internal/signal"
	"flowline/internal/snapshot"
	"flowline/internal/store"
)

// SnapshotFunc supplies the current entity snapshot. It is called on every
// request so the derived reports always reflect the latest data on disk.
type SnapshotFunc func(ctx context.Context) (snapshot.Snapshot, error)

// Config for the HTTP API handler.
type Config struct {
	Engine    signal.Engine
	Snapshots SnapshotFunc
	BasePath  string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"invalid today override"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Flowline dashboard API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Snapshots == nil {
		return nil, errors.New("snapshot supplier is required")
	}
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
	hcfg := huma.DefaultConfig("Flowline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDashboard(group, cfg)
	registerForecast(group, cfg)
	registerRisk(group, cfg)
	registerFlow(group, cfg)
	registerDeliverables(group, cfg)
	registerOverrides(group, cfg)
	registerSnapshot(group, cfg)
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
	if errors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "not in snapshot"):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// loadToday resolves the snapshot and the effective "today" for a request.
func loadToday(ctx context.Context, cfg Config, todayOverride string) (snapshot.Snapshot, signal.Engine, string, huma.StatusError) {
	snap, err := cfg.Snapshots(ctx)
	if err != nil {
		return snapshot.Snapshot{}, cfg.Engine, "", newAPIError(http.StatusInternalServerError, "snapshot_unavailable", "cannot load snapshot", map[string]any{"error": err.Error()})
	}
	return snap, cfg.Engine, todayOverride, nil
}

type TodayQuery struct {
	Today string `query:"today" format:"date" doc:"Override the reference date (YYYY-MM-DD)"`
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

func registerDashboard(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Full dashboard",
		Description: "All derived artifacts in one pass: classification, forecast, risk rollup and flow score.",
	}, func(ctx context.Context, input *TodayQuery) (*struct {
		Body signal.Dashboard `json:"body"`
	}, error) {
		snap, eng, todayStr, herr := loadToday(ctx, cfg, input.Today)
		if herr != nil {
			return nil, herr
		}
		today, err := eng.Today(todayStr)
		if err != nil {
			return nil, handleError(err)
		}
		dash, err := eng.BuildDashboard(ctx, snap, today)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body signal.Dashboard `json:"body"`
		}{Body: dash}, nil
	})
}

func registerForecast(api huma.API, cfg Config) {
	type forecastQuery struct {
		TodayQuery
		Days int `query:"days" minimum:"0" doc:"Horizon length in days (default from config)"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-forecast",
		Method:      http.MethodGet,
		Path:        "/forecast",
		Summary:     "Capacity forecast",
	}, func(ctx context.Context, input *forecastQuery) (*struct {
		Body signal.CapacityForecast `json:"body"`
	}, error) {
		snap, eng, todayStr, herr := loadToday(ctx, cfg, input.Today)
		if herr != nil {
			return nil, herr
		}
		today, err := eng.Today(todayStr)
		if err != nil {
			return nil, handleError(err)
		}
		fc, err := eng.Forecast(ctx, snap, today, input.Days)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body signal.CapacityForecast `json:"body"`
		}{Body: fc}, nil
	})
}

func registerRisk(api huma.API, cfg Config) {
	type riskResponse struct {
		Jobs    []signal.JobRisk      `json:"jobs"`
		Summary signal.JobRiskSummary `json:"summary"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-jobs-at-risk",
		Method:      http.MethodGet,
		Path:        "/risk",
		Summary:     "Jobs at risk",
	}, func(ctx context.Context, input *TodayQuery) (*struct {
		Body riskResponse `json:"body"`
	}, error) {
		snap, eng, todayStr, herr := loadToday(ctx, cfg, input.Today)
		if herr != nil {
			return nil, herr
		}
		today, err := eng.Today(todayStr)
		if err != nil {
			return nil, handleError(err)
		}
		jobs, summary, err := eng.JobsAtRisk(ctx, snap, today)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body riskResponse `json:"body"`
		}{Body: riskResponse{Jobs: jobs, Summary: summary}}, nil
	})
}

func registerFlow(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-flow-score",
		Method:      http.MethodGet,
		Path:        "/flow",
		Summary:     "Composite flow score",
	}, func(ctx context.Context, input *TodayQuery) (*struct {
		Body signal.FlowScore `json:"body"`
	}, error) {
		snap, eng, todayStr, herr := loadToday(ctx, cfg, input.Today)
		if herr != nil {
			return nil, herr
		}
		today, err := eng.Today(todayStr)
		if err != nil {
			return nil, handleError(err)
		}
		dash, err := eng.BuildDashboard(ctx, snap, today)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body signal.FlowScore `json:"body"`
		}{Body: dash.Flow}, nil
	})
}

func registerDeliverables(api huma.API, cfg Config) {
	type deliverableQuery struct {
		TodayQuery
		AtRisk bool `query:"at_risk" doc:"Only at-risk deliverables"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-deliverables",
		Method:      http.MethodGet,
		Path:        "/deliverables",
		Summary:     "Classified deliverables",
	}, func(ctx context.Context, input *deliverableQuery) (*struct {
		Body []signal.ClassifiedDeliverable `json:"body"`
	}, error) {
		snap, eng, todayStr, herr := loadToday(ctx, cfg, input.Today)
		if herr != nil {
			return nil, herr
		}
		today, err := eng.Today(todayStr)
		if err != nil {
			return nil, handleError(err)
		}
		classified, err := eng.Classified(ctx, snap, today)
		if err != nil {
			return nil, handleError(err)
		}
		if input.AtRisk {
			kept := classified[:0]
			for _, c := range classified {
				if c.AtRisk {
					kept = append(kept, c)
				}
			}
			classified = kept
		}
		return &struct {
			Body []signal.ClassifiedDeliverable `json:"body"`
		}{Body: classified}, nil
	})
}

func registerOverrides(api huma.API, cfg Config) {
	type DeliverablePath struct {
		DeliverableID string `path:"deliverable_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "move-due",
		Method:      http.MethodPatch,
		Path:        "/deliverables/{deliverable_id}/due",
		Summary:     "Override a due date",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DeliverablePath
		Body MoveDueRequest `json:"body"`
	}) (*struct {
		Body OverrideResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		snap, eng, _, herr := loadToday(ctx, cfg, "")
		if herr != nil {
			return nil, herr
		}
		rec, err := eng.MoveDue(ctx, snap, input.DeliverableID, input.Body.Due, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OverrideResponse `json:"body"`
		}{Body: OverrideResponse{DeliverableID: input.DeliverableID, Record: rec}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-confidence",
		Method:      http.MethodPatch,
		Path:        "/deliverables/{deliverable_id}/confidence",
		Summary:     "Set progress confidence",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		DeliverablePath
		Body SetConfidenceRequest `json:"body"`
	}) (*struct {
		Body OverrideResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		rec, err := cfg.Engine.SetConfidence(ctx, input.DeliverableID, input.Body.Confidence)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OverrideResponse `json:"body"`
		}{Body: OverrideResponse{DeliverableID: input.DeliverableID, Record: rec}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "mark-reviewed",
		Method:        http.MethodPost,
		Path:          "/deliverables/{deliverable_id}/review",
		Summary:       "Acknowledge a deliverable's current risk state",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DeliverablePath
		TodayQuery
	}) (*struct {
		Body OverrideResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		snap, eng, todayStr, herr := loadToday(ctx, cfg, input.Today)
		if herr != nil {
			return nil, herr
		}
		today, err := eng.Today(todayStr)
		if err != nil {
			return nil, handleError(err)
		}
		rec, err := eng.MarkReviewed(ctx, snap, input.DeliverableID, actorID, today)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OverrideResponse `json:"body"`
		}{Body: OverrideResponse{DeliverableID: input.DeliverableID, Record: rec}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-change-order",
		Method:        http.MethodPost,
		Path:          "/deliverables/{deliverable_id}/change-orders",
		Summary:       "Record a change order",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		DeliverablePath
		Body AddChangeOrderRequest `json:"body"`
	}) (*struct {
		Body OverrideResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := cfg.Engine.AddChangeOrder(ctx, input.DeliverableID, input.Body.Note, input.Body.Hours, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OverrideResponse `json:"body"`
		}{Body: OverrideResponse{DeliverableID: input.DeliverableID, Record: rec}}, nil
	})
}

func registerSnapshot(api huma.API, cfg Config) {
	type validateResponse struct {
		OK       bool     `json:"ok"`
		Warnings []string `json:"warnings,omitempty"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "validate-snapshot",
		Method:      http.MethodGet,
		Path:        "/snapshot/validate",
		Summary:     "Validate the current snapshot",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body validateResponse `json:"body"`
	}, error) {
		snap, _, _, herr := loadToday(ctx, cfg, "")
		if herr != nil {
			return nil, herr
		}
		warns := snap.Warnings()
		return &struct {
			Body validateResponse `json:"body"`
		}{Body: validateResponse{OK: len(warns) == 0, Warnings: warns}}, nil
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
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
    <title>Flowline API Docs</title>
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
