package server

import (
	"bytes"
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

	"github.com/mp21695/urbanwatch/internal/engine"
	"github.com/mp21695/urbanwatch/internal/monitor"
	"github.com/mp21695/urbanwatch/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	Scheduler *monitor.Scheduler
	BasePath  string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"complaint not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the UrbanWatch API.
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
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("UrbanWatch API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStages(group)
	registerComplaints(group, cfg.Engine)
	registerArticles(group, cfg.Engine)
	registerScan(group, cfg.Scheduler)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "transition"), strings.Contains(lowered, "already resolved"):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", msg, nil)
	case strings.Contains(lowered, "unknown") || strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
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
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "invalid_transition"
	case http.StatusUnauthorized:
		return "unauthorized"
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
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>UrbanWatch API Docs</title>
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
      Authority endpoints require Authorization: Bearer &lt;token&gt; or X-Api-Key.
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

func registerStages(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-stages",
		Method:      http.MethodGet,
		Path:        "/stages",
		Summary:     "List workflow stages",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []StageResponse `json:"body"`
	}, error) {
		return &struct {
			Body []StageResponse `json:"body"`
		}{Body: stageResponses()}, nil
	})
}

func registerComplaints(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-complaint",
		Method:        http.MethodPost,
		Path:          "/complaints",
		Summary:       "Submit complaint",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body SubmitComplaintRequest `json:"body"`
	}) (*struct {
		Body ComplaintResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID := ""
		if p, ok := principalFromContext(ctx); ok {
			actorID = p.ActorID
		}
		opts := engine.SubmitOptions{
			IssueType:   input.Body.IssueType,
			Location:    input.Body.Location,
			Area:        input.Body.Area,
			Description: input.Body.Description,
			Contact:     input.Body.Contact,
			ActorID:     actorID,
		}
		if input.Body.SLAHours != nil {
			opts.SLAHours = *input.Body.SLAHours
		}
		c, err := e.SubmitComplaint(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ComplaintResponse `json:"body"`
		}{Body: complaintResponse(c, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-complaints",
		Method:      http.MethodGet,
		Path:        "/complaints",
		Summary:     "List complaints",
	}, func(ctx context.Context, input *struct {
		Status    string `query:"status"`
		Area      string `query:"area"`
		Breaching bool   `query:"breaching"`
	}) (*struct {
		Body []ComplaintResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListComplaints(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		now := e.Now()
		out := mapComplaints(items, now)
		filtered := out[:0]
		for _, c := range out {
			if input.Status != "" && c.Status != input.Status {
				continue
			}
			if input.Area != "" && c.Area != input.Area {
				continue
			}
			if input.Breaching && !c.Breaching {
				continue
			}
			filtered = append(filtered, c)
		}
		return &struct {
			Body []ComplaintResponse `json:"body"`
		}{Body: filtered}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-complaint",
		Method:      http.MethodGet,
		Path:        "/complaints/{complaint_id}",
		Summary:     "Track complaint",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ComplaintID string `path:"complaint_id"`
	}) (*struct {
		Body ComplaintResponse `json:"body"`
	}, error) {
		c, err := e.TrackComplaint(ctx, input.ComplaintID)
		if err != nil {
			return nil, handleError(err)
		}
		if c == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "complaint not found", nil)
		}
		return &struct {
			Body ComplaintResponse `json:"body"`
		}{Body: complaintResponse(*c, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-complaint",
		Method:      http.MethodPost,
		Path:        "/complaints/{complaint_id}/advance",
		Summary:     "Advance complaint stage",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ComplaintID string                  `path:"complaint_id"`
		Body        AdvanceComplaintRequest `json:"body"`
	}) (*struct {
		Body ComplaintResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AdvanceComplaint(ctx, engine.AdvanceOptions{
			ID:      input.ComplaintID,
			Stage:   input.Body.Stage,
			Note:    input.Body.Note,
			ActorID: actorID,
			Strict:  input.Body.Strict,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ComplaintResponse `json:"body"`
		}{Body: complaintResponse(c, e.Now())}, nil
	})
}

func registerArticles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-articles",
		Method:      http.MethodGet,
		Path:        "/articles",
		Summary:     "List disclosure articles",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ArticleResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListArticles(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ArticleResponse `json:"body"`
		}{Body: mapArticles(items)}, nil
	})
}

func registerScan(api huma.API, sched *monitor.Scheduler) {
	huma.Register(api, huma.Operation{
		OperationID: "run-scan",
		Method:      http.MethodPost,
		Path:        "/scan",
		Summary:     "Run a breach scan now",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ScanResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if sched == nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "monitor not configured", nil)
		}
		rep, ran, err := sched.TryRun(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if !ran {
			return nil, newAPIError(http.StatusConflict, "scan_in_flight", "a scan is already running", nil)
		}
		return &struct {
			Body ScanResponse `json:"body"`
		}{Body: scanResponse(rep)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}
