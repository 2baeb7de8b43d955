package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/tenantplane/internal/app"
	"github.com/neomorfeo/tenantplane/internal/domain"
)

const timeFormat = "2006-01-02T15:04:05Z"

// TenantResponse is the API representation of a tenant.
type TenantResponse struct {
	ID            string `json:"id" doc:"Unique identifier"`
	Name          string `json:"name" doc:"Display name"`
	Email         string `json:"email" doc:"Contact email"`
	Tier          string `json:"tier" doc:"Subscription tier"`
	Status        string `json:"status" doc:"Lifecycle state"`
	Phone         string `json:"phone,omitempty" doc:"Contact phone"`
	Address       string `json:"address,omitempty" doc:"Postal address"`
	FailedStep    string `json:"failedStep,omitempty" doc:"Step that failed the last intent"`
	FailureReason string `json:"failureReason,omitempty" doc:"Why the last intent failed"`
	CreatedAt     string `json:"createdAt" doc:"Creation timestamp (ISO 8601)"`
	UpdatedAt     string `json:"updatedAt" doc:"Last update timestamp (ISO 8601)"`
}

func toTenantResponse(t domain.Tenant) TenantResponse {
	return TenantResponse{
		ID:            t.ID,
		Name:          t.Name,
		Email:         t.Email,
		Tier:          string(t.Tier),
		Status:        string(t.Status),
		Phone:         t.Phone,
		Address:       t.Address,
		FailedStep:    t.FailedStep,
		FailureReason: t.FailureReason,
		CreatedAt:     t.CreatedAt.Format(timeFormat),
		UpdatedAt:     t.UpdatedAt.Format(timeFormat),
	}
}

// AcceptedResponse acknowledges an intent that is handled asynchronously.
type AcceptedResponse struct {
	TenantID string `json:"tenantId"`
	Intent   string `json:"intent" doc:"Event emitted for the request"`
}

// --- Onboard ---

type CreateTenantInput struct {
	Body struct {
		ID         string `json:"id,omitempty" maxLength:"64" pattern:"^[A-Za-z0-9][A-Za-z0-9-]*$" doc:"Tenant id; generated when omitted"`
		Name       string `json:"name" minLength:"1" maxLength:"255" doc:"Display name"`
		Email      string `json:"email" format:"email" doc:"Contact email"`
		Tier       string `json:"tier" minLength:"1" doc:"Subscription tier name as listed by GET /tiers"`
		Phone      string `json:"phone,omitempty"`
		Address    string `json:"address,omitempty"`
		CommitID   string `json:"commitId,omitempty" doc:"Commit to deploy; defaults to the configured commit"`
		WaveNumber string `json:"waveNumber,omitempty" doc:"Deployment wave"`
	}
}

type CreateTenantOutput struct {
	Body TenantResponse
}

// --- Get / List ---

type GetTenantInput struct {
	ID string `path:"id" doc:"Tenant ID"`
}

type GetTenantOutput struct {
	Body TenantResponse
}

type ListTenantsInput struct {
	Status string `query:"status" required:"false" enum:"Pending,Provisioning,Active,Failed,Deprovisioning,Removed" doc:"Filter by status"`
	Limit  int    `query:"limit" required:"false" default:"50" minimum:"1" maximum:"500" doc:"Max results"`
	Offset int    `query:"offset" required:"false" default:"0" minimum:"0" doc:"Pagination offset"`
}

type ListTenantsOutput struct {
	Body []TenantResponse
}

// --- Redeploy / Offboard ---

type RedeployInput struct {
	ID   string `path:"id" doc:"Tenant ID"`
	Body struct {
		CommitID   string `json:"commitId,omitempty"`
		WaveNumber string `json:"waveNumber,omitempty"`
	} `required:"false"`
}

type OffboardInput struct {
	ID string `path:"id" doc:"Tenant ID"`
}

type AcceptedOutput struct {
	Body AcceptedResponse
}

// --- Deployment ---

type DeploymentResponse struct {
	TenantID   string `json:"tenantId"`
	StackName  string `json:"stackName"`
	CommitID   string `json:"commitId"`
	WaveNumber string `json:"waveNumber"`
	UpdatedAt  string `json:"updatedAt"`
}

type GetDeploymentOutput struct {
	Body DeploymentResponse
}

// --- Tiers ---

type TierResponse struct {
	Name          string `json:"name"`
	BillingPlanID string `json:"billingPlanId"`
	ThrottleClass string `json:"throttleClass"`
}

type ListTiersOutput struct {
	Body []TierResponse
}

// --- Usage logs ---

type UsageLogInput struct {
	Body struct {
		ID        string    `json:"id,omitempty"`
		Service   string    `json:"service,omitempty" doc:"Used when the message carries no service field"`
		TenantID  string    `json:"tenantId,omitempty" doc:"Used when the message carries no tenant_id field"`
		Timestamp time.Time `json:"timestamp,omitempty"`
		Message   string    `json:"message" minLength:"1" doc:"Structured log line"`
	}
}

type UsageLogOutput struct {
	Body struct {
		Outcome string `json:"outcome" enum:"forwarded,skipped,malformed,failed"`
	}
}

type SubscriptionInput struct {
	Body struct {
		AWSLogs struct {
			Data string `json:"data" minLength:"1" doc:"Base64 gzip CloudWatch Logs payload"`
		} `json:"awslogs"`
	}
}

type SubscriptionOutput struct {
	Body map[string]int
}

// --- Events ---

type EventInput struct {
	Body struct {
		ID        string         `json:"id,omitempty"`
		EventType string         `json:"eventType" minLength:"1"`
		TenantID  string         `json:"tenantId" minLength:"1"`
		Payload   map[string]any `json:"payload,omitempty"`
		Source    string         `json:"source,omitempty" enum:"control-plane,application-plane"`
		Timestamp time.Time      `json:"timestamp,omitempty"`
	}
}

type EventOutput struct {
	Body struct {
		ID string `json:"id" doc:"Envelope id assigned to the event"`
	}
}

// Register adds all control-plane API routes to the Huma API.
func Register(api huma.API, orch *app.Orchestrator, usage *app.UsageRouter) {
	huma.Register(api, huma.Operation{
		OperationID:   "onboard-tenant",
		Method:        http.MethodPost,
		Path:          "/api/v1/tenants",
		Summary:       "Onboard a new tenant",
		Tags:          []string{"Tenants"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateTenantInput) (*CreateTenantOutput, error) {
		b := input.Body
		tenant, err := orch.RequestOnboarding(ctx, domain.Tenant{
			ID:      b.ID,
			Name:    b.Name,
			Email:   b.Email,
			Tier:    domain.Tier(b.Tier),
			Phone:   b.Phone,
			Address: b.Address,
		}, domain.DeployTarget{CommitID: b.CommitID, WaveNumber: b.WaveNumber})
		if err != nil {
			return nil, toHumaError(ctx, err)
		}
		return &CreateTenantOutput{Body: toTenantResponse(tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tenant",
		Method:      http.MethodGet,
		Path:        "/api/v1/tenants/{id}",
		Summary:     "Get a tenant by ID",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *GetTenantInput) (*GetTenantOutput, error) {
		tenant, err := orch.GetTenant(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(ctx, err)
		}
		return &GetTenantOutput{Body: toTenantResponse(tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tenants",
		Method:      http.MethodGet,
		Path:        "/api/v1/tenants",
		Summary:     "List tenants",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *ListTenantsInput) (*ListTenantsOutput, error) {
		filter := domain.ListFilter{
			Limit:  input.Limit,
			Offset: input.Offset,
		}
		if input.Status != "" {
			s := domain.Status(input.Status)
			filter.Status = &s
		}

		tenants, err := orch.ListTenants(ctx, filter)
		if err != nil {
			return nil, toHumaError(ctx, err)
		}

		resp := make([]TenantResponse, len(tenants))
		for i, t := range tenants {
			resp[i] = toTenantResponse(t)
		}
		return &ListTenantsOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "redeploy-tenant",
		Method:        http.MethodPost,
		Path:          "/api/v1/tenants/{id}/deployments",
		Summary:       "Redeploy an active tenant",
		Tags:          []string{"Tenants"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *RedeployInput) (*AcceptedOutput, error) {
		target := domain.DeployTarget{CommitID: input.Body.CommitID, WaveNumber: input.Body.WaveNumber}
		if err := orch.RequestUpdate(ctx, input.ID, target); err != nil {
			return nil, toHumaError(ctx, err)
		}
		return &AcceptedOutput{Body: AcceptedResponse{TenantID: input.ID, Intent: string(domain.EventUpdateRequested)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "offboard-tenant",
		Method:        http.MethodDelete,
		Path:          "/api/v1/tenants/{id}",
		Summary:       "Offboard a tenant",
		Tags:          []string{"Tenants"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *OffboardInput) (*AcceptedOutput, error) {
		if err := orch.RequestOffboarding(ctx, input.ID); err != nil {
			return nil, toHumaError(ctx, err)
		}
		return &AcceptedOutput{Body: AcceptedResponse{TenantID: input.ID, Intent: string(domain.EventOffboardingRequested)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-deployment",
		Method:      http.MethodGet,
		Path:        "/api/v1/tenants/{id}/deployment",
		Summary:     "Get the deployment record of a tenant",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *GetTenantInput) (*GetDeploymentOutput, error) {
		d, err := orch.GetDeployment(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(ctx, err)
		}
		return &GetDeploymentOutput{Body: DeploymentResponse{
			TenantID:   d.TenantID,
			StackName:  d.StackName,
			CommitID:   d.CommitID,
			WaveNumber: d.WaveNumber,
			UpdatedAt:  d.UpdatedAt.Format(timeFormat),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tiers",
		Method:      http.MethodGet,
		Path:        "/api/v1/tiers",
		Summary:     "List subscription tiers",
		Tags:        []string{"Tiers"},
	}, func(_ context.Context, _ *struct{}) (*ListTiersOutput, error) {
		defs := orch.Tiers()
		resp := make([]TierResponse, len(defs))
		for i, d := range defs {
			resp[i] = TierResponse{Name: string(d.Name), BillingPlanID: d.BillingPlanID, ThrottleClass: string(d.ThrottleClass)}
		}
		return &ListTiersOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "route-usage-log",
		Method:      http.MethodPost,
		Path:        "/api/v1/usage-logs",
		Summary:     "Route one usage log event",
		Tags:        []string{"Usage"},
	}, func(ctx context.Context, input *UsageLogInput) (*UsageLogOutput, error) {
		b := input.Body
		outcome := usage.Route(ctx, domain.LogEvent{
			ID:        b.ID,
			Service:   b.Service,
			TenantID:  b.TenantID,
			Timestamp: b.Timestamp,
			Message:   b.Message,
		})
		out := &UsageLogOutput{}
		out.Body.Outcome = string(outcome)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "route-usage-subscription",
		Method:      http.MethodPost,
		Path:        "/api/v1/usage-logs/subscription",
		Summary:     "Route a CloudWatch Logs subscription batch",
		Tags:        []string{"Usage"},
	}, func(ctx context.Context, input *SubscriptionInput) (*SubscriptionOutput, error) {
		raw := events.CloudwatchLogsRawData{Data: input.Body.AWSLogs.Data}
		data, err := raw.Parse()
		if err != nil {
			return nil, huma.Error400BadRequest("awslogs.data is not a valid subscription payload", err)
		}

		// The log group tail names the emitting service, e.g. /aws/lambda/ProductService.
		var service string
		if data.LogGroup != "" {
			service = path.Base(data.LogGroup)
		}
		batch := make([]domain.LogEvent, 0, len(data.LogEvents))
		for _, ev := range data.LogEvents {
			batch = append(batch, domain.LogEvent{
				ID:        ev.ID,
				Service:   service,
				Timestamp: time.UnixMilli(ev.Timestamp).UTC(),
				Message:   ev.Message,
			})
		}

		tally := usage.RouteBatch(ctx, batch)
		out := &SubscriptionOutput{Body: make(map[string]int, len(tally))}
		for _, o := range []domain.RouteOutcome{domain.RouteForwarded, domain.RouteSkipped, domain.RouteMalformed, domain.RouteFailed} {
			out.Body[string(o)] = tally[o]
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-event",
		Method:        http.MethodPost,
		Path:          "/api/v1/events",
		Summary:       "Submit a control-plane event",
		Tags:          []string{"Events"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *EventInput) (*EventOutput, error) {
		b := input.Body
		env, err := orch.Submit(ctx, domain.Envelope{
			ID:        b.ID,
			Type:      domain.EventType(b.EventType),
			TenantID:  b.TenantID,
			Payload:   b.Payload,
			Source:    domain.Source(b.Source),
			Timestamp: b.Timestamp,
		})
		if err != nil {
			return nil, toHumaError(ctx, err)
		}
		out := &EventOutput{}
		out.Body.ID = env.ID
		return out, nil
	})
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(ctx context.Context, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return huma.Error404NotFound(err.Error())
	}

	var dupErr *domain.DuplicateTenantError
	if errors.As(err, &dupErr) {
		return huma.Error409Conflict(dupErr.Error())
	}

	var valErr domain.ValidationError
	if errors.As(err, &valErr) {
		return huma.Error422UnprocessableEntity(valErr.Error())
	}

	slog.ErrorContext(ctx, "request failed", "error", err)
	return huma.Error500InternalServerError("internal server error")
}
