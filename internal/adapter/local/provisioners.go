// Package local provides in-process stand-ins for the cloud provisioners
// and usage sink, for development and the default configuration.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

var (
	_ domain.IdentityProvisioner = (*Identity)(nil)
	_ domain.GatewayProvisioner  = (*Gateway)(nil)
	_ domain.UsageSink           = (*LogSink)(nil)
)

// Identity derives identity resources from the tenant id.
type Identity struct {
	mu    sync.Mutex
	pools map[string]domain.Identity
}

func NewIdentity() *Identity {
	return &Identity{pools: make(map[string]domain.Identity)}
}

func (p *Identity) Provision(_ context.Context, tenantID string) (domain.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.pools[tenantID]
	if !ok {
		id = domain.Identity{PoolID: "local_pool-" + tenantID, ClientID: "local_client-" + tenantID}
		p.pools[tenantID] = id
	}
	return id, nil
}

func (p *Identity) Deprovision(_ context.Context, tenantID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pools, tenantID)
	return nil
}

// Active reports whether tenantID currently holds an identity pool.
func (p *Identity) Active(tenantID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pools[tenantID]
	return ok
}

// Gateway serves every tenant under BaseURL.
type Gateway struct {
	BaseURL string

	mu       sync.Mutex
	gateways map[string]domain.Gateway
}

func NewGateway(baseURL string) *Gateway {
	return &Gateway{BaseURL: baseURL, gateways: make(map[string]domain.Gateway)}
}

func (p *Gateway) Provision(_ context.Context, tenantID string, throttle domain.ThrottleClass, _ domain.Identity) (domain.Gateway, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	gw, ok := p.gateways[tenantID]
	if !ok {
		gw = domain.Gateway{
			URL:      fmt.Sprintf("%s/tenants/%s", p.BaseURL, tenantID),
			APIKeyID: fmt.Sprintf("local-key-%s-%s", throttle, tenantID),
		}
		p.gateways[tenantID] = gw
	}
	return gw, nil
}

func (p *Gateway) Deprovision(_ context.Context, tenantID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.gateways, tenantID)
	return nil
}

// LogSink writes metering records to a logger instead of a stream.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Forward(ctx context.Context, rec domain.MeteringRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding metering record: %w", err)
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "metering record",
		"tenant_id", rec.CompanyID,
		"action", rec.ActionName,
		"record", string(body),
	)
	return nil
}
