package local_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neomorfeo/tenantplane/internal/adapter/local"
	"github.com/neomorfeo/tenantplane/internal/domain"
)

func TestIdentity(t *testing.T) {
	p := local.NewIdentity()
	ctx := context.Background()

	first, err := p.Provision(ctx, "t1")
	require.NoError(t, err)
	second, err := p.Provision(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.True(t, p.Active("t1"))

	require.NoError(t, p.Deprovision(ctx, "t1"))
	require.NoError(t, p.Deprovision(ctx, "t1"))
	assert.False(t, p.Active("t1"))
}

func TestGateway(t *testing.T) {
	p := local.NewGateway("http://localhost:8080")

	gw, err := p.Provision(context.Background(), "t1", "premium", domain.Identity{})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/tenants/t1", gw.URL)
	assert.Equal(t, "local-key-premium-t1", gw.APIKeyID)
	require.NoError(t, p.Deprovision(context.Background(), "t1"))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := &local.LogSink{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	err := sink.Forward(context.Background(), domain.MeteringRecord{CompanyID: "t1", ActionName: "Processed Transaction for ProductService"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"tenant_id":"t1"`)
	assert.Contains(t, buf.String(), "metering record")
}
