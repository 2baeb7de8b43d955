package eventbridge_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	eb "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neomorfeo/tenantplane/internal/adapter/eventbridge"
	"github.com/neomorfeo/tenantplane/internal/domain"
)

type fakeBus struct {
	inputs []*eb.PutEventsInput
	reject bool
}

func (f *fakeBus) PutEvents(_ context.Context, in *eb.PutEventsInput, _ ...func(*eb.Options)) (*eb.PutEventsOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.reject {
		return &eb.PutEventsOutput{
			FailedEntryCount: 1,
			Entries: []types.PutEventsResultEntry{{
				ErrorCode:    aws.String("InternalFailure"),
				ErrorMessage: aws.String("try again"),
			}},
		}, nil
	}
	return &eb.PutEventsOutput{Entries: []types.PutEventsResultEntry{{EventId: aws.String("e-1")}}}, nil
}

var env = domain.Envelope{
	ID:        "evt-1",
	Type:      domain.EventOnboardingSucceeded,
	Source:    domain.SourceControlPlane,
	TenantID:  "t1",
	Timestamp: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
	Payload:   map[string]any{domain.PayloadVersion: "1"},
}

func TestObserve(t *testing.T) {
	api := &fakeBus{}
	m := eventbridge.New(api, "saas-events")

	require.NoError(t, m.Observe(context.Background(), env))

	require.Len(t, api.inputs, 1)
	entry := api.inputs[0].Entries[0]
	assert.Equal(t, "saas-events", aws.ToString(entry.EventBusName))
	assert.Equal(t, string(domain.EventOnboardingSucceeded), aws.ToString(entry.DetailType))
	assert.Equal(t, string(domain.SourceControlPlane), aws.ToString(entry.Source))
	assert.True(t, env.Timestamp.Equal(aws.ToTime(entry.Time)))

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(entry.Detail)), &body))
	assert.Equal(t, "t1", body["tenantId"])
}

func TestObserve_RejectedEntry(t *testing.T) {
	m := eventbridge.New(&fakeBus{reject: true}, "saas-events")

	err := m.Observe(context.Background(), env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InternalFailure")
}
