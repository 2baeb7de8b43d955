// Package firehose forwards metering records to a Kinesis Data Firehose
// delivery stream.
package firehose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	fh "github.com/aws/aws-sdk-go-v2/service/firehose"
	"github.com/aws/aws-sdk-go-v2/service/firehose/types"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// API is the subset of the Firehose client the sink calls.
type API interface {
	PutRecord(ctx context.Context, in *fh.PutRecordInput, opts ...func(*fh.Options)) (*fh.PutRecordOutput, error)
}

var _ domain.UsageSink = (*Sink)(nil)

// Sink implements domain.UsageSink with one record per metering event.
type Sink struct {
	api    API
	stream string
}

// New creates a Sink for stream, which may be a stream name or ARN.
func New(api API, stream string) *Sink {
	if i := strings.LastIndex(stream, "/"); i >= 0 {
		stream = stream[i+1:]
	}
	return &Sink{api: api, stream: stream}
}

// NewFromConfig creates a Sink backed by a real Firehose client.
func NewFromConfig(cfg aws.Config, stream string) *Sink {
	return New(fh.NewFromConfig(cfg), stream)
}

// Stream returns the delivery stream name records are sent to.
func (s *Sink) Stream() string { return s.stream }

func (s *Sink) Forward(ctx context.Context, rec domain.MeteringRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding metering record: %w", err)
	}
	_, err = s.api.PutRecord(ctx, &fh.PutRecordInput{
		DeliveryStreamName: aws.String(s.stream),
		Record:             &types.Record{Data: data},
	})
	if err != nil {
		return fmt.Errorf("firehose: put record to %s: %w", s.stream, err)
	}
	return nil
}
