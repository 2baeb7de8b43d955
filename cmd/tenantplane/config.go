package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// config is read from the environment once at start.
type config struct {
	Port              string
	DatabasePath      string
	TierCatalogPath   string
	Provisioner       string // "local" or "aws"
	AWSRegion         string
	GatewayStage      string
	GatewayUsagePlans map[domain.ThrottleClass]string
	UsageSink         string // "log" or "firehose"
	FirehoseStream    string
	EventBridgeBus    string
	StripeKey         string
	DefaultCommitID   string
	StepTimeout       time.Duration
	DispatchPoolSize  int
	DispatchRetryFor  time.Duration
	MeteringMarker    string
}

func loadConfig() (config, error) {
	cfg := config{
		Port:            envOrDefault("PORT", "8080"),
		DatabasePath:    envOrDefault("DATABASE_PATH", "tenantplane.db"),
		TierCatalogPath: os.Getenv("TIER_CATALOG_PATH"),
		Provisioner:     envOrDefault("PROVISIONER", "local"),
		AWSRegion:       os.Getenv("AWS_REGION"),
		GatewayStage:    envOrDefault("GATEWAY_STAGE", "prod"),
		UsageSink:       envOrDefault("USAGE_SINK", "log"),
		FirehoseStream:  os.Getenv("FIREHOSE_STREAM_NAME"),
		EventBridgeBus:  os.Getenv("EVENTBRIDGE_BUS_NAME"),
		StripeKey:       os.Getenv("STRIPE_KEY"),
		DefaultCommitID: envOrDefault("DEFAULT_COMMIT_ID", "main"),
		MeteringMarker:  envOrDefault("METERING_MARKER", domain.DefaultMeteringMarker),
	}

	var err error
	if cfg.StepTimeout, err = time.ParseDuration(envOrDefault("STEP_TIMEOUT", "10s")); err != nil {
		return config{}, fmt.Errorf("STEP_TIMEOUT: %w", err)
	}
	if cfg.DispatchPoolSize, err = strconv.Atoi(envOrDefault("DISPATCH_POOL_SIZE", "8")); err != nil || cfg.DispatchPoolSize < 1 {
		return config{}, fmt.Errorf("DISPATCH_POOL_SIZE must be a positive integer, got %q", os.Getenv("DISPATCH_POOL_SIZE"))
	}
	if cfg.DispatchRetryFor, err = time.ParseDuration(envOrDefault("DISPATCH_RETRY_WINDOW", "2m")); err != nil {
		return config{}, fmt.Errorf("DISPATCH_RETRY_WINDOW: %w", err)
	}
	if cfg.GatewayUsagePlans, err = parseUsagePlans(os.Getenv("GATEWAY_USAGE_PLANS")); err != nil {
		return config{}, fmt.Errorf("GATEWAY_USAGE_PLANS: %w", err)
	}

	switch cfg.Provisioner {
	case "local", "aws":
	default:
		return config{}, fmt.Errorf("PROVISIONER must be local or aws, got %q", cfg.Provisioner)
	}
	switch cfg.UsageSink {
	case "log":
	case "firehose":
		if cfg.FirehoseStream == "" {
			return config{}, fmt.Errorf("USAGE_SINK=firehose needs FIREHOSE_STREAM_NAME")
		}
	default:
		return config{}, fmt.Errorf("USAGE_SINK must be log or firehose, got %q", cfg.UsageSink)
	}
	return cfg, nil
}

// parseUsagePlans reads "class=planId,class=planId".
func parseUsagePlans(s string) (map[domain.ThrottleClass]string, error) {
	plans := make(map[domain.ThrottleClass]string)
	if strings.TrimSpace(s) == "" {
		return plans, nil
	}
	for _, pair := range strings.Split(s, ",") {
		class, plan, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || class == "" || plan == "" {
			return nil, fmt.Errorf("malformed entry %q, want class=planId", pair)
		}
		plans[domain.ThrottleClass(class)] = plan
	}
	return plans, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
