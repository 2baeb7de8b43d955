// Package apigateway provisions a tenant's REST API and API key and binds
// the key to the usage plan of the tenant's throttle class.
package apigateway

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	apigw "github.com/aws/aws-sdk-go-v2/service/apigateway"

	"github.com/neomorfeo/tenantplane/internal/adapter/awsclient"
	"github.com/neomorfeo/tenantplane/internal/domain"
)

// API is the subset of the API Gateway client the provisioner calls.
type API interface {
	apigw.GetRestApisAPIClient
	CreateRestApi(ctx context.Context, in *apigw.CreateRestApiInput, opts ...func(*apigw.Options)) (*apigw.CreateRestApiOutput, error)
	DeleteRestApi(ctx context.Context, in *apigw.DeleteRestApiInput, opts ...func(*apigw.Options)) (*apigw.DeleteRestApiOutput, error)
	GetApiKeys(ctx context.Context, in *apigw.GetApiKeysInput, opts ...func(*apigw.Options)) (*apigw.GetApiKeysOutput, error)
	CreateApiKey(ctx context.Context, in *apigw.CreateApiKeyInput, opts ...func(*apigw.Options)) (*apigw.CreateApiKeyOutput, error)
	DeleteApiKey(ctx context.Context, in *apigw.DeleteApiKeyInput, opts ...func(*apigw.Options)) (*apigw.DeleteApiKeyOutput, error)
	CreateUsagePlanKey(ctx context.Context, in *apigw.CreateUsagePlanKeyInput, opts ...func(*apigw.Options)) (*apigw.CreateUsagePlanKeyOutput, error)
}

// Config describes where tenant APIs live.
type Config struct {
	Region string
	Stage  string
	// UsagePlans maps each throttle class to an existing usage plan id.
	UsagePlans map[domain.ThrottleClass]string
}

var _ domain.GatewayProvisioner = (*Provisioner)(nil)

// Provisioner implements domain.GatewayProvisioner.
type Provisioner struct {
	api API
	cfg Config
}

// New creates a Provisioner. Stage defaults to "prod".
func New(api API, cfg Config) *Provisioner {
	if cfg.Stage == "" {
		cfg.Stage = "prod"
	}
	return &Provisioner{api: api, cfg: cfg}
}

// NewFromConfig creates a Provisioner backed by a real API Gateway client.
func NewFromConfig(awsCfg aws.Config, cfg Config) *Provisioner {
	if cfg.Region == "" {
		cfg.Region = awsCfg.Region
	}
	return New(apigw.NewFromConfig(awsCfg), cfg)
}

func resourceName(tenantID string) string { return "tenant-" + tenantID }

func (p *Provisioner) Provision(ctx context.Context, tenantID string, throttle domain.ThrottleClass, id domain.Identity) (domain.Gateway, error) {
	planID, ok := p.cfg.UsagePlans[throttle]
	if !ok {
		return domain.Gateway{}, domain.Terminal(domain.StepAccessGateway,
			fmt.Errorf("no usage plan configured for throttle class %q", throttle))
	}

	apiID, err := p.findAPI(ctx, resourceName(tenantID))
	if err != nil {
		return domain.Gateway{}, err
	}
	if apiID == "" {
		out, err := p.api.CreateRestApi(ctx, &apigw.CreateRestApiInput{
			Name:        aws.String(resourceName(tenantID)),
			Description: aws.String("Tenant API for " + tenantID),
			Tags: map[string]string{
				"tenant_id":     tenantID,
				"user_pool_id":  id.PoolID,
				"app_client_id": id.ClientID,
			},
		})
		if err != nil {
			return domain.Gateway{}, fail("creating rest api", err)
		}
		apiID = aws.ToString(out.Id)
	}

	keyID, err := p.findKey(ctx, resourceName(tenantID))
	if err != nil {
		return domain.Gateway{}, err
	}
	if keyID == "" {
		out, err := p.api.CreateApiKey(ctx, &apigw.CreateApiKeyInput{
			Name:    aws.String(resourceName(tenantID)),
			Enabled: true,
			Tags:    map[string]string{"tenant_id": tenantID},
		})
		if err != nil {
			return domain.Gateway{}, fail("creating api key", err)
		}
		keyID = aws.ToString(out.Id)
	}

	_, err = p.api.CreateUsagePlanKey(ctx, &apigw.CreateUsagePlanKeyInput{
		UsagePlanId: aws.String(planID),
		KeyId:       aws.String(keyID),
		KeyType:     aws.String("API_KEY"),
	})
	if err != nil && !awsclient.IsCode(err, "ConflictException") {
		return domain.Gateway{}, fail("binding usage plan", err)
	}

	return domain.Gateway{
		URL:      fmt.Sprintf("https://%s.execute-api.%s.amazonaws.com/%s", apiID, p.cfg.Region, p.cfg.Stage),
		APIKeyID: keyID,
	}, nil
}

func (p *Provisioner) Deprovision(ctx context.Context, tenantID string) error {
	keyID, err := p.findKey(ctx, resourceName(tenantID))
	if err != nil {
		return err
	}
	if keyID != "" {
		_, err := p.api.DeleteApiKey(ctx, &apigw.DeleteApiKeyInput{ApiKey: aws.String(keyID)})
		if err != nil && !isNotFound(err) {
			return fail("deleting api key", err)
		}
	}

	apiID, err := p.findAPI(ctx, resourceName(tenantID))
	if err != nil || apiID == "" {
		return err
	}
	_, err = p.api.DeleteRestApi(ctx, &apigw.DeleteRestApiInput{RestApiId: aws.String(apiID)})
	if err != nil && !isNotFound(err) {
		return fail("deleting rest api", err)
	}
	return nil
}

func (p *Provisioner) findAPI(ctx context.Context, name string) (string, error) {
	pages := apigw.NewGetRestApisPaginator(p.api, &apigw.GetRestApisInput{Limit: aws.Int32(500)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return "", fail("listing rest apis", err)
		}
		for _, api := range page.Items {
			if aws.ToString(api.Name) == name {
				return aws.ToString(api.Id), nil
			}
		}
	}
	return "", nil
}

func (p *Provisioner) findKey(ctx context.Context, name string) (string, error) {
	out, err := p.api.GetApiKeys(ctx, &apigw.GetApiKeysInput{NameQuery: aws.String(name)})
	if err != nil {
		return "", fail("listing api keys", err)
	}
	for _, k := range out.Items {
		if aws.ToString(k.Name) == name {
			return aws.ToString(k.Id), nil
		}
	}
	return "", nil
}

func isNotFound(err error) bool {
	return awsclient.IsCode(err, "NotFoundException")
}

func fail(op string, err error) error {
	return awsclient.Classify(domain.StepAccessGateway, fmt.Errorf("apigateway: %s: %w", op, err))
}
