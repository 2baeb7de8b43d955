// Package cognito provisions one Cognito user pool and app client per tenant.
package cognito

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"

	"github.com/neomorfeo/tenantplane/internal/adapter/awsclient"
	"github.com/neomorfeo/tenantplane/internal/domain"
)

// API is the subset of the Cognito client the provisioner calls.
type API interface {
	cip.ListUserPoolsAPIClient
	CreateUserPool(ctx context.Context, in *cip.CreateUserPoolInput, opts ...func(*cip.Options)) (*cip.CreateUserPoolOutput, error)
	ListUserPoolClients(ctx context.Context, in *cip.ListUserPoolClientsInput, opts ...func(*cip.Options)) (*cip.ListUserPoolClientsOutput, error)
	CreateUserPoolClient(ctx context.Context, in *cip.CreateUserPoolClientInput, opts ...func(*cip.Options)) (*cip.CreateUserPoolClientOutput, error)
	DeleteUserPool(ctx context.Context, in *cip.DeleteUserPoolInput, opts ...func(*cip.Options)) (*cip.DeleteUserPoolOutput, error)
}

var _ domain.IdentityProvisioner = (*Provisioner)(nil)

// Provisioner implements domain.IdentityProvisioner. Pools are found by
// name, so repeating a call for the same tenant reuses what exists.
type Provisioner struct {
	api API
}

// New creates a Provisioner.
func New(api API) *Provisioner {
	return &Provisioner{api: api}
}

// NewFromConfig creates a Provisioner backed by a real Cognito client.
func NewFromConfig(cfg aws.Config) *Provisioner {
	return New(cip.NewFromConfig(cfg))
}

func poolName(tenantID string) string   { return "tenant-" + tenantID }
func clientName(tenantID string) string { return "tenant-" + tenantID + "-client" }

func (p *Provisioner) Provision(ctx context.Context, tenantID string) (domain.Identity, error) {
	poolID, err := p.findPool(ctx, poolName(tenantID))
	if err != nil {
		return domain.Identity{}, err
	}
	if poolID == "" {
		out, err := p.api.CreateUserPool(ctx, &cip.CreateUserPoolInput{
			PoolName:               aws.String(poolName(tenantID)),
			AutoVerifiedAttributes: []types.VerifiedAttributeType{types.VerifiedAttributeTypeEmail},
			UsernameAttributes:     []types.UsernameAttributeType{types.UsernameAttributeTypeEmail},
			UserPoolTags:           map[string]string{"tenant_id": tenantID},
		})
		if err != nil {
			return domain.Identity{}, fail("creating user pool", err)
		}
		poolID = aws.ToString(out.UserPool.Id)
	}

	clientID, err := p.ensureClient(ctx, poolID, clientName(tenantID))
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{PoolID: poolID, ClientID: clientID}, nil
}

func (p *Provisioner) Deprovision(ctx context.Context, tenantID string) error {
	poolID, err := p.findPool(ctx, poolName(tenantID))
	if err != nil || poolID == "" {
		return err
	}
	_, err = p.api.DeleteUserPool(ctx, &cip.DeleteUserPoolInput{UserPoolId: aws.String(poolID)})
	if err != nil && !awsclient.IsCode(err, "ResourceNotFoundException") {
		return fail("deleting user pool", err)
	}
	return nil
}

func (p *Provisioner) findPool(ctx context.Context, name string) (string, error) {
	pages := cip.NewListUserPoolsPaginator(p.api, &cip.ListUserPoolsInput{MaxResults: aws.Int32(60)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return "", fail("listing user pools", err)
		}
		for _, pool := range page.UserPools {
			if aws.ToString(pool.Name) == name {
				return aws.ToString(pool.Id), nil
			}
		}
	}
	return "", nil
}

func (p *Provisioner) ensureClient(ctx context.Context, poolID, name string) (string, error) {
	var token *string
	for {
		out, err := p.api.ListUserPoolClients(ctx, &cip.ListUserPoolClientsInput{
			UserPoolId: aws.String(poolID),
			MaxResults: aws.Int32(60),
			NextToken:  token,
		})
		if err != nil {
			return "", fail("listing user pool clients", err)
		}
		for _, c := range out.UserPoolClients {
			if aws.ToString(c.ClientName) == name {
				return aws.ToString(c.ClientId), nil
			}
		}
		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}

	out, err := p.api.CreateUserPoolClient(ctx, &cip.CreateUserPoolClientInput{
		UserPoolId: aws.String(poolID),
		ClientName: aws.String(name),
		ExplicitAuthFlows: []types.ExplicitAuthFlowsType{
			types.ExplicitAuthFlowsTypeAllowUserSrpAuth,
			types.ExplicitAuthFlowsTypeAllowRefreshTokenAuth,
		},
	})
	if err != nil {
		return "", fail("creating user pool client", err)
	}
	return aws.ToString(out.UserPoolClient.ClientId), nil
}

func fail(op string, err error) error {
	return awsclient.Classify(domain.StepIdentity, fmt.Errorf("cognito: %s: %w", op, err))
}
