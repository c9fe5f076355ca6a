package grpc

import (
	"context"
	"errors"

	identitypb "dm-service/pb/identity"
)

// IdentityClient wraps the identity-service gRPC client. It is the only
// collaborator the messaging core needs: token validation for writes and
// profile resolution for presentation.
type IdentityClient struct {
	client identitypb.IdentityServiceClient
}

// NewIdentityClient constructs the wrapper.
func NewIdentityClient(client identitypb.IdentityServiceClient) *IdentityClient {
	return &IdentityClient{client: client}
}

// ValidateToken verifies the JWT and returns the authenticated user id.
func (c *IdentityClient) ValidateToken(ctx context.Context, token string) (int, error) {
	resp, err := c.client.ValidateToken(ctx, &identitypb.ValidateTokenRequest{Token: token})
	if err != nil {
		return 0, err
	}
	if !resp.GetValid() || resp.GetUserId() == 0 {
		return 0, errors.New("invalid token")
	}
	return int(resp.GetUserId()), nil
}

// GetProfile resolves display data for one user.
func (c *IdentityClient) GetProfile(ctx context.Context, userID int) (*identitypb.Profile, error) {
	resp, err := c.client.GetProfile(ctx, &identitypb.GetProfileRequest{UserId: int64(userID)})
	if err != nil {
		return nil, err
	}
	if resp.GetId() == 0 {
		return nil, errors.New("user not found")
	}
	return resp, nil
}

// BulkProfiles resolves display data for multiple users in one call.
func (c *IdentityClient) BulkProfiles(ctx context.Context, ids []int) ([]*identitypb.Profile, error) {
	if len(ids) == 0 {
		return []*identitypb.Profile{}, nil
	}
	id64s := make([]int64, 0, len(ids))
	for _, id := range ids {
		id64s = append(id64s, int64(id))
	}

	resp, err := c.client.BulkProfiles(ctx, &identitypb.BulkProfilesRequest{Ids: id64s})
	if err != nil {
		return nil, err
	}
	return resp.GetProfiles(), nil
}
