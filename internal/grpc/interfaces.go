package grpc

import (
	"context"

	identitypb "dm-service/pb/identity"
)

// TokenValidator is the authentication slice of the identity collaborator.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (int, error)
}

// ProfileResolver is the presentation slice of the identity collaborator.
type ProfileResolver interface {
	GetProfile(ctx context.Context, userID int) (*identitypb.Profile, error)
	BulkProfiles(ctx context.Context, ids []int) ([]*identitypb.Profile, error)
}
