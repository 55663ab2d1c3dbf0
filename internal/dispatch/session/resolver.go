package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/example/livedispatch/internal/dispatch/domain"
)

// Resolver turns an opaque dispatch token into a live session. It is a pure
// read over the token store; the kind is declared by the caller's connection
// context, not derived from the token.
type Resolver struct {
	tokens domain.TokenStore
}

// NewResolver constructs a resolver.
func NewResolver(tokens domain.TokenStore) *Resolver {
	return &Resolver{tokens: tokens}
}

// Resolve validates the token and classifies the caller. Any miss, expiry or
// malformed kind collapses into ErrUnauthorized so callers cannot probe why
// a link stopped working. Store failures surface as ErrUnavailable.
func (r *Resolver) Resolve(ctx context.Context, token string, kind domain.SessionKind) (domain.Session, error) {
	if !kind.Valid() {
		return domain.Session{}, domain.ErrUnauthorized
	}
	bookingID, err := r.ResolveBooking(ctx, token)
	if err != nil {
		return domain.Session{}, err
	}
	return domain.Session{BookingID: bookingID, Kind: kind}, nil
}

// ResolveBooking validates the token alone, for callers that are not
// kind-classified such as the snapshot endpoints.
func (r *Resolver) ResolveBooking(ctx context.Context, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, domain.ErrUnauthorized
	}
	bookingID, ok, err := r.tokens.Get(ctx, token)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	if !ok {
		return uuid.Nil, domain.ErrUnauthorized
	}
	return bookingID, nil
}
