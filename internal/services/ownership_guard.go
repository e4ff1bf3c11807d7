package services

import (
	"context"
	"fmt"

	"entitlement-api/internal/apperrors"
)

type keyOwnerLookup interface {
	KeyOwner(ctx context.Context, field, value string) (string, error)
}

func ledgerKey(store keyOwnerLookup, field, value string) NaturalKey {
	return NaturalKey{
		Field: field,
		Value: value,
		Owner: func(ctx context.Context) (string, error) {
			return store.KeyOwner(ctx, field, value)
		},
	}
}

// OwnershipGuard rejects a submission when any of its natural keys is already
// stored under a different account. A single colliding key rejects the whole
// submission.
type OwnershipGuard struct{}

func NewOwnershipGuard() *OwnershipGuard {
	return &OwnershipGuard{}
}

func (g *OwnershipGuard) Check(ctx context.Context, userID string, keys []NaturalKey) error {
	for _, key := range keys {
		owner, err := key.Owner(ctx)
		if err != nil {
			return apperrors.Internal(err, fmt.Sprintf("failed to look up %s", key.Field))
		}
		if owner != "" && owner != userID {
			return apperrors.OwnershipConflict("%s is already registered to another account", key.Field)
		}
	}
	return nil
}
