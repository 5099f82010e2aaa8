// Package history provides per-policy claim frequency lookups against
// the persisted claim store.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/clearclaim/kestrel/internal/domain"
)

// Service counts stored claims per policy within a trailing window.
// Used to seed frequency baselines across batches, beyond what a single
// in-memory batch can see.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a claim history service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// ClaimCount returns the number of stored claims for a policy within the
// trailing window ending at asOf.
func (s *Service) ClaimCount(ctx context.Context, tenantID, policyNumber string, window time.Duration, asOf time.Time) (int64, error) {
	if tenantID == "" || policyNumber == "" {
		return 0, fmt.Errorf("tenantID and policyNumber are required")
	}
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}

	since := asOf.Add(-window)
	count, err := s.repo.CountClaimsByPolicy(ctx, tenantID, policyNumber, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count claims: %w", err)
	}
	return int64(count), nil
}

// RecordClaim tracks an ingested claim in the windowed counter cache and
// returns the policy's running count. The counter expires with the
// window, so it approximates the trailing-window count without a store
// round trip.
func (s *Service) RecordClaim(ctx context.Context, tenantID, policyNumber string, window time.Duration) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	key := fmt.Sprintf("freq:%s", policyNumber)
	return s.cache.IncrementCounter(ctx, tenantID, key, window)
}
