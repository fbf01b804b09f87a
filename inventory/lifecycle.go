package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/logger"
)

// Transition is one persisted status change.
type Transition struct {
	TenantID generic.TenantID
	PoolID   generic.PoolID
	From     PoolStatus
	To       PoolStatus
}

// LifecycleService persists the status StatusAt derives: active pools
// become released at their release date and every pool expires after
// valid_to. Allocation checks never rely on the stored value alone, so a
// late run only delays what the listing shows.
type LifecycleService struct {
	Repo Repository
}

func NewLifecycleService(repo Repository) *LifecycleService {
	return &LifecycleService{Repo: repo}
}

// Run applies every due transition as of `now`. A failure on one pool is
// logged and does not stop the others.
func (s *LifecycleService) Run(ctx context.Context, now time.Time) ([]Transition, error) {
	pools, err := s.Repo.ListAllPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	today := generic.DateOf(now)

	var applied []Transition
	for _, p := range pools {
		next := p.StatusAt(today)
		if next == p.Status {
			continue
		}
		t := Transition{TenantID: p.TenantID, PoolID: p.ID, From: p.Status, To: next}
		if err := s.apply(ctx, p, t, now); err != nil {
			logger.Error(logger.WithField(ctx, "pool_id", p.ID), "pool lifecycle transition failed", err)
			continue
		}
		applied = append(applied, t)
	}
	return applied, nil
}

func (s *LifecycleService) apply(ctx context.Context, p Pool, t Transition, now time.Time) error {
	return s.Repo.WithTx(ctx, func(repo Repository) error {
		p.Status = t.To
		p.UpdatedAt = now
		p.Version++
		if err := repo.SavePool(ctx, p); err != nil {
			return err
		}
		actor := generic.SystemActor(p.TenantID)
		return repo.AppendAudit(ctx, generic.AuditEntry{
			ID:        newID(),
			TenantID:  p.TenantID,
			Timestamp: now,
			ActorID:   actor.ID,
			Action:    generic.AuditPoolStatusChanged,
			Subject:   "pool:" + string(p.ID),
			Payload:   map[string]any{"from": string(t.From), "to": string(t.To)},
		})
	})
}
