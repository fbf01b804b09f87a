package contract

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/logger"
)

// =============================================================================
// BULK OPERATIONS - All-or-nothing, reported per item
// =============================================================================

type BulkAction string

const (
	BulkDelete    BulkAction = "delete"
	BulkDuplicate BulkAction = "duplicate"
	BulkUpdate    BulkAction = "update"
)

func (a BulkAction) Valid() bool {
	switch a {
	case BulkDelete, BulkDuplicate, BulkUpdate:
		return true
	}
	return false
}

// BulkItem names one version. Update carries the replacement terms for
// BulkUpdate and is ignored otherwise.
type BulkItem struct {
	VersionID string
	Update    *Version
}

type OutcomeStatus string

const (
	OutcomeApplied OutcomeStatus = "applied"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped" // valid, but another item failed
)

type ItemOutcome struct {
	VersionID string
	Status    OutcomeStatus
	ResultID  string // the new version for duplicates
	Err       error
}

type BulkResult struct {
	Action  BulkAction
	Applied bool
	Items   []ItemOutcome
}

// Failed counts items that did not pass.
func (r BulkResult) Failed() int {
	n := 0
	for _, it := range r.Items {
		if it.Status == OutcomeFailed {
			n++
		}
	}
	return n
}

// Bulk validates every item first and then applies them in one store
// transaction. If any item fails nothing is written; the result still
// lists each item's outcome. The error return is for malformed requests
// and store failures only.
func (s *VersionService) Bulk(ctx context.Context, actor generic.Actor, action BulkAction, items []BulkItem) (*BulkResult, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("%w: unknown bulk action %q", generic.ErrValidation, action)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items", generic.ErrValidation)
	}

	res := &BulkResult{Action: action, Items: make([]ItemOutcome, len(items))}
	seen := map[string]bool{}
	for i, it := range items {
		res.Items[i] = ItemOutcome{VersionID: it.VersionID, Status: OutcomeSkipped}
		if seen[it.VersionID] {
			res.Items[i].Status, res.Items[i].Err = OutcomeFailed, fmt.Errorf("%w: version listed twice", generic.ErrValidation)
			continue
		}
		seen[it.VersionID] = true
		if err := s.precheck(ctx, actor, action, it); err != nil {
			res.Items[i].Status, res.Items[i].Err = OutcomeFailed, err
		}
	}
	if res.Failed() > 0 {
		return res, nil
	}

	failed := -1
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		for i, it := range items {
			id, err := s.applyItem(ctx, repo, actor, action, it)
			if err != nil {
				failed = i
				return err
			}
			res.Items[i].ResultID = id
		}
		return repo.AppendAudit(ctx, generic.AuditEntry{
			ID:        newID(),
			TenantID:  actor.TenantID,
			Timestamp: s.now(),
			ActorID:   actor.ID,
			Action:    generic.AuditBulkOperation,
			Subject:   "contract_versions",
			Payload:   map[string]any{"action": string(action), "items": len(items)},
		})
	})
	if err != nil {
		if failed < 0 {
			return nil, err
		}
		res.Items[failed].Status, res.Items[failed].Err = OutcomeFailed, err
		for i := range res.Items {
			res.Items[i].ResultID = ""
		}
		logger.Warn(logger.WithField(ctx, "action", string(action)), "bulk operation rolled back")
		return res, nil
	}

	for i := range res.Items {
		res.Items[i].Status = OutcomeApplied
	}
	res.Applied = true
	return res, nil
}

func (s *VersionService) precheck(ctx context.Context, actor generic.Actor, action BulkAction, it BulkItem) error {
	current, err := s.Repo.LoadContractVersion(ctx, actor.TenantID, it.VersionID)
	if err != nil {
		return err
	}
	switch action {
	case BulkUpdate:
		if it.Update == nil {
			return fmt.Errorf("%w: update payload is required", generic.ErrValidation)
		}
		v := *it.Update
		v.ID, v.TenantID = current.ID, actor.TenantID
		v.ContractID, v.Number = current.ContractID, current.Number
		return v.Validate()
	case BulkDuplicate:
		v := *current
		v.Validity = current.Validity.FollowingPeriod()
		return v.Validate()
	}
	return nil
}

func (s *VersionService) applyItem(ctx context.Context, repo Repository, actor generic.Actor, action BulkAction, it BulkItem) (string, error) {
	switch action {
	case BulkDelete:
		return "", s.delete(ctx, repo, actor, it.VersionID)
	case BulkDuplicate:
		v, err := s.duplicate(ctx, repo, actor, it.VersionID)
		if err != nil {
			return "", err
		}
		return v.ID, nil
	case BulkUpdate:
		v := *it.Update
		v.ID, v.TenantID = it.VersionID, actor.TenantID
		_, err := s.update(ctx, repo, actor, v)
		return "", err
	}
	return "", errors.New("unreachable")
}
