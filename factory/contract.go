package factory

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/contract"
	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// CONTRACT VERSION
// =============================================================================

// ContractVersionJSON is one dated set of contract terms. The attrition
// block is optional here; when attrition_applies is set the domain
// reports which of its fields are missing.
type ContractVersionJSON struct {
	ID         string `json:"id,omitempty"`
	ContractID string `json:"contract_id,omitempty"`
	SupplierID string `json:"supplier_id" validate:"required"`
	PoolID     string `json:"pool_id,omitempty"`
	Number     int    `json:"number,omitempty"`
	Name       string `json:"name,omitempty" validate:"max=200"`
	ValidFrom  string `json:"valid_from" validate:"required,datetime=2006-01-02"`
	ValidTo    string `json:"valid_to" validate:"required,datetime=2006-01-02"`

	AttritionApplies     bool             `json:"attrition_applies"`
	CommittedQuantity    *int64           `json:"committed_quantity,omitempty" validate:"omitempty,min=1"`
	MinimumPickupPercent *decimal.Decimal `json:"minimum_pickup_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	PenaltyCalculation   string           `json:"penalty_calculation,omitempty" validate:"omitempty,oneof=pay_for_unused sliding_scale fixed_fee"`
	GraceAllowance       int64            `json:"grace_allowance,omitempty" validate:"min=0"`
	AttritionPeriodType  string           `json:"attrition_period_type,omitempty" validate:"omitempty,oneof=monthly seasonal event"`
	CostPerUnit          *decimal.Decimal `json:"cost_per_unit,omitempty" validate:"omitempty,gte=0"`
	FixedFee             *decimal.Decimal `json:"fixed_fee,omitempty" validate:"omitempty,gte=0"`
	Currency             string           `json:"currency,omitempty" validate:"omitempty,len=3"`

	Terms *generic.Attributes `json:"terms,omitempty"`
	Notes string              `json:"notes,omitempty" validate:"max=2000"`

	// Response only.
	Status string `json:"status,omitempty"`
}

func (cj ContractVersionJSON) ToDomain() (contract.Version, error) {
	validity, err := parsePeriod(cj.ValidFrom, cj.ValidTo)
	if err != nil {
		return contract.Version{}, err
	}
	v := contract.Version{
		ID:                   cj.ID,
		ContractID:           cj.ContractID,
		SupplierID:           generic.SupplierID(cj.SupplierID),
		PoolID:               generic.PoolID(cj.PoolID),
		Number:               cj.Number,
		Name:                 cj.Name,
		Validity:             validity,
		AttritionApplies:     cj.AttritionApplies,
		CommittedQuantity:    cj.CommittedQuantity,
		MinimumPickupPercent: cj.MinimumPickupPercent,
		PenaltyCalculation:   contract.PenaltyCalculation(cj.PenaltyCalculation),
		GraceAllowance:       cj.GraceAllowance,
		AttritionPeriodType:  contract.AttritionPeriodType(cj.AttritionPeriodType),
		CostPerUnit:          cj.CostPerUnit,
		FixedFee:             cj.FixedFee,
		Currency:             cj.Currency,
		Notes:                cj.Notes,
	}
	if cj.Terms != nil {
		v.Terms = *cj.Terms
	}
	return v, nil
}

// ContractVersionToJSON renders a version with its status at now.
func ContractVersionToJSON(v contract.Version, now generic.TimePoint) ContractVersionJSON {
	cj := ContractVersionJSON{
		ID:                   v.ID,
		ContractID:           v.ContractID,
		SupplierID:           string(v.SupplierID),
		PoolID:               string(v.PoolID),
		Number:               v.Number,
		Name:                 v.Name,
		ValidFrom:            v.Validity.Start.String(),
		ValidTo:              v.Validity.End.String(),
		AttritionApplies:     v.AttritionApplies,
		CommittedQuantity:    v.CommittedQuantity,
		MinimumPickupPercent: v.MinimumPickupPercent,
		PenaltyCalculation:   string(v.PenaltyCalculation),
		GraceAllowance:       v.GraceAllowance,
		AttritionPeriodType:  string(v.AttritionPeriodType),
		CostPerUnit:          v.CostPerUnit,
		FixedFee:             v.FixedFee,
		Currency:             v.Currency,
		Notes:                v.Notes,
		Status:               string(v.StatusAt(now)),
	}
	if !v.Terms.IsEmpty() {
		terms := v.Terms
		cj.Terms = &terms
	}
	return cj
}

// =============================================================================
// BULK
// =============================================================================

// BulkJSON is a bulk operation over contract versions. Update items carry
// the replacement terms.
type BulkJSON struct {
	Action string         `json:"action" validate:"required,oneof=delete duplicate update"`
	Items  []BulkItemJSON `json:"items" validate:"required,min=1,max=200,dive"`
}

type BulkItemJSON struct {
	VersionID string               `json:"version_id" validate:"required"`
	Update    *ContractVersionJSON `json:"update,omitempty"`
}

func (bj BulkJSON) ToDomain() (contract.BulkAction, []contract.BulkItem, error) {
	action := contract.BulkAction(bj.Action)
	items := make([]contract.BulkItem, 0, len(bj.Items))
	for i, it := range bj.Items {
		item := contract.BulkItem{VersionID: it.VersionID}
		if action == contract.BulkUpdate {
			if it.Update == nil {
				return "", nil, fmt.Errorf("%w: items[%d].update is required for update", generic.ErrValidation, i)
			}
			v, err := it.Update.ToDomain()
			if err != nil {
				return "", nil, fmt.Errorf("items[%d]: %w", i, err)
			}
			v.ID = it.VersionID
			item.Update = &v
		}
		items = append(items, item)
	}
	return action, items, nil
}
