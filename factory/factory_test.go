package factory

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/contract"
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/inventory"
)

func fieldErrors(t *testing.T, err error) map[string]string {
	t.Helper()
	var ve *generic.ValidationError
	require.ErrorAs(t, err, &ve)
	return ve.Fields
}

func TestPoolJSON_HotelPresetRoundTrip(t *testing.T) {
	// GIVEN: The hotel allotment preset
	var pj PoolJSON
	require.NoError(t, Parse(HotelAllotmentJSON("seaside", "Seaside", "sup-1", "2025-06-01", "2025-09-30", 100), &pj))

	// WHEN: Converted to domain types
	pool, variants, err := pj.ToDomain()
	require.NoError(t, err)

	// THEN: Everything the wizard asked for is there
	assert.Equal(t, generic.PoolID("seaside"), pool.ID)
	assert.Equal(t, inventory.PoolCommitted, pool.Type)
	assert.Equal(t, "2025-06-01", pool.Validity.Start.String())
	assert.Equal(t, "2025-09-30", pool.Validity.End.String())
	require.NotNil(t, pool.TotalCapacity)
	assert.Equal(t, int64(100), *pool.TotalCapacity)
	assert.Equal(t, 3, *pool.CutoffDays)
	assert.Equal(t, "hotel", pool.Attributes.Category)

	require.Len(t, variants, 2)
	assert.Equal(t, generic.PoolID("seaside"), variants[1].PoolID)
	assert.True(t, variants[1].CapacityWeight.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, variants[0].AutoAllocate, "auto allocation defaults on")
	require.NotNil(t, variants[0].CostPerUnit)
	assert.Equal(t, "80", variants[0].CostPerUnit.String())

	// AND: The pool passes domain validation once a tenant is stamped
	pool.TenantID = "org-1"
	assert.NoError(t, pool.Validate())

	// AND: Rendering gives back the same payload
	back := PoolToJSON(pool, variants)
	assert.Equal(t, pj.Name, back.Name)
	assert.Equal(t, pj.ValidTo, back.ValidTo)
	assert.Len(t, back.Variants, 2)
}

func TestPoolJSON_EventPresetDisablesAutoAllocate(t *testing.T) {
	var pj PoolJSON
	require.NoError(t, Parse(EventBlockJSON("final", "Cup final", "sup-2", "2025-05-31", "2025-05-31", 500), &pj))

	_, variants, err := pj.ToDomain()
	require.NoError(t, err)
	assert.True(t, variants[0].AutoAllocate)
	assert.False(t, variants[1].AutoAllocate)
}

func TestPoolJSON_ValidationReportsEveryField(t *testing.T) {
	// GIVEN: A payload with several shape errors
	payload := `{
		"name": "",
		"supplier_id": "sup-1",
		"pool_type": "timeshare",
		"valid_from": "2025-06-01",
		"valid_to": "30/09/2025",
		"total_capacity": -1,
		"variants": [{"variant_id": "std", "capacity_weight": "0"}]
	}`

	// WHEN: Decoded
	var pj PoolJSON
	err := Parse(payload, &pj)

	// THEN: All of them come back keyed by JSON path
	fields := fieldErrors(t, err)
	assert.Equal(t, "is required", fields["name"])
	assert.Contains(t, fields["pool_type"], "must be one of")
	assert.Equal(t, "must be a date (YYYY-MM-DD)", fields["valid_to"])
	assert.Equal(t, "must be at least 0", fields["total_capacity"])
	assert.Equal(t, "must be greater than 0", fields["variants[0].capacity_weight"])
	assert.True(t, generic.IsClientError(err))
}

func TestDecode_RejectsUnknownFieldsAndBadJSON(t *testing.T) {
	var pj PoolJSON
	err := Decode(strings.NewReader(`{"name":"x","surprise":1}`), &pj)
	assert.ErrorIs(t, err, generic.ErrValidation)

	err = Decode(strings.NewReader(`{"name":`), &pj)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestRatePlanJSON(t *testing.T) {
	t.Run("daily preset", func(t *testing.T) {
		var rj RatePlanJSON
		require.NoError(t, Parse(DailyRatePlanJSON("seaside", "suite", "2025-07-01", "2025-07-31"), &rj))
		rp, err := rj.ToDomain()
		require.NoError(t, err)
		assert.Equal(t, inventory.ModeDaily, rp.Mode)
		assert.Equal(t, 31, rp.Validity.DayCount())
		assert.Equal(t, rj.ValidFrom, RatePlanToJSON(rp).ValidFrom)
	})

	t.Run("event preset carries its period", func(t *testing.T) {
		var rj RatePlanJSON
		require.NoError(t, Parse(EventRatePlanJSON("final", "general", "2025-05-30", "2025-06-01"), &rj))
		rp, err := rj.ToDomain()
		require.NoError(t, err)
		assert.Equal(t, inventory.ModeEvent, rp.Mode)
		require.Len(t, rp.EventPeriods, 1)
		assert.Equal(t, 3, rp.EventPeriods[0].DayCount())
	})

	t.Run("event mode without periods", func(t *testing.T) {
		var rj RatePlanJSON
		err := Parse(`{"variant_id":"v","valid_from":"2025-01-01","valid_to":"2025-01-31","mode":"event"}`, &rj)
		fields := fieldErrors(t, err)
		assert.Contains(t, fields, "event_periods")
	})

	t.Run("mode defaults to daily", func(t *testing.T) {
		rp, err := RatePlanJSON{VariantID: "v", ValidFrom: "2025-01-01", ValidTo: "2025-01-02"}.ToDomain()
		require.NoError(t, err)
		assert.Equal(t, inventory.ModeDaily, rp.Mode)
	})
}

func TestAllocationJSON_ToDomain(t *testing.T) {
	var aj AllocationJSON
	require.NoError(t, Parse(`{"variant_id":"suite","from":"2025-07-10","to":"2025-07-12","units":2,"hold":true}`, &aj))

	req, err := aj.ToDomain("seaside", "idem-1")
	require.NoError(t, err)
	assert.Equal(t, generic.PoolID("seaside"), req.PoolID)
	assert.Equal(t, "2025-07-12", req.To.String())
	assert.True(t, req.Hold)
	assert.Equal(t, "idem-1", req.IdempotencyKey)

	// A single date defaults to == from
	req, err = AllocationJSON{From: "2025-07-10", Units: 1}.ToDomain("seaside", "")
	require.NoError(t, err)
	assert.True(t, req.From.Equal(req.To))

	err = Parse(`{"from":"2025-07-10","units":0}`, &aj)
	assert.Contains(t, fieldErrors(t, err), "units")
}

func TestBucketPatchJSON(t *testing.T) {
	var bj BucketPatchJSON
	require.NoError(t, Parse(`{"allow_overbooking":true,"overbooking_limit":2,"notes":"vip"}`, &bj))

	patch := bj.ToDomain()
	assert.Nil(t, patch.Quantity)
	assert.Nil(t, patch.StopSell)
	require.NotNil(t, patch.AllowOverbooking)
	assert.True(t, *patch.AllowOverbooking)
	assert.Equal(t, int64(2), *patch.OverbookingLimit)

	err := Parse(`{"overbooking_limit":-3}`, &bj)
	assert.Equal(t, "must be at least 0", fieldErrors(t, err)["overbooking_limit"])
}

func TestContractVersionJSON(t *testing.T) {
	// GIVEN: The attrition preset
	var cj ContractVersionJSON
	require.NoError(t, Parse(AttritionVersionJSON("sup-1", "seaside", "2025-06-01", "2025-09-30", 100, "80", "pay_for_unused", "seasonal"), &cj))

	// WHEN: Converted
	v, err := cj.ToDomain()
	require.NoError(t, err)

	// THEN: Attrition terms are complete
	assert.True(t, v.AttritionApplies)
	assert.Equal(t, int64(100), *v.CommittedQuantity)
	assert.Equal(t, "80", v.MinimumPickupPercent.String())
	assert.Equal(t, contract.PenaltyPayForUnused, v.PenaltyCalculation)
	assert.Equal(t, int64(5), v.GraceAllowance)
	assert.NoError(t, v.AttritionConfig())
	assert.Equal(t, "contract_terms", v.Terms.Category)

	// AND: The rendered status follows the date
	out := ContractVersionToJSON(v, generic.MustDate("2025-07-01"))
	assert.Equal(t, string(contract.StatusCurrent), out.Status)
	out = ContractVersionToJSON(v, generic.MustDate("2025-01-01"))
	assert.Equal(t, string(contract.StatusFuture), out.Status)
}

func TestContractVersionJSON_ShapeErrors(t *testing.T) {
	var cj ContractVersionJSON
	err := Parse(`{
		"supplier_id": "sup-1",
		"valid_from": "2025-06-01",
		"valid_to": "2025-09-30",
		"minimum_pickup_percent": "120",
		"penalty_calculation": "ask_nicely",
		"currency": "EURO"
	}`, &cj)

	fields := fieldErrors(t, err)
	assert.Equal(t, "must be at most 100", fields["minimum_pickup_percent"])
	assert.Contains(t, fields["penalty_calculation"], "must be one of")
	assert.Equal(t, "must have length 3", fields["currency"])
}

func TestBulkJSON_ToDomain(t *testing.T) {
	t.Run("delete", func(t *testing.T) {
		var bj BulkJSON
		require.NoError(t, Parse(`{"action":"delete","items":[{"version_id":"a"},{"version_id":"b"}]}`, &bj))
		action, items, err := bj.ToDomain()
		require.NoError(t, err)
		assert.Equal(t, contract.BulkDelete, action)
		assert.Len(t, items, 2)
		assert.Nil(t, items[0].Update)
	})

	t.Run("update needs terms", func(t *testing.T) {
		var bj BulkJSON
		require.NoError(t, Parse(`{"action":"update","items":[{"version_id":"a"}]}`, &bj))
		_, _, err := bj.ToDomain()
		assert.ErrorIs(t, err, generic.ErrValidation)
	})

	t.Run("update carries the version id", func(t *testing.T) {
		var bj BulkJSON
		require.NoError(t, Parse(`{"action":"update","items":[{"version_id":"a","update":{"supplier_id":"s","valid_from":"2025-01-01","valid_to":"2025-02-01","notes":"renegotiated"}}]}`, &bj))
		_, items, err := bj.ToDomain()
		require.NoError(t, err)
		require.NotNil(t, items[0].Update)
		assert.Equal(t, "a", items[0].Update.ID)
		assert.Equal(t, "renegotiated", items[0].Update.Notes)
	})

	t.Run("empty and unknown actions", func(t *testing.T) {
		var bj BulkJSON
		fields := fieldErrors(t, Parse(`{"action":"archive","items":[]}`, &bj))
		assert.Contains(t, fields, "action")
		assert.Contains(t, fields, "items")
	})
}
