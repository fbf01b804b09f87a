package factory

import (
	"encoding/json"
)

// =============================================================================
// PRESETS - Ready-made wizard payloads
// =============================================================================
//
// Used by the demo scenarios and tests. They return JSON strings so they go
// through the same decode and validation path as operator input:
//
//	var pj factory.PoolJSON
//	err := factory.Parse(factory.HotelAllotmentJSON("seaside", "Seaside", "sup-1", "2025-06-01", "2025-09-30", 100), &pj)

// HotelAllotmentJSON returns a committed room allotment with a standard
// room (weight 1) and a suite (weight 1.5, allocated after standard).
func HotelAllotmentJSON(id, name, supplierID, from, to string, rooms int64) string {
	pj := map[string]any{
		"id":             id,
		"name":           name,
		"supplier_id":    supplierID,
		"pool_type":      "committed",
		"valid_from":     from,
		"valid_to":       to,
		"total_capacity": rooms,
		"capacity_unit":  "rooms",
		"cutoff_days":    3,
		"currency":       "EUR",
		"attributes": map[string]any{
			"category": "hotel",
			"values": map[string]any{
				"property_name": name,
				"stars":         4,
				"board_basis":   "bed_breakfast",
			},
		},
		"variants": []map[string]any{
			{"variant_id": "std-double", "capacity_weight": "1.0", "priority": 10, "cost_per_unit": "80", "sell_price_per_unit": "120"},
			{"variant_id": "suite", "capacity_weight": "1.5", "priority": 20, "cost_per_unit": "140", "sell_price_per_unit": "220"},
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// EventBlockJSON returns a provisional seat block for a single event.
// Hospitality seats take two general seats of capacity.
func EventBlockJSON(id, name, supplierID, from, to string, seats int64) string {
	pj := map[string]any{
		"id":             id,
		"name":           name,
		"supplier_id":    supplierID,
		"pool_type":      "provisional",
		"valid_from":     from,
		"valid_to":       to,
		"total_capacity": seats,
		"capacity_unit":  "seats",
		"currency":       "EUR",
		"attributes": map[string]any{
			"category": "event",
			"values": map[string]any{
				"event_name": name,
				"seating":    "reserved",
			},
		},
		"variants": []map[string]any{
			{"variant_id": "general", "capacity_weight": "1", "priority": 10, "cost_per_unit": "45"},
			{"variant_id": "hospitality", "capacity_weight": "2", "priority": 20, "cost_per_unit": "150", "auto_allocate": false},
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// DailyRatePlanJSON returns a daily rate plan for one variant of a pool.
func DailyRatePlanJSON(poolID, variantID, from, to string) string {
	rj := map[string]any{
		"pool_id":    poolID,
		"variant_id": variantID,
		"name":       variantID + " daily",
		"valid_from": from,
		"valid_to":   to,
		"mode":       "daily",
	}
	b, _ := json.MarshalIndent(rj, "", "  ")
	return string(b)
}

// EventRatePlanJSON returns an event-mode rate plan with one event period
// spanning the whole validity.
func EventRatePlanJSON(poolID, variantID, from, to string) string {
	rj := map[string]any{
		"pool_id":    poolID,
		"variant_id": variantID,
		"name":       variantID + " event",
		"valid_from": from,
		"valid_to":   to,
		"mode":       "event",
		"event_periods": []map[string]any{
			{"start": from, "end": to},
		},
	}
	b, _ := json.MarshalIndent(rj, "", "  ")
	return string(b)
}

// AttritionVersionJSON returns a contract version committing to a pickup
// on the given pool.
func AttritionVersionJSON(supplierID, poolID, from, to string, committed int64, minimumPercent, strategy, periodType string) string {
	cj := map[string]any{
		"supplier_id":            supplierID,
		"pool_id":                poolID,
		"name":                   "Allotment terms",
		"valid_from":             from,
		"valid_to":               to,
		"attrition_applies":      true,
		"committed_quantity":     committed,
		"minimum_pickup_percent": minimumPercent,
		"penalty_calculation":    strategy,
		"grace_allowance":        5,
		"attrition_period_type":  periodType,
		"fixed_fee":              "1000",
		"currency":               "EUR",
		"terms": map[string]any{
			"category": "contract_terms",
			"values": map[string]any{
				"payment_terms_days":  30,
				"cancellation_policy": "moderate",
				"release_days":        14,
			},
		},
	}
	b, _ := json.MarshalIndent(cj, "", "  ")
	return string(b)
}
