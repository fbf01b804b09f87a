package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/contract"
	"github.com/warp/allocation-engine/factory"
	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// CONTRACT VERSIONS
// =============================================================================

func (h *Handler) ListContractVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.Versions.List(r.Context(), ActorFrom(r.Context()).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	today := h.today()
	dtos := make([]factory.ContractVersionJSON, 0, len(versions))
	for _, v := range versions {
		dtos = append(dtos, factory.ContractVersionToJSON(v, today))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateContractVersion adds a version under the contract in the path.
func (h *Handler) CreateContractVersion(w http.ResponseWriter, r *http.Request) {
	var req factory.ContractVersionJSON
	if err := factory.Decode(r.Body, &req); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	v, err := req.ToDomain()
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	v.ContractID = chi.URLParam(r, "id")
	created, err := h.Versions.Create(r.Context(), ActorFrom(r.Context()), v)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, factory.ContractVersionToJSON(*created, h.today()))
}

func (h *Handler) GetContractVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.Versions.Get(r.Context(), ActorFrom(r.Context()).TenantID, chi.URLParam(r, "versionID"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, factory.ContractVersionToJSON(*v, h.today()))
}

func (h *Handler) UpdateContractVersion(w http.ResponseWriter, r *http.Request) {
	var req factory.ContractVersionJSON
	if err := factory.Decode(r.Body, &req); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	v, err := req.ToDomain()
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	v.ID = chi.URLParam(r, "versionID")
	updated, err := h.Versions.Update(r.Context(), ActorFrom(r.Context()), v)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, factory.ContractVersionToJSON(*updated, h.today()))
}

func (h *Handler) DeleteContractVersion(w http.ResponseWriter, r *http.Request) {
	if err := h.Versions.Delete(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "versionID")); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DuplicateContractVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.Versions.Duplicate(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "versionID"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, factory.ContractVersionToJSON(*v, h.today()))
}

// BulkContractVersions applies one action to many versions. Nothing is
// written unless every item passes; the per-item outcome comes back with
// 200 when applied and 409 when not.
func (h *Handler) BulkContractVersions(w http.ResponseWriter, r *http.Request) {
	var req factory.BulkJSON
	if err := factory.Decode(r.Body, &req); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	action, items, err := req.ToDomain()
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	res, err := h.Versions.Bulk(r.Context(), ActorFrom(r.Context()), action, items)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	status := http.StatusOK
	if !res.Applied {
		status = http.StatusConflict
	}
	writeJSON(w, status, toBulkResultDTO(res))
}

// =============================================================================
// ATTRITION
// =============================================================================

// EvaluateAttrition evaluates the attrition window containing ?as_of=,
// or the whole validity without it. ?actual_pickup= overrides the pickup
// read from the pool.
func (h *Handler) EvaluateAttrition(w http.ResponseWriter, r *http.Request) {
	req := contract.Request{VersionID: chi.URLParam(r, "versionID")}
	q := r.URL.Query()
	if s := q.Get("actual_pickup"); s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil || d.IsNegative() {
			ve := generic.NewValidationError()
			ve.Add("actual_pickup", "must be a non-negative number")
			writeDomainError(r.Context(), w, ve)
			return
		}
		req.ActualPickup = &d
	}
	if s := q.Get("as_of"); s != "" {
		d, err := parseDateParam("as_of", s)
		if err != nil {
			writeDomainError(r.Context(), w, err)
			return
		}
		req.AsOf = &d
	}

	report, err := h.Attrition.Evaluate(r.Context(), ActorFrom(r.Context()).TenantID, req)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttritionReportDTO(*report))
}

// AttritionWindows evaluates every window of the version's validity.
func (h *Handler) AttritionWindows(w http.ResponseWriter, r *http.Request) {
	reports, err := h.Attrition.EvaluateWindows(r.Context(), ActorFrom(r.Context()).TenantID, chi.URLParam(r, "versionID"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	dtos := make([]AttritionReportDTO, 0, len(reports))
	for _, rep := range reports {
		dtos = append(dtos, toAttritionReportDTO(rep))
	}
	writeJSON(w, http.StatusOK, dtos)
}
