// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/flashcoupon/coupon-engine/internal/model"
	"github.com/flashcoupon/coupon-engine/internal/repository"
	"github.com/flashcoupon/coupon-engine/internal/service"
)

// CouponHandler holds all HTTP handlers for the coupon engine API.
type CouponHandler struct {
	admin      *service.AdminService
	issuer     *service.IssuanceService
	redeemer   *service.RedemptionService
	reconciler *service.Reconciler
}

// NewCouponHandler constructs a CouponHandler.
func NewCouponHandler(
	admin *service.AdminService,
	issuer *service.IssuanceService,
	redeemer *service.RedemptionService,
	reconciler *service.Reconciler,
) *CouponHandler {
	return &CouponHandler{admin: admin, issuer: issuer, redeemer: redeemer, reconciler: reconciler}
}

// Routes mounts every API route on a fresh sub-router.
func (h *CouponHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/admin/coupons", func(r chi.Router) {
		r.Get("/", h.ListCoupons)
		r.Post("/", h.CreateCoupon)
		r.Post("/sync", h.Sync)
		r.Get("/{id}", h.GetCoupon)
		r.Patch("/{id}", h.UpdateCoupon)
		r.Post("/{id}/issue", h.Issue)
	})
	r.Route("/user/coupons", func(r chi.Router) {
		r.Get("/my-coupons", h.MyCoupons)
		r.Post("/{issuedCouponId}/use", h.Use)
	})
	return r
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps domain errors onto HTTP status codes. Admission
// outcomes never pass through here; they are data, not errors.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotEditable):
		writeError(w, http.StatusConflict, "coupon is active or ended and can no longer be edited")
	case errors.Is(err, service.ErrUnsupportedType):
		writeError(w, http.StatusUnprocessableEntity, "only FCFS coupons can be issued")
	case errors.Is(err, repository.ErrAlreadyUsed):
		writeError(w, http.StatusConflict, "coupon has already been used")
	case errors.Is(err, repository.ErrCouponExpired):
		writeError(w, http.StatusConflict, "coupon has expired")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ─── Admin handlers ───────────────────────────────────────────────────────────

// ListCoupons handles GET /api/admin/coupons
// Returns every coupon definition with derived stats.
func (h *CouponHandler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.admin.ListCoupons(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// Return an empty array rather than null for better client compatibility.
	if coupons == nil {
		coupons = []model.Coupon{}
	}
	writeJSON(w, http.StatusOK, coupons)
}

// CreateCoupon handles POST /api/admin/coupons
func (h *CouponHandler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req model.CreateCouponRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	coupon, err := h.admin.CreateCoupon(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, coupon)
}

// GetCoupon handles GET /api/admin/coupons/{id}
func (h *CouponHandler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	coupon, err := h.admin.GetCoupon(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coupon)
}

// UpdateCoupon handles PATCH /api/admin/coupons/{id}
// Administrative edits are only accepted before the issuance window opens.
func (h *CouponHandler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateCouponRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	coupon, err := h.admin.UpdateCoupon(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coupon)
}

// Issue handles POST /api/admin/coupons/{id}/issue
// The admission outcome is always a 200: the request succeeded even when the
// coupon was not granted. The status field carries the decision.
func (h *CouponHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req model.IssueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.issuer.Issue(r.Context(), chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Sync handles POST /api/admin/coupons/sync
// Forces a full rebuild of admission state from the durable ledger.
func (h *CouponHandler) Sync(w http.ResponseWriter, r *http.Request) {
	summary, err := h.reconciler.Resync(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": summary.Message()})
}

// ─── User handlers ────────────────────────────────────────────────────────────

// MyCoupons handles GET /api/user/coupons/my-coupons?userId=&status=&page=&limit=
func (h *CouponHandler) MyCoupons(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var status *model.IssuedStatus
	if s := q.Get("status"); s != "" {
		st := model.IssuedStatus(s)
		switch st {
		case model.StatusIssued, model.StatusUsed, model.StatusExpired:
			status = &st
		default:
			writeError(w, http.StatusBadRequest, "status must be one of ISSUED, USED, EXPIRED")
			return
		}
	}
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	resp, err := h.redeemer.MyCoupons(r.Context(), q.Get("userId"), status, page, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Use handles POST /api/user/coupons/{issuedCouponId}/use
func (h *CouponHandler) Use(w http.ResponseWriter, r *http.Request) {
	var req model.UseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.redeemer.Use(r.Context(), chi.URLParam(r, "issuedCouponId"), req.UserID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "coupon used"})
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
