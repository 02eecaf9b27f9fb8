package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/innkeep/backend/internal/services"
)

// QRHandler exposes the guest-ordering QR payment request flow.
type QRHandler struct {
	qr        *services.QROrderService
	validator *services.ValidationHelper
}

func NewQRHandler(qr *services.QROrderService) *QRHandler {
	return &QRHandler{
		qr:        qr,
		validator: services.NewValidationHelper(),
	}
}

type generateQRRequest struct {
	TenantID   string `json:"tenant_id" validate:"required,max=64"`
	LocationID string `json:"location_id" validate:"required,max=64"`
	Amount     int64  `json:"amount" validate:"required,gt=0,lte=100000000"`
}

type resolveQRRequest struct {
	Code string `json:"code" validate:"required"`
}

// GenerateQR issues a QR payment request
// @Summary Generate a QR payment request
// @Description Price an order through the platform fee calculator and issue a short-lived QR code
// @Tags qr
// @Accept json
// @Produce json
// @Param request body generateQRRequest true "Order details"
// @Success 200 {object} object{code=string,image=string,order=services.QROrder}
// @Failure 400 {object} services.ErrorResponse
// @Router /qr/generate [post]
func (h *QRHandler) GenerateQR(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req generateQRRequest
	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", services.CodeValidation, http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", services.CodeValidation, http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", services.CodeValidation, http.StatusBadRequest, err)
		return
	}

	code, image, order, err := h.qr.GenerateOrderQR(r.Context(), req.TenantID, req.LocationID, req.Amount)
	if err != nil {
		log.Printf("[QR] Failed to generate QR payment request: %v", err)
		services.SendErrorResponse(w, "Failed to generate QR code", "", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code":  code,
		"image": image,
		"order": order,
	})
}

// ResolveQR resolves a scanned QR payment request
// @Summary Resolve a QR payment request
// @Description Look up the order behind a scanned QR code
// @Tags qr
// @Accept json
// @Produce json
// @Param request body resolveQRRequest true "Scanned code"
// @Success 200 {object} services.QROrder
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /qr/resolve [post]
func (h *QRHandler) ResolveQR(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req resolveQRRequest
	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", services.CodeValidation, http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", services.CodeValidation, http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", services.CodeValidation, http.StatusBadRequest, err)
		return
	}

	order, err := h.qr.ResolveOrderQR(r.Context(), req.Code)
	if err != nil {
		services.SendErrorResponse(w, "Invalid or expired QR code", "", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}
