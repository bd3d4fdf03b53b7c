package httppresentation

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	appCart "github.com/cleanandflip/marketplace/internal/application/cart"
	appInventory "github.com/cleanandflip/marketplace/internal/application/inventory"
	appOrder "github.com/cleanandflip/marketplace/internal/application/order"
	domainCart "github.com/cleanandflip/marketplace/internal/domain/cart"
	"github.com/cleanandflip/marketplace/internal/domain/commerce"
	domainOrder "github.com/cleanandflip/marketplace/internal/domain/order"
	"github.com/cleanandflip/marketplace/internal/observability"
	"github.com/gorilla/mux"
)

const (
	componentHTTPHandler = "http_server"
	headerUserID         = "X-User-ID"
	headerSessionID      = "X-Session-ID"
	retryAfterSeconds    = "1"
)

// HealthCheck reports whether the storage backend is reachable.
type HealthCheck func(r *http.Request) error

type Handler struct {
	cart      *appCart.Service
	checkout  *appOrder.CheckoutUseCase
	inventory *appInventory.ReserveStockUseCase
	health    HealthCheck
	log       observability.Logger
	tel       observability.Observability
}

func NewHandler(
	cartSvc *appCart.Service,
	checkout *appOrder.CheckoutUseCase,
	inventory *appInventory.ReserveStockUseCase,
	health HealthCheck,
	tel observability.Observability,
) *Handler {
	tel = observability.OrNop(tel)
	return &Handler{
		cart:      cartSvc,
		checkout:  checkout,
		inventory: inventory,
		health:    health,
		log:       tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:       tel,
	}
}

// Router wires each route with middlewares:
// Trace → ObservabilityMiddleware (request logger + metrics) → Access log → Handler
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(withTrace, ObservabilityMiddleware(h.log, h.tel), h.withAccessLog)
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/cart", h.handleViewCart).Methods(http.MethodGet)
	r.HandleFunc("/cart/items", h.handleAddItem).Methods(http.MethodPost)
	r.HandleFunc("/cart/items/{productID}", h.handleSetQuantity).Methods(http.MethodPut)
	r.HandleFunc("/cart/items/{productID}", h.handleRemoveItem).Methods(http.MethodDelete)
	r.HandleFunc("/cart/validate", h.handleValidateCart).Methods(http.MethodPost)
	r.HandleFunc("/cart/merge", h.handleMergeCart).Methods(http.MethodPost)

	r.HandleFunc("/checkout", h.handleCheckout).Methods(http.MethodPost)
	r.HandleFunc("/products/{productID}/availability", h.handleAvailability).Methods(http.MethodGet)
}

// --- request / response shapes ---

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Mode      string `json:"mode,omitempty"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type itemResponse struct {
	ID             string    `json:"id"`
	ProductID      string    `json:"product_id"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type cartResponse struct {
	UserID        string         `json:"user_id,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	Items         []itemResponse `json:"items"`
	SubtotalCents int64          `json:"subtotal_cents"`
}

type correctionResponse struct {
	ItemID           string `json:"item_id"`
	ProductID        string `json:"product_id"`
	Action           string `json:"action"`
	Reason           string `json:"reason"`
	PreviousQuantity int    `json:"previous_quantity"`
	Quantity         int    `json:"quantity"`
}

type validateResponse struct {
	Corrections []correctionResponse `json:"corrections"`
}

type mergeResponse struct {
	Moved int `json:"moved"`
}

type checkoutLine struct {
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
}

type checkoutRequest struct {
	Items []checkoutLine `json:"items,omitempty"`
}

type orderResponse struct {
	OrderID       string             `json:"order_id"`
	Status        domainOrder.Status `json:"status"`
	SubtotalCents int64              `json:"subtotal_cents"`
	TaxCents      int64              `json:"tax_cents"`
	ShippingCents int64              `json:"shipping_cents"`
	TotalCents    int64              `json:"total_cents"`
	Items         []checkoutLine     `json:"items"`
	Attempts      int                `json:"attempts"`
}

type availabilityResponse struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Available *int   `json:"available,omitempty"`
}

// --- handlers ---

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handleViewCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.cart.View(r.Context(), ownerFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := cartResponse{
		UserID:        view.Owner.UserID,
		SessionID:     view.Owner.SessionID,
		Items:         make([]itemResponse, 0, len(view.Items)),
		SubtotalCents: view.SubtotalCents,
	}
	for _, it := range view.Items {
		resp.Items = append(resp.Items, toItemResponse(it))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	mode, err := domainCart.ParseMode(req.Mode)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	item, err := h.cart.AddItem(r.Context(), appCart.AddItemInput{
		Owner:     ownerFromRequest(r),
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Mode:      mode,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(*item))
}

func (h *Handler) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	var req setQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := h.cart.SetQuantity(r.Context(), ownerFromRequest(r), mux.Vars(r)["productID"], req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(*item))
}

func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	if err := h.cart.RemoveItem(r.Context(), ownerFromRequest(r), mux.Vars(r)["productID"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleValidateCart(w http.ResponseWriter, r *http.Request) {
	corrections, err := h.cart.Validate(r.Context(), ownerFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := validateResponse{Corrections: make([]correctionResponse, 0, len(corrections))}
	for _, c := range corrections {
		resp.Corrections = append(resp.Corrections, correctionResponse{
			ItemID:           c.ItemID,
			ProductID:        c.ProductID,
			Action:           string(c.Action),
			Reason:           c.Reason,
			PreviousQuantity: c.PreviousQuantity,
			Quantity:         c.Quantity,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMergeCart is called right after login, when the client still carries its guest session.
func (h *Handler) handleMergeCart(w http.ResponseWriter, r *http.Request) {
	moved, err := h.cart.Merge(r.Context(), r.Header.Get(headerSessionID), r.Header.Get(headerUserID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mergeResponse{Moved: moved})
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	lines := make([]domainOrder.LineItem, 0, len(req.Items))
	for _, l := range req.Items {
		lines = append(lines, domainOrder.LineItem{ProductID: l.ProductID, Quantity: l.Quantity, PriceCents: l.PriceCents})
	}

	result, err := h.checkout.Execute(r.Context(), appOrder.CheckoutInput{
		UserID: r.Header.Get(headerUserID),
		Lines:  lines,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	o := result.Order
	resp := orderResponse{
		OrderID:       o.ID,
		Status:        o.Status,
		SubtotalCents: o.SubtotalCents,
		TaxCents:      o.TaxCents,
		ShippingCents: o.ShippingCents,
		TotalCents:    o.TotalCents,
		Items:         make([]checkoutLine, 0, len(o.Items)),
		Attempts:      result.Attempts,
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, checkoutLine{ProductID: it.ProductID, Quantity: it.Quantity, PriceCents: it.PriceCents})
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["productID"]
	available, err := h.inventory.Availability(r.Context(), productID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{ProductID: productID, Available: available})
}

// ownerFromRequest prefers the logged-in user over the guest session.
func ownerFromRequest(r *http.Request) domainCart.Owner {
	if uid := r.Header.Get(headerUserID); uid != "" {
		return domainCart.UserOwner(uid)
	}
	return domainCart.SessionOwner(r.Header.Get(headerSessionID))
}

func toItemResponse(it domainCart.Item) itemResponse {
	return itemResponse{
		ID:             it.ID,
		ProductID:      it.ProductID,
		Quantity:       it.Quantity,
		UnitPriceCents: it.UnitPriceCents,
		UpdatedAt:      it.UpdatedAt,
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: commerce.Code(err)})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, commerce.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, commerce.ErrInsufficientStock):
		resp := errorResponse{Error: err.Error(), Code: commerce.Code(err)}
		if available, ok := commerce.AvailableStock(err); ok {
			resp.Available = &available
		}
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, commerce.ErrInvalidOperation):
		writeError(w, http.StatusBadRequest, err)
	case commerce.IsRetryable(err):
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
