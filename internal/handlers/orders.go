package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/DawnBreaker207/Graduate-Project/internal/domain"
	"github.com/DawnBreaker207/Graduate-Project/internal/platform/auth"
	"github.com/DawnBreaker207/Graduate-Project/internal/platform/httpx"
	"github.com/DawnBreaker207/Graduate-Project/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
)

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	returns services.ReturnService
	quotes  services.ShippingQuoteService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, returns services.ReturnService, quotes services.ShippingQuoteService) *OrderHandlers {
	return &OrderHandlers{
		authn:   authn,
		orders:  orders,
		returns: returns,
		quotes:  quotes,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Put("/increment", h.incrementItem)
	r.Put("/decrement", h.decrementItem)
	r.Delete("/remove", h.removeItem)
	r.Post("/calculateFee", h.calculateFee)
	r.Post("/return", h.fileReturn)
	r.Get("/return", h.listReturns)
	r.Post("/return/{returnID}/confirm", h.confirmReturn)
	r.Get("/{orderID}", h.getOrder)
	r.Put("/{orderID}/status", h.updateStatus)
	r.Post("/{orderID}/confirm-delivered", h.confirmDelivered)
}

type createOrderItemRequest struct {
	SKUID               string `json:"sku_id"`
	Quantity            int    `json:"quantity"`
	Price               int64  `json:"price"`
	PriceBeforeDiscount int64  `json:"price_before_discount"`
	DiscountPercent     int    `json:"price_discount_percent"`
}

type createOrderRequest struct {
	UserID            string                   `json:"user_id"`
	CustomerName      string                   `json:"customer_name"`
	PhoneNumber       string                   `json:"phone_number"`
	Content           string                   `json:"content"`
	Address           string                   `json:"address"`
	ShippingAddress   string                   `json:"shipping_address"`
	PaymentMethod     string                   `json:"payment_method"`
	ShippingMethod    string                   `json:"shipping_method"`
	TotalAmount       int64                    `json:"total_amount"`
	TransportationFee *int64                   `json:"transportation_fee"`
	CartID            string                   `json:"cart_id"`
	Products          []createOrderItemRequest `json:"products"`
}

// requireOrderService rejects the request when the order service is absent.
// Every /orders endpoint needs it, so the guard is shared rather than left to
// individual handlers.
func (h *OrderHandlers) requireOrderService(w http.ResponseWriter, r *http.Request) bool {
	if h.orders != nil {
		return true
	}
	httpx.WriteError(r.Context(), w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	return false
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireOrderService(w, r) {
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	userID := req.UserID
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UID != "" {
		userID = identity.UID
	}

	items := make([]services.CreateOrderLine, 0, len(req.Products))
	for _, product := range req.Products {
		items = append(items, services.CreateOrderLine{
			SKUID:               product.SKUID,
			Quantity:            product.Quantity,
			UnitPrice:           product.Price,
			PriceBeforeDiscount: product.PriceBeforeDiscount,
			DiscountPercent:     product.DiscountPercent,
		})
	}

	view, err := h.orders.Create(ctx, services.CreateOrderCommand{
		UserID:            userID,
		CustomerName:      req.CustomerName,
		PhoneNumber:       req.PhoneNumber,
		Content:           req.Content,
		Address:           req.Address,
		ShippingAddress:   req.ShippingAddress,
		PaymentMethod:     domain.PaymentMethodTag(req.PaymentMethod),
		ShippingMethod:    domain.ShippingMethod(req.ShippingMethod),
		TotalAmount:       req.TotalAmount,
		TransportationFee: req.TransportationFee,
		CartID:            req.CartID,
		ClientIP:          clientIP(r),
		IdempotencyKey:    r.Header.Get("Idempotency-Key"),
		Items:             items,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusCreated, "Đặt hàng thành công", orderViewPayload(view))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireOrderService(w, r) {
		return
	}
	view, err := h.orders.Get(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, "Thành công", orderViewPayload(view))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireOrderService(w, r) {
		return
	}
	query := r.URL.Query()

	listQuery := services.ListOrdersQuery{
		UserID:        strings.TrimSpace(query.Get("user_id")),
		Status:        parseFilterValues(query["status"]),
		PaymentStatus: strings.TrimSpace(query.Get("payment_status")),
		PhoneNumber:   strings.TrimSpace(query.Get("phone_number")),
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UID != "" {
		listQuery.UserID = identity.UID
	}
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		listQuery.DateFrom = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		listQuery.DateTo = &ts
	}

	pageSize := defaultOrderPageSize
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be a positive integer", http.StatusBadRequest))
			return
		}
		if size > maxOrderPageSize {
			size = maxOrderPageSize
		}
		pageSize = size
	}
	listQuery.Pagination = domain.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}

	page, err := h.orders.List(ctx, listQuery)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	orders := make([]map[string]any, 0, len(page.Items))
	for _, order := range page.Items {
		orders = append(orders, orderPayload(order))
	}
	httpx.WriteData(w, http.StatusOK, "Thành công", map[string]any{
		"orders":          orders,
		"next_page_token": page.NextPageToken,
	})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireOrderService(w, r) {
		return
	}
	var req updateStatusRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	view, err := h.orders.AdvanceStatus(ctx, chi.URLParam(r, "orderID"), domain.OrderStatus(req.Status))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, "Cập nhật trạng thái thành công", orderViewPayload(view))
}

func (h *OrderHandlers) confirmDelivered(w http.ResponseWriter, r *http.Request) {
	if !h.requireOrderService(w, r) {
		return
	}
	view, err := h.orders.ConfirmDelivered(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, "Xác nhận đã nhận hàng thành công", orderViewPayload(view))
}

type adjustItemRequest struct {
	OrderID string `json:"order_id"`
	SKUID   string `json:"sku_id"`
}

func (h *OrderHandlers) incrementItem(w http.ResponseWriter, r *http.Request) {
	h.adjustItem(w, r, 1)
}

func (h *OrderHandlers) decrementItem(w http.ResponseWriter, r *http.Request) {
	h.adjustItem(w, r, -1)
}

func (h *OrderHandlers) adjustItem(w http.ResponseWriter, r *http.Request, delta int) {
	ctx := r.Context()
	if !h.requireOrderService(w, r) {
		return
	}
	var req adjustItemRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	view, err := h.orders.AdjustQuantity(ctx, services.AdjustQuantityCommand{
		OrderID: req.OrderID,
		SKUID:   req.SKUID,
		Delta:   delta,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, "Cập nhật số lượng thành công", orderViewPayload(view))
}

func (h *OrderHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireOrderService(w, r) {
		return
	}
	var req adjustItemRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	view, err := h.orders.RemoveItem(ctx, req.OrderID, req.SKUID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, "Xoá sản phẩm thành công", orderViewPayload(view))
}

type calculateFeeRequest struct {
	Address string `json:"address"`
}

func (h *OrderHandlers) calculateFee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("quote_service_unavailable", "shipping quote service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req calculateFeeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	total, err := h.quotes.Quote(ctx, req.Address)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, "Thành công", total)
}

// Shared helpers ------------------------------------------------------------

func decodeJSONBody(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxOrderBodySize)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

func parseFilterValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrReturnInvalidInput),
		errors.Is(err, services.ErrQuoteInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentMethodInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_invalid", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAddressUnresolved):
		httpx.WriteError(ctx, w, httpx.NewError("address_unresolved", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrReturnNotFound),
		errors.Is(err, services.ErrLineItemNotFound),
		errors.Is(err, services.ErrShippingInfoNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrDuplicateTransition),
		errors.Is(err, services.ErrNoOpTransition),
		errors.Is(err, services.ErrOrderConflict),
		errors.Is(err, services.ErrInsufficientStock),
		errors.Is(err, services.ErrMinimumQuantity),
		errors.Is(err, services.ErrReturnDuplicate),
		errors.Is(err, services.ErrReturnInvalidState),
		errors.Is(err, services.ErrReturnAlreadyConfirmed):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrBookingFailed),
		errors.Is(err, services.ErrCarrierUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("carrier_error", err.Error(), http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
	}
}

// Payload mappers -----------------------------------------------------------

func orderPayload(order domain.Order) map[string]any {
	history := make([]map[string]any, 0, len(order.StatusHistory))
	for _, entry := range order.StatusHistory {
		history = append(history, map[string]any{
			"status": string(entry.Status),
			"at":     entry.At.UTC().Format(time.RFC3339),
		})
	}
	payload := map[string]any{
		"id":             order.ID,
		"user_id":        order.UserID,
		"customer_name":  order.CustomerName,
		"phone_number":   order.PhoneNumber,
		"content":        order.Content,
		"total_amount":   order.TotalAmount,
		"payment_status": string(order.PaymentStatus),
		"payment_method": map[string]any{
			"method":      order.PaymentMethod.Label,
			"status":      string(order.PaymentMethod.Status),
			"orderInfo":   order.PaymentMethod.OrderInfo,
			"orderType":   order.PaymentMethod.OrderType,
			"partnerCode": order.PaymentMethod.PartnerCode,
		},
		"status":          string(order.Status),
		"status_detail":   history,
		"shipping_method": string(order.ShippingMethod),
		"created_at":      order.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":      order.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if order.OrderNumber != "" {
		payload["order_number"] = order.OrderNumber
	}
	if order.PaymentURL != "" {
		payload["payment_url"] = order.PaymentURL
	}
	return payload
}

func orderViewPayload(view services.OrderView) map[string]any {
	payload := orderPayload(view.Order)

	items := make([]map[string]any, 0, len(view.Items))
	for _, item := range view.Items {
		items = append(items, map[string]any{
			"id":                     item.ID,
			"sku_id":                 item.SKUID,
			"quantity":               item.Quantity,
			"price":                  item.UnitPrice,
			"price_before_discount":  item.PriceBeforeDiscount,
			"price_discount_percent": item.DiscountPercent,
			"total_money":            item.Total,
		})
	}
	payload["products"] = items

	if view.Shipping != nil {
		shippingPayload := map[string]any{
			"id":                 view.Shipping.ID,
			"shipping_address":   view.Shipping.Address,
			"transportation_fee": view.Shipping.TransportationFee,
			"carrier":            view.Shipping.Carrier,
		}
		if view.Shipping.TrackingCode != "" {
			shippingPayload["order_code"] = view.Shipping.TrackingCode
		}
		if view.Shipping.EstimatedDelivery != nil {
			shippingPayload["estimated_delivery_date"] = view.Shipping.EstimatedDelivery.UTC().Format(time.RFC3339)
		}
		payload["shipping_info"] = shippingPayload
	}
	return payload
}
