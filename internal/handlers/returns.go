package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/DawnBreaker207/Graduate-Project/internal/domain"
	"github.com/DawnBreaker207/Graduate-Project/internal/platform/httpx"
	"github.com/DawnBreaker207/Graduate-Project/internal/services"
)

type fileReturnRequest struct {
	OrderID      string   `json:"order_id"`
	Reason       string   `json:"reason"`
	CustomerName string   `json:"customer_name"`
	PhoneNumber  string   `json:"phone_number"`
	Images       []string `json:"images"`
}

func (h *OrderHandlers) fileReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req fileReturnRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	request, err := h.returns.FileReturn(ctx, services.FileReturnCommand{
		OrderID:      req.OrderID,
		Reason:       req.Reason,
		CustomerName: req.CustomerName,
		PhoneNumber:  req.PhoneNumber,
		Images:       req.Images,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusCreated, "Tạo yêu cầu hoàn trả thành công", returnPayload(request))
}

func (h *OrderHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}
	query := r.URL.Query()

	listQuery := services.ListReturnsQuery{
		PhoneNumber: strings.TrimSpace(query.Get("phone_number")),
	}
	if raw := strings.TrimSpace(query.Get("confirmed")); raw != "" {
		confirmed, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "confirmed must be true or false", http.StatusBadRequest))
			return
		}
		listQuery.Confirmed = &confirmed
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

	page, err := h.returns.ListReturns(ctx, listQuery)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	returns := make([]map[string]any, 0, len(page.Items))
	for _, request := range page.Items {
		returns = append(returns, returnPayload(request))
	}
	httpx.WriteData(w, http.StatusOK, "Thành công", map[string]any{
		"returns":         returns,
		"next_page_token": page.NextPageToken,
	})
}

func (h *OrderHandlers) confirmReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	request, err := h.returns.ConfirmReturn(ctx, chi.URLParam(r, "returnID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, "Xác nhận hoàn trả thành công", returnPayload(request))
}

func returnPayload(request domain.ReturnRequest) map[string]any {
	return map[string]any{
		"id":            request.ID,
		"order_id":      request.OrderID,
		"reason":        request.Reason,
		"customer_name": request.CustomerName,
		"phone_number":  request.PhoneNumber,
		"images":        request.Images,
		"is_confirm":    request.Confirmed,
		"created_at":    request.CreatedAt.UTC().Format(time.RFC3339),
	}
}
