package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/DawnBreaker207/Graduate-Project/internal/platform/httpx"
	"github.com/DawnBreaker207/Graduate-Project/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// WebhookLogger mirrors the zap sugared logging seam used elsewhere.
type WebhookLogger func(msg string, keysAndValues ...any)

// GatewaySecrets carries the credentials used to authenticate asynchronous
// gateway notifications. Each gateway signs callbacks with its own scheme, so
// the handlers verify them here instead of a shared header middleware.
type GatewaySecrets struct {
	MomoAccessKey       string
	MomoSecretKey       string
	VNPayHashSecret     string
	ZaloPayCallbackKey  string
	StripeWebhookSecret string
}

// WebhookHandlers receives asynchronous payment notifications from the
// gateways, verifies their signatures and settles the matching order.
type WebhookHandlers struct {
	orders  services.OrderService
	secrets GatewaySecrets
	logger  WebhookLogger
}

// NewWebhookHandlers constructs a WebhookHandlers instance.
func NewWebhookHandlers(orders services.OrderService, secrets GatewaySecrets, logger WebhookLogger) *WebhookHandlers {
	if logger == nil {
		logger = func(string, ...any) {}
	}
	return &WebhookHandlers{orders: orders, secrets: secrets, logger: logger}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.paymentCallback)
	r.Get("/payments/vnpay", h.vnpayCallback)
}

type momoCallbackRequest struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

type zaloPayCallbackRequest struct {
	Data string `json:"data"`
	MAC  string `json:"mac"`
}

type zaloPayCallbackData struct {
	AppTransID string `json:"app_trans_id"`
}

var (
	errSecretMissing    = errors.New("webhooks: gateway secret not configured")
	errInvalidSignature = errors.New("webhooks: signature mismatch")
)

func (h *WebhookHandlers) paymentCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	provider := chi.URLParam(r, "provider")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unreadable notification body", http.StatusBadRequest))
		return
	}

	orderID, paid, err := h.parseCallback(r, provider, body)
	if err != nil {
		h.logger("webhooks.payment.rejected", "provider", provider, "error", err.Error())
		switch {
		case errors.Is(err, errSecretMissing):
			httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "notification verification not configured", http.StatusServiceUnavailable))
		case errors.Is(err, errInvalidSignature):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "notification signature mismatch", http.StatusUnauthorized))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unrecognised payment notification", http.StatusBadRequest))
		}
		return
	}
	if !paid {
		h.logger("webhooks.payment.unsettled", "provider", provider, "orderId", orderID)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if _, err := h.orders.MarkPaid(ctx, orderID); err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			httpx.WriteError(ctx, w, httpx.NewError("not_found", "order not found", http.StatusNotFound))
			return
		}
		h.logger("webhooks.payment.failed", "provider", provider, "orderId", orderID, "error", err.Error())
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to record payment", http.StatusInternalServerError))
		return
	}
	h.logger("webhooks.payment.settled", "provider", provider, "orderId", orderID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *WebhookHandlers) parseCallback(r *http.Request, provider string, body []byte) (orderID string, paid bool, err error) {
	switch provider {
	case "momo":
		return h.parseMomoCallback(body)
	case "zalopay":
		return h.parseZaloPayCallback(body)
	case "stripe":
		return h.parseStripeCallback(r.Header.Get("Stripe-Signature"), body)
	default:
		return "", false, errors.New("unknown provider")
	}
}

func (h *WebhookHandlers) parseMomoCallback(body []byte) (string, bool, error) {
	if h.secrets.MomoSecretKey == "" || h.secrets.MomoAccessKey == "" {
		return "", false, errSecretMissing
	}
	var req momoCallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", false, err
	}
	if req.OrderID == "" {
		return "", false, errors.New("missing orderId")
	}
	// Field order in the raw signature string is fixed by the gateway; the
	// access key is ours, not echoed in the notification.
	raw := fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%d&resultCode=%d&transId=%d",
		h.secrets.MomoAccessKey, req.Amount, req.ExtraData, req.Message, req.OrderID, req.OrderInfo,
		req.OrderType, req.PartnerCode, req.PayType, req.RequestID, req.ResponseTime, req.ResultCode, req.TransID)
	if !equalSignatures(hmacSHA256Hex(h.secrets.MomoSecretKey, raw), req.Signature) {
		return "", false, errInvalidSignature
	}
	return req.OrderID, req.ResultCode == 0, nil
}

func (h *WebhookHandlers) parseZaloPayCallback(body []byte) (string, bool, error) {
	if h.secrets.ZaloPayCallbackKey == "" {
		return "", false, errSecretMissing
	}
	var req zaloPayCallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", false, err
	}
	if !equalSignatures(hmacSHA256Hex(h.secrets.ZaloPayCallbackKey, req.Data), req.MAC) {
		return "", false, errInvalidSignature
	}
	var data zaloPayCallbackData
	if err := json.Unmarshal([]byte(req.Data), &data); err != nil {
		return "", false, err
	}
	// app_trans_id carries the order id after the yymmdd prefix.
	_, id, found := strings.Cut(data.AppTransID, "_")
	if !found || id == "" {
		return "", false, errors.New("malformed app_trans_id")
	}
	return id, true, nil
}

func (h *WebhookHandlers) parseStripeCallback(signatureHeader string, body []byte) (string, bool, error) {
	if h.secrets.StripeWebhookSecret == "" {
		return "", false, errSecretMissing
	}
	// Accounts pin their own API version, which rarely matches the SDK's.
	event, err := webhook.ConstructEventWithOptions(body, signatureHeader, h.secrets.StripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", errInvalidSignature, err)
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return "", false, errors.New("missing event data")
	}
	var object struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
		return "", false, err
	}
	id := object.Metadata["orderId"]
	if id == "" {
		return "", false, errors.New("missing orderId metadata")
	}
	return id, event.Type == "checkout.session.completed", nil
}

// vnpayCallback handles the VNPay IPN which arrives as a GET with signed
// query parameters. Acknowledgements follow the IPN response codes the
// gateway retries on.
func (h *WebhookHandlers) vnpayCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.secrets.VNPayHashSecret == "" {
		httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "notification verification not configured", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	if !equalSignatures(vnpaySecureHash(query, h.secrets.VNPayHashSecret), query.Get("vnp_SecureHash")) {
		h.logger("webhooks.payment.rejected", "provider", "vnpay", "error", "secure hash mismatch")
		writeVNPayAck(w, "97", "Invalid Checksum")
		return
	}

	orderID := query.Get("vnp_TxnRef")
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "missing vnp_TxnRef", http.StatusBadRequest))
		return
	}
	if query.Get("vnp_ResponseCode") != "00" {
		h.logger("webhooks.payment.unsettled", "provider", "vnpay", "orderId", orderID)
		writeVNPayAck(w, "00", "Confirm Success")
		return
	}

	if _, err := h.orders.MarkPaid(ctx, orderID); err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			writeVNPayAck(w, "01", "Order not Found")
			return
		}
		h.logger("webhooks.payment.failed", "provider", "vnpay", "orderId", orderID, "error", err.Error())
		writeVNPayAck(w, "99", "Unknown error")
		return
	}
	h.logger("webhooks.payment.settled", "provider", "vnpay", "orderId", orderID)
	writeVNPayAck(w, "00", "Confirm Success")
}

// vnpaySecureHash recomputes the IPN signature over the sorted, url-encoded
// query with the hash fields themselves excluded. The canonical form matches
// the one used when building payment URLs.
func vnpaySecureHash(query url.Values, secret string) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data strings.Builder
	for i, k := range keys {
		if i > 0 {
			data.WriteByte('&')
		}
		data.WriteString(url.QueryEscape(k))
		data.WriteByte('=')
		data.WriteString(url.QueryEscape(query.Get(k)))
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func hmacSHA256Hex(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func equalSignatures(want, got string) bool {
	return hmac.Equal([]byte(strings.ToLower(want)), []byte(strings.ToLower(strings.TrimSpace(got))))
}

func writeVNPayAck(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"RspCode": code,
		"Message": message,
	})
}
