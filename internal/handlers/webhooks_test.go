package handlers

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78/webhook"

	domain "github.com/DawnBreaker207/Graduate-Project/internal/domain"
	"github.com/DawnBreaker207/Graduate-Project/internal/services"
)

const (
	testMomoAccessKey      = "momo-access"
	testMomoSecretKey      = "momo-secret"
	testVNPayHashSecret    = "vnpay-hash-secret"
	testZaloPayCallbackKey = "zalopay-key2"
	testStripeSecret       = "whsec_test"
)

func testGatewaySecrets() GatewaySecrets {
	return GatewaySecrets{
		MomoAccessKey:       testMomoAccessKey,
		MomoSecretKey:       testMomoSecretKey,
		VNPayHashSecret:     testVNPayHashSecret,
		ZaloPayCallbackKey:  testZaloPayCallbackKey,
		StripeWebhookSecret: testStripeSecret,
	}
}

func newWebhookRouter(orders services.OrderService) chi.Router {
	handler := NewWebhookHandlers(orders, testGatewaySecrets(), nil)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)
	return router
}

func signedMomoBody(t *testing.T, orderID string, resultCode int) string {
	t.Helper()
	req := momoCallbackRequest{
		PartnerCode:  "MOMO",
		OrderID:      orderID,
		RequestID:    "req-1",
		Amount:       50000,
		OrderInfo:    "Thanh toán qua MOMO",
		OrderType:    "momo_wallet",
		TransID:      118,
		ResultCode:   resultCode,
		Message:      "Successful.",
		PayType:      "qr",
		ResponseTime: 1716200000000,
	}
	raw := fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%d&resultCode=%d&transId=%d",
		testMomoAccessKey, req.Amount, req.ExtraData, req.Message, req.OrderID, req.OrderInfo,
		req.OrderType, req.PartnerCode, req.PayType, req.RequestID, req.ResponseTime, req.ResultCode, req.TransID)
	req.Signature = hmacSHA256Hex(testMomoSecretKey, raw)
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal momo body: %v", err)
	}
	return string(body)
}

func signedZaloPayBody(t *testing.T, appTransID string) string {
	t.Helper()
	data, err := json.Marshal(map[string]string{"app_trans_id": appTransID})
	if err != nil {
		t.Fatalf("marshal zalopay data: %v", err)
	}
	body, err := json.Marshal(zaloPayCallbackRequest{
		Data: string(data),
		MAC:  hmacSHA256Hex(testZaloPayCallbackKey, string(data)),
	})
	if err != nil {
		t.Fatalf("marshal zalopay body: %v", err)
	}
	return string(body)
}

func stripeSignatureHeader(t *testing.T, payload string) string {
	t.Helper()
	ts := time.Now()
	sig := webhook.ComputeSignature(ts, []byte(payload), testStripeSecret)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(sig))
}

func signedVNPayQuery(orderID, responseCode string) string {
	query := url.Values{}
	query.Set("vnp_TxnRef", orderID)
	query.Set("vnp_ResponseCode", responseCode)
	query.Set("vnp_Amount", "5000000")
	query.Set("vnp_TransactionNo", "14212")
	query.Set("vnp_SecureHash", vnpaySecureHash(query, testVNPayHashSecret))
	return query.Encode()
}

func TestWebhookMomoSettlesOrder(t *testing.T) {
	var settled []string
	service := &stubOrderService{
		markPaidFn: func(ctx context.Context, orderID string) (domain.Order, error) {
			settled = append(settled, orderID)
			return domain.Order{ID: orderID, PaymentStatus: domain.PaymentStatusPaid}, nil
		},
	}
	router := newWebhookRouter(service)

	body := signedMomoBody(t, "ord_1", 0)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/momo", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(settled) != 1 || settled[0] != "ord_1" {
		t.Fatalf("expected ord_1 settled, got %#v", settled)
	}
}

func TestWebhookMomoFailureSkipsSettlement(t *testing.T) {
	service := &stubOrderService{
		markPaidFn: func(ctx context.Context, orderID string) (domain.Order, error) {
			t.Fatalf("should not settle a failed payment")
			return domain.Order{}, nil
		},
	}
	router := newWebhookRouter(service)

	body := signedMomoBody(t, "ord_1", 1006)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/momo", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
}

func TestWebhookMomoRejectsTamperedSignature(t *testing.T) {
	service := &stubOrderService{
		markPaidFn: func(ctx context.Context, orderID string) (domain.Order, error) {
			t.Fatalf("should not settle an unverified notification")
			return domain.Order{}, nil
		},
	}
	router := newWebhookRouter(service)

	body := strings.Replace(signedMomoBody(t, "ord_1", 0), `"amount":50000`, `"amount":1`, 1)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/momo", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebhookZaloPayExtractsOrderID(t *testing.T) {
	var settled string
	service := &stubOrderService{
		markPaidFn: func(ctx context.Context, orderID string) (domain.Order, error) {
			settled = orderID
			return domain.Order{ID: orderID}, nil
		},
	}
	router := newWebhookRouter(service)

	body := signedZaloPayBody(t, "240520_ord_7")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/zalopay", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if settled != "ord_7" {
		t.Fatalf("expected ord_7 settled, got %s", settled)
	}
}

func TestWebhookZaloPayRejectsBadMAC(t *testing.T) {
	service := &stubOrderService{
		markPaidFn: func(ctx context.Context, orderID string) (domain.Order, error) {
			t.Fatalf("should not settle an unverified notification")
			return domain.Order{}, nil
		},
	}
	router := newWebhookRouter(service)

	body := `{"data": "{\"app_trans_id\": \"240520_ord_7\"}", "mac": "abc"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/zalopay", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebhookStripeSettlesOnCompletedSession(t *testing.T) {
	var settled string
	service := &stubOrderService{
		markPaidFn: func(ctx context.Context, orderID string) (domain.Order, error) {
			settled = orderID
			return domain.Order{ID: orderID}, nil
		},
	}
	router := newWebhookRouter(service)

	body := `{"type": "checkout.session.completed", "data": {"object": {"metadata": {"orderId": "ord_3"}}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", stripeSignatureHeader(t, body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if settled != "ord_3" {
		t.Fatalf("expected ord_3 settled, got %s", settled)
	}
}

func TestWebhookStripeRejectsUnsignedPayload(t *testing.T) {
	service := &stubOrderService{
		markPaidFn: func(ctx context.Context, orderID string) (domain.Order, error) {
			t.Fatalf("should not settle an unverified notification")
			return domain.Order{}, nil
		},
	}
	router := newWebhookRouter(service)

	body := `{"type": "checkout.session.completed", "data": {"object": {"metadata": {"orderId": "ord_3"}}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebhookUnknownProviderRejected(t *testing.T) {
	router := newWebhookRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/paypal", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebhookMissingSecretAnswers503(t *testing.T) {
	handler := NewWebhookHandlers(&stubOrderService{
		markPaidFn: func(ctx context.Context, orderID string) (domain.Order, error) {
			t.Fatalf("should not settle without a verification secret")
			return domain.Order{}, nil
		},
	}, GatewaySecrets{}, nil)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/momo", strings.NewReader(`{"orderId":"ord_1","resultCode":0}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebhookVNPayIPN(t *testing.T) {
	var settled string
	service := &stubOrderService{
		markPaidFn: func(ctx context.Context, orderID string) (domain.Order, error) {
			settled = orderID
			return domain.Order{ID: orderID}, nil
		},
	}
	router := newWebhookRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/payments/vnpay?"+signedVNPayQuery("ord_5", "00"), nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if settled != "ord_5" {
		t.Fatalf("expected ord_5 settled, got %s", settled)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte(`"RspCode":"00"`)) {
		t.Fatalf("expected confirm ack, got %s", rr.Body.String())
	}
}

func TestWebhookVNPayOrderNotFound(t *testing.T) {
	service := &stubOrderService{
		markPaidFn: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{}, services.ErrOrderNotFound
		},
	}
	router := newWebhookRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/payments/vnpay?"+signedVNPayQuery("ord_404", "00"), nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte(`"RspCode":"01"`)) {
		t.Fatalf("expected order-not-found ack, got %s", rr.Body.String())
	}
}

func TestWebhookVNPayRejectsTamperedQuery(t *testing.T) {
	service := &stubOrderService{
		markPaidFn: func(ctx context.Context, orderID string) (domain.Order, error) {
			t.Fatalf("should not settle an unverified notification")
			return domain.Order{}, nil
		},
	}
	router := newWebhookRouter(service)

	tampered := strings.Replace(signedVNPayQuery("ord_5", "00"), "ord_5", "ord_6", 1)
	req := httptest.NewRequest(http.MethodGet, "/webhooks/payments/vnpay?"+tampered, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte(`"RspCode":"97"`)) {
		t.Fatalf("expected checksum-rejection ack, got %s", rr.Body.String())
	}
}
