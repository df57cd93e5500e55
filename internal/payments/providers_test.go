package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestMomoInitiateSignsRequest(t *testing.T) {
	cfg := MomoConfig{
		PartnerCode: "PARTNER",
		AccessKey:   "access",
		SecretKey:   "secret",
		ReturnURL:   "https://shop.example/return",
		NotifyURL:   "https://shop.example/ipn",
	}
	var captured momoCreateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(momoCreateResponse{
			PayURL:     "https://momo.example/pay",
			ResultCode: 0,
			RequestID:  captured.RequestID,
		})
	}))
	defer server.Close()
	cfg.Endpoint = server.URL

	provider, err := NewMomoProvider(cfg, server.Client())
	if err != nil {
		t.Fatalf("NewMomoProvider: %v", err)
	}
	session, err := provider.Initiate(context.Background(), InitiateRequest{
		OrderID:   "ord-1",
		Amount:    150000,
		OrderInfo: "Thanh toán qua MOMO",
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if session.RedirectURL != "https://momo.example/pay" {
		t.Fatalf("unexpected redirect: %q", session.RedirectURL)
	}
	if captured.RequestType != "captureWallet" {
		t.Fatalf("requestType = %q", captured.RequestType)
	}

	raw := fmt.Sprintf(
		"accessKey=%s&amount=%s&extraData=&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=%s&redirectUrl=%s&requestId=%s&requestType=captureWallet",
		cfg.AccessKey, captured.Amount, cfg.NotifyURL, captured.OrderID, captured.OrderInfo, cfg.PartnerCode, cfg.ReturnURL, captured.RequestID,
	)
	mac := hmac.New(sha256.New, []byte(cfg.SecretKey))
	mac.Write([]byte(raw))
	if want := hex.EncodeToString(mac.Sum(nil)); captured.Signature != want {
		t.Fatalf("signature mismatch: got %q want %q", captured.Signature, want)
	}
}

func TestMomoInitiateRejectsGatewayFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(momoCreateResponse{ResultCode: 41, Message: "duplicate order"})
	}))
	defer server.Close()

	provider, err := NewMomoProvider(MomoConfig{
		Endpoint:    server.URL,
		PartnerCode: "PARTNER",
		AccessKey:   "access",
		SecretKey:   "secret",
	}, server.Client())
	if err != nil {
		t.Fatalf("NewMomoProvider: %v", err)
	}
	if _, err := provider.Initiate(context.Background(), InitiateRequest{OrderID: "ord-2", Amount: 1000}); err == nil {
		t.Fatal("expected error on non-zero result code")
	}
}

func TestVNPayInitiateBuildsSignedRedirect(t *testing.T) {
	provider, err := NewVNPayProvider(VNPayConfig{
		Endpoint:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		TerminalCode: "TMN01",
		SecretKey:    "vnpaysecret",
		ReturnURL:    "https://shop.example/return",
	})
	if err != nil {
		t.Fatalf("NewVNPayProvider: %v", err)
	}
	provider.now = func() time.Time {
		return time.Date(2024, 5, 20, 10, 30, 0, 0, time.UTC)
	}

	session, err := provider.Initiate(context.Background(), InitiateRequest{
		OrderID:   "ord-3",
		Amount:    250000,
		OrderInfo: "Thanh toán qua VNPAY",
		ClientIP:  "203.0.113.9",
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	parsed, err := url.Parse(session.RedirectURL)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	values := parsed.Query()
	if got := values.Get("vnp_Amount"); got != "25000000" {
		t.Fatalf("vnp_Amount = %q, want amount x100", got)
	}
	if got := values.Get("vnp_Version"); got != "2.1.0" {
		t.Fatalf("vnp_Version = %q", got)
	}
	if got := values.Get("vnp_CreateDate"); got != "20240520103000" {
		t.Fatalf("vnp_CreateDate = %q", got)
	}

	rawQuery := parsed.RawQuery
	idx := strings.Index(rawQuery, "&vnp_SecureHash=")
	if idx < 0 {
		t.Fatalf("redirect missing secure hash: %q", rawQuery)
	}
	signed := rawQuery[:idx]
	mac := hmac.New(sha512.New, []byte("vnpaysecret"))
	mac.Write([]byte(signed))
	if want := hex.EncodeToString(mac.Sum(nil)); values.Get("vnp_SecureHash") != want {
		t.Fatalf("secure hash mismatch")
	}
}

func TestZaloPayInitiateSignsForm(t *testing.T) {
	cfg := ZaloPayConfig{AppID: "2553", Key: "zalokey"}
	var form url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		form = r.PostForm
		json.NewEncoder(w).Encode(zaloPayCreateResponse{
			ReturnCode: 1,
			OrderURL:   "https://zalopay.example/order",
		})
	}))
	defer server.Close()
	cfg.Endpoint = server.URL

	provider, err := NewZaloPayProvider(cfg, server.Client())
	if err != nil {
		t.Fatalf("NewZaloPayProvider: %v", err)
	}
	provider.now = func() time.Time {
		return time.Date(2024, 5, 20, 10, 30, 0, 0, time.UTC)
	}

	session, err := provider.Initiate(context.Background(), InitiateRequest{OrderID: "ord-4", Amount: 99000, OrderInfo: "Thanh toán qua ZALOPAY"})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if session.RedirectURL != "https://zalopay.example/order" {
		t.Fatalf("unexpected redirect: %q", session.RedirectURL)
	}
	if got := form.Get("app_trans_id"); got != "240520_ord-4" {
		t.Fatalf("app_trans_id = %q", got)
	}

	raw := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
		form.Get("app_id"), form.Get("app_trans_id"), form.Get("app_user"),
		form.Get("amount"), form.Get("app_time"), form.Get("embed_data"), form.Get("item"))
	mac := hmac.New(sha256.New, []byte(cfg.Key))
	mac.Write([]byte(raw))
	if want := hex.EncodeToString(mac.Sum(nil)); form.Get("mac") != want {
		t.Fatalf("mac mismatch: got %q want %q", form.Get("mac"), want)
	}
}

func TestZaloPayInitiateRejectsGatewayFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(zaloPayCreateResponse{ReturnCode: 2, ReturnMessage: "invalid mac"})
	}))
	defer server.Close()

	provider, err := NewZaloPayProvider(ZaloPayConfig{Endpoint: server.URL, AppID: "2553", Key: "zalokey"}, server.Client())
	if err != nil {
		t.Fatalf("NewZaloPayProvider: %v", err)
	}
	if _, err := provider.Initiate(context.Background(), InitiateRequest{OrderID: "ord-5", Amount: 1000}); err == nil {
		t.Fatal("expected error on non-1 return code")
	}
}
