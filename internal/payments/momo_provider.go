package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// MomoConfig carries the wallet credentials issued by the MoMo merchant portal.
type MomoConfig struct {
	Endpoint    string
	PartnerCode string
	AccessKey   string
	SecretKey   string
	ReturnURL   string
	NotifyURL   string
}

// MomoProvider opens captureWallet sessions against the MoMo gateway.
type MomoProvider struct {
	cfg    MomoConfig
	client *http.Client
}

// NewMomoProvider constructs a MomoProvider. A nil client falls back to a
// 15 second default.
func NewMomoProvider(cfg MomoConfig, client *http.Client) (*MomoProvider, error) {
	if cfg.Endpoint == "" || cfg.PartnerCode == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("payments: momo config incomplete")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &MomoProvider{cfg: cfg, client: client}, nil
}

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      string `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IpnURL      string `json:"ipnUrl"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

type momoCreateResponse struct {
	PayURL     string `json:"payUrl"`
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	RequestID  string `json:"requestId"`
}

// Initiate signs and posts a captureWallet create request and returns the pay URL.
func (p *MomoProvider) Initiate(ctx context.Context, req InitiateRequest) (Session, error) {
	if req.OrderID == "" {
		return Session{}, errors.New("payments: momo order id is required")
	}
	if req.Amount <= 0 {
		return Session{}, errors.New("payments: momo amount must be positive")
	}
	requestID := req.IdempotencyKey
	if requestID == "" {
		requestID = req.OrderID
	}
	amount := fmt.Sprintf("%d", req.Amount)
	returnURL := firstNonEmpty(req.ReturnURL, p.cfg.ReturnURL)
	notifyURL := firstNonEmpty(req.NotifyURL, p.cfg.NotifyURL)

	// Field order in the raw signature string is fixed by the gateway.
	raw := fmt.Sprintf(
		"accessKey=%s&amount=%s&extraData=%s&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=%s&redirectUrl=%s&requestId=%s&requestType=captureWallet",
		p.cfg.AccessKey, amount, "", notifyURL, req.OrderID, req.OrderInfo, p.cfg.PartnerCode, returnURL, requestID,
	)
	mac := hmac.New(sha256.New, []byte(p.cfg.SecretKey))
	mac.Write([]byte(raw))
	signature := hex.EncodeToString(mac.Sum(nil))

	payload := momoCreateRequest{
		PartnerCode: p.cfg.PartnerCode,
		AccessKey:   p.cfg.AccessKey,
		RequestID:   requestID,
		Amount:      amount,
		OrderID:     req.OrderID,
		OrderInfo:   req.OrderInfo,
		RedirectURL: returnURL,
		IpnURL:      notifyURL,
		ExtraData:   "",
		RequestType: "captureWallet",
		Signature:   signature,
		Lang:        "vi",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Session{}, fmt.Errorf("payments: encode momo request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("payments: build momo request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Session{}, fmt.Errorf("payments: momo request failed: %w", err)
	}
	defer resp.Body.Close()

	var created momoCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return Session{}, fmt.Errorf("payments: decode momo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || created.ResultCode != 0 {
		return Session{}, fmt.Errorf("payments: momo rejected session (result %d): %s", created.ResultCode, created.Message)
	}
	if created.PayURL == "" {
		return Session{}, errors.New("payments: momo response missing pay url")
	}
	return Session{
		RedirectURL: created.PayURL,
		IntentID:    created.RequestID,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
