package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ZaloPayConfig carries the application credentials issued by the ZaloPay portal.
type ZaloPayConfig struct {
	Endpoint  string
	AppID     string
	Key       string
	NotifyURL string
}

// ZaloPayProvider opens payment sessions against the ZaloPay create endpoint.
type ZaloPayProvider struct {
	cfg    ZaloPayConfig
	client *http.Client
	now    func() time.Time
}

// NewZaloPayProvider constructs a ZaloPayProvider. A nil client falls back to
// a 15 second default.
func NewZaloPayProvider(cfg ZaloPayConfig, client *http.Client) (*ZaloPayProvider, error) {
	if cfg.Endpoint == "" || cfg.AppID == "" || cfg.Key == "" {
		return nil, errors.New("payments: zalopay config incomplete")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &ZaloPayProvider{cfg: cfg, client: client, now: time.Now}, nil
}

type zaloPayCreateResponse struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
	OrderURL      string `json:"order_url"`
	ZPTransToken  string `json:"zp_trans_token"`
}

// Initiate posts a signed form-encoded create request and returns the order URL.
func (p *ZaloPayProvider) Initiate(ctx context.Context, req InitiateRequest) (Session, error) {
	if req.OrderID == "" {
		return Session{}, errors.New("payments: zalopay order id is required")
	}
	if req.Amount <= 0 {
		return Session{}, errors.New("payments: zalopay amount must be positive")
	}
	createdAt := p.now()
	// app_trans_id must be prefixed with the merchant-local yymmdd date.
	appTransID := fmt.Sprintf("%s_%s", createdAt.Format("060102"), req.OrderID)
	appTime := createdAt.UnixMilli()
	appUser := "user"
	embedData := "{}"
	items := "[]"

	raw := fmt.Sprintf("%s|%s|%s|%d|%d|%s|%s",
		p.cfg.AppID, appTransID, appUser, req.Amount, appTime, embedData, items)
	mac := hmac.New(sha256.New, []byte(p.cfg.Key))
	mac.Write([]byte(raw))
	signature := hex.EncodeToString(mac.Sum(nil))

	form := url.Values{}
	form.Set("app_id", p.cfg.AppID)
	form.Set("app_trans_id", appTransID)
	form.Set("app_user", appUser)
	form.Set("app_time", fmt.Sprintf("%d", appTime))
	form.Set("amount", fmt.Sprintf("%d", req.Amount))
	form.Set("embed_data", embedData)
	form.Set("item", items)
	form.Set("description", req.OrderInfo)
	form.Set("mac", signature)
	if notify := firstNonEmpty(req.NotifyURL, p.cfg.NotifyURL); notify != "" {
		form.Set("callback_url", notify)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Session{}, fmt.Errorf("payments: build zalopay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Session{}, fmt.Errorf("payments: zalopay request failed: %w", err)
	}
	defer resp.Body.Close()

	var created zaloPayCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return Session{}, fmt.Errorf("payments: decode zalopay response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || created.ReturnCode != 1 {
		return Session{}, fmt.Errorf("payments: zalopay rejected session (return %d): %s", created.ReturnCode, created.ReturnMessage)
	}
	if created.OrderURL == "" {
		return Session{}, errors.New("payments: zalopay response missing order url")
	}
	return Session{
		RedirectURL: created.OrderURL,
		IntentID:    appTransID,
	}, nil
}
