package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// VNPayConfig carries the terminal credentials issued by the VNPAY portal.
type VNPayConfig struct {
	Endpoint     string
	TerminalCode string
	SecretKey    string
	ReturnURL    string
}

// VNPayProvider builds signed redirect URLs for the VNPAY payment page. The
// gateway is redirect-only so no HTTP round trip happens here.
type VNPayProvider struct {
	cfg VNPayConfig
	now func() time.Time
}

// NewVNPayProvider constructs a VNPayProvider.
func NewVNPayProvider(cfg VNPayConfig) (*VNPayProvider, error) {
	if cfg.Endpoint == "" || cfg.TerminalCode == "" || cfg.SecretKey == "" {
		return nil, errors.New("payments: vnpay config incomplete")
	}
	return &VNPayProvider{cfg: cfg, now: time.Now}, nil
}

// Initiate assembles the signed vnp_* query string and returns the payment URL.
func (p *VNPayProvider) Initiate(ctx context.Context, req InitiateRequest) (Session, error) {
	if req.OrderID == "" {
		return Session{}, errors.New("payments: vnpay order id is required")
	}
	if req.Amount <= 0 {
		return Session{}, errors.New("payments: vnpay amount must be positive")
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	createdAt := p.now()
	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}
	returnURL := firstNonEmpty(req.ReturnURL, p.cfg.ReturnURL)

	params := map[string]string{
		"vnp_Version":    "2.1.0",
		"vnp_Command":    "pay",
		"vnp_TmnCode":    p.cfg.TerminalCode,
		"vnp_Locale":     "vn",
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     req.OrderID,
		"vnp_OrderInfo":  req.OrderInfo,
		"vnp_OrderType":  "other",
		"vnp_Amount":     strconv.FormatInt(req.Amount*100, 10),
		"vnp_ReturnUrl":  returnURL,
		"vnp_IpAddr":     clientIP,
		"vnp_CreateDate": createdAt.Format("20060102150405"),
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// The signature covers the sorted, url-encoded query exactly as sent.
	var query strings.Builder
	for i, k := range keys {
		if i > 0 {
			query.WriteByte('&')
		}
		query.WriteString(url.QueryEscape(k))
		query.WriteByte('=')
		query.WriteString(url.QueryEscape(params[k]))
	}
	mac := hmac.New(sha512.New, []byte(p.cfg.SecretKey))
	mac.Write([]byte(query.String()))
	signature := hex.EncodeToString(mac.Sum(nil))

	redirect := p.cfg.Endpoint + "?" + query.String() + "&vnp_SecureHash=" + signature
	return Session{
		RedirectURL: redirect,
		IntentID:    req.OrderID,
	}, nil
}
