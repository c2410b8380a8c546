package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"keyshop/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL  = "https://api.omise.co"
	DefaultCurrency = "thb"

	ChargeStatusPending    = "pending"
	ChargeStatusSuccessful = "successful"
	ChargeStatusFailed     = "failed"
	ChargeStatusExpired    = "expired"
	ChargeStatusReversed   = "reversed"
)

type Config struct {
	SecretKey string
	BaseURL   string
	Currency  string
	Timeout   time.Duration
}

type CreateChargeInput struct {
	Amount      decimal.Decimal
	OrderID     int64
	Description string
}

type Charge struct {
	ChargeID     string
	Status       string
	SourceStatus string
	Paid         bool
	QRImageURL   string
	ExpiresAt    *time.Time
	OrderID      int64
	Amount       decimal.Decimal
}

type ChargeStatus struct {
	Paid         bool
	Status       string
	SourceStatus string
	ExpiresAt    *time.Time
	Amount       decimal.Decimal
}

type CancelResult struct {
	//プロバイダ側で失効させられた
	Accepted bool
	//すでに支払い済み・失効済みだった
	AlreadySettled bool
}

// OmiseGatewayはOmiseのcharge APIを呼ぶ
type OmiseGateway struct {
	cfg     Config
	http    *http.Client
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewOmiseGateway(cfg Config, log *zap.Logger, m *metrics.Metrics) *OmiseGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OmiseGateway{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log.Named("payment.omise"),
		metrics: m,
	}
}

// CreateChargeはPromptPayのsourceとchargeを1リクエストで作る。
// 金額が範囲外ならネットワークに出る前にErrAmountOutOfRange。
func (g *OmiseGateway) CreateCharge(ctx context.Context, in CreateChargeInput) (Charge, error) {
	satang, err := ToSatang(in.Amount)
	if err != nil {
		return Charge{}, err
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(satang, 10))
	form.Set("currency", g.cfg.Currency)
	form.Set("source[type]", "promptpay")
	form.Set("metadata[order_id]", strconv.FormatInt(in.OrderID, 10))
	if in.Description != "" {
		form.Set("description", in.Description)
	}

	var res chargeResponse
	if err := g.do(ctx, "create_charge", http.MethodPost, "/charges", form, &res); err != nil {
		return Charge{}, err
	}
	return res.toCharge(), nil
}

func (g *OmiseGateway) GetChargeStatus(ctx context.Context, chargeID string) (ChargeStatus, error) {
	if strings.TrimSpace(chargeID) == "" {
		return ChargeStatus{}, fmt.Errorf("%w: empty charge id", ErrGatewayBadRequest)
	}

	var res chargeResponse
	if err := g.do(ctx, "get_charge", http.MethodGet, "/charges/"+url.PathEscape(chargeID), nil, &res); err != nil {
		return ChargeStatus{}, err
	}
	c := res.toCharge()
	return ChargeStatus{
		Paid:         c.Paid,
		Status:       c.Status,
		SourceStatus: c.SourceStatus,
		ExpiresAt:    c.ExpiresAt,
		Amount:       c.Amount,
	}, nil
}

// CancelChargeは未払いのchargeを失効させる。
// すでに支払い済み・失効済みの応答はエラーにしない（決済との競合は普通に起きる）
func (g *OmiseGateway) CancelCharge(ctx context.Context, chargeID string) (CancelResult, error) {
	if strings.TrimSpace(chargeID) == "" {
		return CancelResult{}, fmt.Errorf("%w: empty charge id", ErrGatewayBadRequest)
	}

	var res chargeResponse
	err := g.do(ctx, "cancel_charge", http.MethodPost, "/charges/"+url.PathEscape(chargeID)+"/expire", url.Values{}, &res)
	if err != nil {
		var ge *GatewayError
		if errors.As(err, &ge) && isAlreadySettled(ge) {
			g.log.Info("charge already settled", zap.String("charge_id", chargeID), zap.String("code", ge.Code))
			return CancelResult{AlreadySettled: true}, nil
		}
		return CancelResult{}, err
	}

	if res.Paid || res.Status == ChargeStatusSuccessful {
		return CancelResult{AlreadySettled: true}, nil
	}
	return CancelResult{Accepted: true}, nil
}

func isAlreadySettled(ge *GatewayError) bool {
	if ge.Code == "failed_expire" || ge.Code == "failed_capture" {
		return true
	}
	msg := strings.ToLower(ge.Message)
	return strings.Contains(msg, "already") || strings.Contains(msg, "has been paid") || strings.Contains(msg, "expired")
}

func (g *OmiseGateway) do(ctx context.Context, op string, method string, path string, form url.Values, out any) (err error) {
	start := time.Now()
	defer func() { g.metrics.ObserveGateway(op, err, time.Since(start)) }()

	var body io.Reader
	if form != nil && method != http.MethodGet {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, body)
	if err != nil {
		return &GatewayError{Kind: ErrGatewayUnknown, Message: err.Error()}
	}
	req.SetBasicAuth(g.cfg.SecretKey, "")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		g.log.Warn("gateway request failed", zap.String("op", op), zap.Error(err))
		return &GatewayError{Kind: ErrGatewayUnknown, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &GatewayError{Kind: ErrGatewayUnknown, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		_ = json.Unmarshal(raw, &e)
		ge := &GatewayError{
			Kind:       classify(resp.StatusCode, e.Code),
			StatusCode: resp.StatusCode,
			Code:       e.Code,
			Message:    e.Message,
		}
		g.log.Warn("gateway error response",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("code", e.Code),
			zap.String("message", e.Message),
		)
		return ge
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &GatewayError{Kind: ErrGatewayUnknown, StatusCode: resp.StatusCode, Message: "decode: " + err.Error()}
	}
	return nil
}

type errorResponse struct {
	Object  string `json:"object"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type chargeResponse struct {
	Object    string          `json:"object"`
	ID        string          `json:"id"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	Paid      bool            `json:"paid"`
	ExpiresAt *time.Time      `json:"expires_at"`
	Metadata  map[string]any  `json:"metadata"`
	Source    *sourceResponse `json:"source"`
}

type sourceResponse struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	ChargeStatus  string `json:"charge_status"`
	ScannableCode *struct {
		Image *struct {
			DownloadURI string `json:"download_uri"`
		} `json:"image"`
	} `json:"scannable_code"`
}

func (r chargeResponse) toCharge() Charge {
	c := Charge{
		ChargeID:  r.ID,
		Status:    r.Status,
		Paid:      r.Paid,
		ExpiresAt: r.ExpiresAt,
		OrderID:   metadataOrderID(r.Metadata),
		Amount:    FromSatang(r.Amount),
	}
	if r.Source != nil {
		c.SourceStatus = r.Source.ChargeStatus
		if r.Source.ScannableCode != nil && r.Source.ScannableCode.Image != nil {
			c.QRImageURL = r.Source.ScannableCode.Image.DownloadURI
		}
	}
	return c
}

// metadata.order_idは文字列でも数値でも来る
func metadataOrderID(md map[string]any) int64 {
	v, ok := md["order_id"]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0
		}
		return id
	default:
		return 0
	}
}
