package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	HeaderSignature          = "Omise-Signature"
	HeaderSignatureTimestamp = "Omise-Signature-Timestamp"

	EventChargeCreate   = "charge.create"
	EventChargeComplete = "charge.complete"
	EventChargeExpire   = "charge.expire"
)

// VerifySignatureはWebhookの署名をHMAC-SHA256で検証する。
// 署名ヘッダがない場合はErrSignatureMissing（扱いは呼び出し側で決める）
func VerifySignature(secret string, body []byte, headers http.Header) error {
	raw := strings.TrimSpace(headers.Get(HeaderSignature))
	if raw == "" {
		return ErrSignatureMissing
	}
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("%w: no webhook secret configured", ErrInvalidSignature)
	}

	expected := Sign(secret, headers.Get(HeaderSignatureTimestamp), body)
	for _, candidate := range strings.Split(raw, ",") {
		got, err := hex.DecodeString(strings.TrimSpace(candidate))
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Signは署名の期待値を返す（テストでも使う）
func Sign(secret string, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, secretBytes(secret))
	timestamp = strings.TrimSpace(timestamp)
	if timestamp != "" {
		mac.Write([]byte(timestamp))
		mac.Write([]byte("."))
	}
	mac.Write(body)
	return mac.Sum(nil)
}

// シークレットはbase64で配布される。デコードできなければそのまま使う
func secretBytes(secret string) []byte {
	secret = strings.TrimSpace(secret)
	if b, err := base64.StdEncoding.DecodeString(secret); err == nil && len(b) > 0 {
		return b
	}
	return []byte(secret)
}

type Event struct {
	ID        string
	Key       string
	CreatedAt time.Time
	Charge    Charge
}

type eventResponse struct {
	Object    string          `json:"object"`
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

func ParseEvent(body []byte) (Event, error) {
	var ev eventResponse
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if ev.Object != "event" || strings.TrimSpace(ev.ID) == "" || strings.TrimSpace(ev.Key) == "" {
		return Event{}, ErrInvalidPayload
	}

	out := Event{
		ID:        strings.TrimSpace(ev.ID),
		Key:       strings.TrimSpace(ev.Key),
		CreatedAt: ev.CreatedAt,
	}
	if !strings.HasPrefix(out.Key, "charge.") {
		return out, nil
	}

	var c chargeResponse
	if err := json.Unmarshal(ev.Data, &c); err != nil {
		return Event{}, fmt.Errorf("%w: charge: %v", ErrInvalidPayload, err)
	}
	if c.Object != "charge" || strings.TrimSpace(c.ID) == "" {
		return Event{}, fmt.Errorf("%w: not a charge", ErrInvalidPayload)
	}
	out.Charge = c.toCharge()
	return out, nil
}

type Outcome int

const (
	OutcomeAmbiguous Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "ambiguous"
	}
}

// ClassifyはpaidとステータスからOutcomeを決める。
// 成功: paid=true かつ どちらかのステータスがsuccessful。
// 失敗: paidでなく、どちらかが失敗系で、successfulを含まない。
// それ以外は判断しない。
func Classify(paid bool, status string, sourceStatus string) Outcome {
	successful := status == ChargeStatusSuccessful || sourceStatus == ChargeStatusSuccessful
	if paid && successful {
		return OutcomeSuccess
	}
	if !paid && !successful && (isFailureStatus(status) || isFailureStatus(sourceStatus)) {
		return OutcomeFailure
	}
	return OutcomeAmbiguous
}

func (s ChargeStatus) Outcome() Outcome {
	return Classify(s.Paid, s.Status, s.SourceStatus)
}

func (c Charge) Outcome() Outcome {
	return Classify(c.Paid, c.Status, c.SourceStatus)
}

func isFailureStatus(s string) bool {
	return s == ChargeStatusFailed || s == ChargeStatusExpired || s == ChargeStatusReversed
}
