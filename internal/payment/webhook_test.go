package payment

import (
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "c2VjcmV0LWZvci10ZXN0cw=="

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"event"}`)
	sig := hex.EncodeToString(Sign(testSecret, "1700000000", body))

	h := http.Header{}
	h.Set(HeaderSignature, sig)
	h.Set(HeaderSignatureTimestamp, "1700000000")
	assert.NoError(t, VerifySignature(testSecret, body, h))

	//ローテーション中は複数の署名が並ぶ
	h.Set(HeaderSignature, "deadbeef,"+sig)
	assert.NoError(t, VerifySignature(testSecret, body, h))

	h.Set(HeaderSignature, sig)
	assert.ErrorIs(t, VerifySignature(testSecret, []byte(`{"object":"tampered"}`), h), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("other", body, h), ErrInvalidSignature)

	assert.ErrorIs(t, VerifySignature(testSecret, body, http.Header{}), ErrSignatureMissing)
}

func TestParseEvent(t *testing.T) {
	body := []byte(`{
	  "object": "event",
	  "id": "evnt_test_1",
	  "key": "charge.complete",
	  "created_at": "2025-01-10T12:00:00Z",
	  "data": {"object":"charge","id":"chrg_1","status":"successful","paid":true,"metadata":{"order_id":7},"source":{"charge_status":"successful"}}
	}`)

	ev, err := ParseEvent(body)
	require.NoError(t, err)
	assert.Equal(t, "evnt_test_1", ev.ID)
	assert.Equal(t, EventChargeComplete, ev.Key)
	assert.Equal(t, "chrg_1", ev.Charge.ChargeID)
	assert.Equal(t, int64(7), ev.Charge.OrderID)
	assert.Equal(t, OutcomeSuccess, ev.Charge.Outcome())

	_, err = ParseEvent([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = ParseEvent([]byte(`{"object":"event","id":"e","key":"charge.complete","data":{"object":"refund","id":"r"}}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		paid         bool
		status       string
		sourceStatus string
		want         Outcome
	}{
		{true, "successful", "successful", OutcomeSuccess},
		{true, "successful", "", OutcomeSuccess},
		{true, "pending", "successful", OutcomeSuccess},
		{false, "failed", "failed", OutcomeFailure},
		{false, "expired", "", OutcomeFailure},
		{false, "pending", "expired", OutcomeFailure},
		//ステータス同士が食い違い、paidでもない
		{false, "successful", "failed", OutcomeAmbiguous},
		{false, "pending", "pending", OutcomeAmbiguous},
		{true, "pending", "pending", OutcomeAmbiguous},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.paid, tt.status, tt.sourceStatus), "%v/%s/%s", tt.paid, tt.status, tt.sourceStatus)
	}
}
