package usecase

import (
	"errors"
	"fmt"
	"net/http"

	"keyshop/internal/payment"
)

type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

// 呼び出し側がerrors.Isで判定できるよう固定のインスタンスにしておく
var (
	ErrUnauthorized = &HTTPError{Status: http.StatusUnauthorized, Message: "unauthorized"}
	ErrNotFound     = &HTTPError{Status: http.StatusNotFound, Message: "not found"}
	ErrDB           = &HTTPError{Status: http.StatusInternalServerError, Message: "db error"}

	ErrInsufficientStock = &HTTPError{Status: http.StatusBadRequest, Message: "insufficient stock"}
	ErrAmountOutOfRange  = &HTTPError{Status: http.StatusBadRequest, Message: "amount must be between 20.00 and 150000.00 THB"}
	ErrAmountMismatch    = &HTTPError{Status: http.StatusBadRequest, Message: "amount does not match order total"}
	ErrInvalidAmount     = &HTTPError{Status: http.StatusBadRequest, Message: "invalid amount"}

	ErrCreationConflict = &HTTPError{Status: http.StatusConflict, Message: "order creation conflict"}
	ErrStateConflict    = &HTTPError{Status: http.StatusConflict, Message: "order state conflict"}

	ErrGatewayAuthFailure = &HTTPError{Status: http.StatusBadGateway, Message: "payment provider authentication failed"}
	ErrGatewayBadRequest  = &HTTPError{Status: http.StatusBadRequest, Message: "payment provider rejected the request"}
	ErrGatewayRateLimited = &HTTPError{Status: http.StatusTooManyRequests, Message: "payment provider rate limited, try again later"}
	ErrGatewayUnknown     = &HTTPError{Status: http.StatusBadGateway, Message: "payment provider error"}

	ErrKeyGenerationExhausted = &HTTPError{Status: http.StatusInternalServerError, Message: "could not generate a unique key"}
	ErrKeyNotFound            = &HTTPError{Status: http.StatusNotFound, Message: "key not found"}
	ErrKeyInactive            = &HTTPError{Status: http.StatusForbidden, Message: "key is inactive"}
	ErrKeyExpired             = &HTTPError{Status: http.StatusGone, Message: "key expired"}
)

// ゲートウェイのエラーをHTTPの種類に寄せる
func gatewayError(err error) error {
	switch {
	case errors.Is(err, payment.ErrAmountOutOfRange):
		return ErrAmountOutOfRange
	case errors.Is(err, payment.ErrInvalidAmount):
		return ErrInvalidAmount
	case errors.Is(err, payment.ErrGatewayAuthFailure):
		return ErrGatewayAuthFailure
	case errors.Is(err, payment.ErrGatewayBadRequest):
		return ErrGatewayBadRequest
	case errors.Is(err, payment.ErrGatewayRateLimited):
		return ErrGatewayRateLimited
	default:
		return ErrGatewayUnknown
	}
}
