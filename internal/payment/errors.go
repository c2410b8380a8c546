package payment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAmountOutOfRange = errors.New("amount out of range")
	ErrInvalidAmount    = errors.New("invalid amount")

	ErrGatewayAuthFailure = errors.New("gateway authentication failure")
	ErrGatewayBadRequest  = errors.New("gateway bad request")
	ErrGatewayRateLimited = errors.New("gateway rate limited")
	ErrGatewayUnknown     = errors.New("gateway unknown error")

	ErrSignatureMissing = errors.New("webhook signature missing")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
)

// GatewayErrorはプロバイダのエラーを分類したもの。errors.IsでKindと比較できる
type GatewayError struct {
	Kind       error
	StatusCode int
	Code       string
	Message    string
}

func (e *GatewayError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%v (http %d)", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%v (http %d, %s: %s)", e.Kind, e.StatusCode, e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Kind
}

// HTTPステータスとエラーコードから種類を決める
func classify(status int, code string) error {
	switch {
	case status == 401 || status == 403 || code == "authentication_failure":
		return ErrGatewayAuthFailure
	case status == 429 || code == "too_many_requests" || code == "rate_limit_exceeded":
		return ErrGatewayRateLimited
	case status == 400 || status == 404 || status == 422 || code == "bad_request" || strings.HasPrefix(code, "invalid_"):
		return ErrGatewayBadRequest
	default:
		return ErrGatewayUnknown
	}
}
