package handler

import (
	"io"
	"net/http"

	"keyshop/internal/usecase"

	"github.com/labstack/echo/v4"
)

const maxWebhookBody = 1 << 20

// プロバイダからのコールバック。署名検証のため生のbodyを渡す
type WebhookHandler struct {
	uc *usecase.PaymentUsecase
}

func NewWebhookHandler(uc *usecase.PaymentUsecase) *WebhookHandler {
	return &WebhookHandler{uc: uc}
}

func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhooks/omise", h.omise)
}

func (h *WebhookHandler) omise(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if len(body) > maxWebhookBody {
		return c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large"})
	}

	out, err := h.uc.HandleWebhook(c.Request().Context(), body, c.Request().Header)
	if err != nil {
		//5xxならプロバイダが再送する
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
