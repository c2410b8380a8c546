package handler

import (
	"net/http"
	"time"

	"keyshop/internal/config"
	"keyshop/internal/usecase"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// ゲーム内スクリプトから叩かれる公開API
type KeyHandler struct {
	uc *usecase.KeyUsecase
}

func NewKeyHandler(uc *usecase.KeyUsecase) *KeyHandler {
	return &KeyHandler{uc: uc}
}

func (h *KeyHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/keys")
	g.Use(verifyRateLimiter(cfg.VerifyRateLimit))

	g.GET("/verify", h.verify)
}

// IPごとのレート制限
func verifyRateLimiter(perSecond float64) echo.MiddlewareFunc {
	burst := int(perSecond * 2)
	if burst < 1 {
		burst = 1
	}
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(perSecond),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many requests"})
		},
	})
}

func (h *KeyHandler) verify(c echo.Context) error {
	out, err := h.uc.ActivateOrVerify(c.Request().Context(), usecase.VerifyInput{
		Code:      c.QueryParam("key"),
		HWID:      c.QueryParam("hwid"),
		PlaceID:   c.QueryParam("placeId"),
		GameName:  c.QueryParam("gameName"),
		UserID:    c.QueryParam("userId"),
		UserName:  c.QueryParam("userName"),
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
