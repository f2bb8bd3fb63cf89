package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rfblock/hackagotchi/internal/market"
)

// Error codes returned in the envelope
const (
	CodeInvalidCategory  = "invalid_category"
	CodeInvalidID        = "invalid_id"
	CodeInvalidRequest   = "invalid_request"
	CodeItemNotFound     = "item_not_found"
	CodeEmptyResponse    = "empty_response"
	CodeStoreUnavailable = "store_unavailable"
	CodeUnhealthy        = "unhealthy"
	CodeInternal         = "internal"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{
		Error: APIError{
			Code:    code,
			Message: msg,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// respondMarketError maps a market error onto a status and code
func respondMarketError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, market.ErrItemNotFound):
		RespondError(c, http.StatusNotFound, CodeItemNotFound, err)
	case errors.Is(err, market.ErrEmptyResponse):
		RespondError(c, http.StatusBadGateway, CodeEmptyResponse, err)
	case errors.Is(err, market.ErrStoreUnavailable):
		RespondError(c, http.StatusServiceUnavailable, CodeStoreUnavailable, err)
	default:
		RespondError(c, http.StatusInternalServerError, CodeInternal, err)
	}
}
