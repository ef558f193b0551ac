package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/debridget/internal/domain"
)

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code"`
}

var statusByCode = map[domain.ErrorCode]int{
	domain.ErrCodeInvalidPayload:    http.StatusBadRequest,
	domain.ErrCodeProviderMismatch:  http.StatusBadRequest,
	domain.ErrCodeNotFound:          http.StatusNotFound,
	domain.ErrCodeProviderNotFound:  http.StatusNotFound,
	domain.ErrCodeJobNotReady:       http.StatusConflict,
	domain.ErrCodeJobTerminal:       http.StatusConflict,
	domain.ErrCodeInvalidTransition: http.StatusConflict,
	domain.ErrCodeVersionConflict:   http.StatusConflict,
	domain.ErrCodeAlreadyRegistered: http.StatusConflict,
	domain.ErrCodeTimeout:           http.StatusGatewayTimeout,
	domain.ErrCodeNetwork:           http.StatusBadGateway,
	domain.ErrCodeAPI:               http.StatusBadGateway,
	domain.ErrCodeUnknown:           http.StatusBadGateway,
}

// HTTPStatus maps an error to the status code it is reported with
func HTTPStatus(err error) int {
	if status, ok := statusByCode[domain.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError writes err as an ErrorResponse
func respondError(c *gin.Context, err error) {
	code := domain.CodeOf(err)
	if code == "" {
		code = domain.ErrCodeUnknown
	}
	c.JSON(HTTPStatus(err), ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: msg,
		Code:  domain.ErrCodeInvalidPayload,
	})
}
