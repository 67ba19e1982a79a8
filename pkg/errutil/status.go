package errutil

import "net/http"

type CoreStatus string

const (
	StatusBadRequest          CoreStatus = "bad_request"
	StatusValidationFailed    CoreStatus = "validation_failed"
	StatusUnauthorized        CoreStatus = "unauthorized"
	StatusNotFound            CoreStatus = "not_found"
	StatusUnprocessableEntity CoreStatus = "unprocessable_entity"
	StatusConflict            CoreStatus = "conflict"
	StatusTooManyRequests     CoreStatus = "too_many_requests"
	StatusInternal            CoreStatus = "internal"
	StatusServiceUnavailable  CoreStatus = "service_unavailable"
	StatusTimeout             CoreStatus = "timeout"
)

// HTTPStatus converts the CoreStatus to its HTTP status code.
func (s CoreStatus) HTTPStatus() int {
	switch s {
	case StatusBadRequest, StatusValidationFailed:
		return http.StatusBadRequest
	case StatusUnauthorized:
		return http.StatusUnauthorized
	case StatusNotFound:
		return http.StatusNotFound
	case StatusUnprocessableEntity:
		return http.StatusUnprocessableEntity
	case StatusConflict:
		return http.StatusConflict
	case StatusTooManyRequests:
		return http.StatusTooManyRequests
	case StatusServiceUnavailable:
		return http.StatusServiceUnavailable
	case StatusTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
