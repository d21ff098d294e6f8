package apiErrors

import "fmt"

type ErrorCode string

const (
	RateLimited         ErrorCode = "RATE_LIMITED"
	InvalidQuery        ErrorCode = "INVALID_QUERY"
	RequestFailed       ErrorCode = "REQUEST_FAILED"
	NetworkError        ErrorCode = "NETWORK_ERROR"
	NotConfigured       ErrorCode = "NOT_CONFIGURED"
	InvalidState        ErrorCode = "INVALID_STATE"
	TokenExchangeFailed ErrorCode = "TOKEN_EXCHANGE_FAILED"
	ProfileFetchFailed  ErrorCode = "PROFILE_FETCH_FAILED"
	NotFound            ErrorCode = "NOT_FOUND"
	InternalError       ErrorCode = "INTERNAL_ERROR"
)

type APIError struct {
	Code    ErrorCode
	Message string
	// Status carries the upstream HTTP status for REQUEST_FAILED.
	Status int
}

func (e APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("[%s] %s (status %d)", e.Code, e.Message, e.Status)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}
