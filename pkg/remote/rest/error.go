package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"

	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
)

// PostgREST error codes the sync layer cares about
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeCheckViolation      = "23514"
	CodeNoRows              = "PGRST116"
)

// APIError is an error body returned by the backend
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Hint       string `json:"hint,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s (details: %s)", e.StatusCode, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s: %s", e.StatusCode, e.Code, e.Message)
}

// ParseError parses an error response from the backend
func ParseError(resp *resty.Response) *APIError {
	statusCode := resp.StatusCode()

	var apiErr APIError
	if err := json.Unmarshal(resp.Body(), &apiErr); err == nil && (apiErr.Code != "" || apiErr.Message != "") {
		apiErr.StatusCode = statusCode
		return &apiErr
	}

	return &APIError{
		Code:       "unknown_error",
		Message:    string(resp.Body()),
		StatusCode: statusCode,
	}
}

// classify maps a failed response onto the sync error taxonomy
func classify(resp *resty.Response) error {
	apiErr := ParseError(resp)
	status := resp.StatusCode()

	var err *serrors.SyncError
	switch {
	case status == http.StatusConflict || apiErr.Code == CodeUniqueViolation:
		err = serrors.ConflictError(apiErr.Message, apiErr)
	case apiErr.Code == CodeNoRows || status == http.StatusNotFound:
		err = serrors.New(serrors.ErrorTypeNotFound, apiErr.Message, apiErr)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		err = serrors.New(serrors.ErrorTypeValidation, apiErr.Message, apiErr)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		err = serrors.AuthError(apiErr.Message)
		err.Cause = apiErr
	case status == http.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(resp.Header().Get("Retry-After"))
		if retryAfter <= 0 {
			retryAfter = 60
		}
		err = serrors.RateLimitError(retryAfter)
		err.Cause = apiErr
	default:
		err = serrors.TransientFetchError(apiErr)
	}
	err.Code = apiErr.Code
	return err.WithStatus(status)
}

// IsUniqueViolation reports whether err came from a duplicate insert
func IsUniqueViolation(err error) bool {
	var syncErr *serrors.SyncError
	if !errors.As(err, &syncErr) {
		return false
	}
	return syncErr.Code == CodeUniqueViolation
}
