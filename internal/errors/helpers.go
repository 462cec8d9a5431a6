package errors

import (
	"fmt"
	"net/http"
)

// NewValidationError rejects a request field. The offending value is kept
// for logs under a key that never reaches the response.
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewDatabaseError reports a failed queue store operation.
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewStoreBusyError reports an operation that kept losing a lock race. The
// request itself was fine and may be repeated.
func NewStoreBusyError(operation string, err error) *AppError {
	appErr := Wrap(err, ErrCodeDatabaseBusy, fmt.Sprintf("database %s contended", operation)).
		WithContext("operation", operation).
		WithUserMessage("The message store is busy, please retry")
	appErr.Retryable = true
	return appErr
}

func NewAuthError(reason string) *AppError {
	return New(ErrCodeAuthentication, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("Authentication failed")
}

func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// HTTPStatusCode maps an error onto the API status code.
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeDatabaseQuery, ErrCodeDatabaseBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON error envelope returned by the API.
type HTTPErrorResponse struct {
	Error struct {
		Code      ErrorCode   `json:"code"`
		Message   string      `json:"message"`
		Retryable bool        `json:"retryable,omitempty"`
		Context   interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// sensitiveContextKeys are logged but never returned. "value" carries raw
// destinations and message content from validation errors.
var sensitiveContextKeys = map[string]bool{
	"password": true,
	"token":    true,
	"secret":   true,
	"value":    true,
}

func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{RequestID: requestID}
	response.Error.Code = GetCode(err)
	response.Error.Message = GetUserMessage(err)

	appErr, ok := As(err)
	if !ok {
		return response
	}
	response.Error.Retryable = appErr.Retryable

	publicContext := make(map[string]interface{})
	for k, v := range appErr.Context {
		if !sensitiveContextKeys[k] {
			publicContext[k] = v
		}
	}
	if len(publicContext) > 0 {
		response.Error.Context = publicContext
	}
	return response
}
