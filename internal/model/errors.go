package model

import (
	"errors"
	"net/http"
)

// APIError domain error carrying the reason code and HTTP status surfaced to callers
type APIError struct {
	Code       string
	HTTPStatus int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Is matches on reason code so that a derived error still equals its sentinel
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.HTTPStatus == t.HTTPStatus
}

// WithMessage returns a copy of e with a request-specific message
func (e *APIError) WithMessage(msg string) *APIError {
	return &APIError{Code: e.Code, HTTPStatus: e.HTTPStatus, Message: msg}
}

// Reason codes
const (
	CodeStageNotFound     = "StageNotFound"
	CodeBucketNameMissing = "BucketNameMissing"
	CodeAssetNotFound     = "AssetNotFound"
	CodeVpAlreadyAssigned = "VpAlreadyAssigned"
	CodeVpNotAvailable    = "VpNotAvailable"
	CodeVpNotFound        = "VpNotFound"
	CodeInvalidRequest    = "InvalidRequest"
	CodeInternalError     = "InternalError"
)

var (
	ErrStageNotFound     = &APIError{Code: CodeStageNotFound, HTTPStatus: http.StatusNotFound, Message: "stage not found"}
	ErrBucketNameMissing = &APIError{Code: CodeBucketNameMissing, HTTPStatus: http.StatusNotFound, Message: "asset bucket name is not configured"}
	ErrAssetNotFound     = &APIError{Code: CodeAssetNotFound, HTTPStatus: http.StatusNotFound, Message: "asset not found"}
	// ErrStageOccupied the stage already has a worker (pre-check)
	ErrStageOccupied = &APIError{Code: CodeVpAlreadyAssigned, HTTPStatus: http.StatusNotFound, Message: "stage already has a virtual participant"}
	// ErrVpAlreadyAssigned the claim lost a race for the selected worker
	ErrVpAlreadyAssigned = &APIError{Code: CodeVpAlreadyAssigned, HTTPStatus: http.StatusConflict, Message: "virtual participant was claimed concurrently"}
	ErrVpNotAvailable    = &APIError{Code: CodeVpNotAvailable, HTTPStatus: http.StatusNotFound, Message: "no virtual participant available"}
	ErrVpNotFound        = &APIError{Code: CodeVpNotFound, HTTPStatus: http.StatusNotFound, Message: "no virtual participant assigned to stage"}
	ErrInvalidRequest    = &APIError{Code: CodeInvalidRequest, HTTPStatus: http.StatusBadRequest, Message: "invalid request"}
)

// Store and orchestrator errors
var (
	ErrWorkerNotFound  = errors.New("worker not found")
	ErrAlreadyExists   = errors.New("record already exists")
	ErrConditionFailed = errors.New("conditional check failed")
	ErrLaunchFailed    = errors.New("orchestrator returned no task handle")
	ErrInvalidField    = errors.New("unsupported field value")
)

// AsAPIError maps err onto the API error it wraps, InternalError otherwise
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &APIError{Code: CodeInternalError, HTTPStatus: http.StatusInternalServerError, Message: err.Error()}
}
