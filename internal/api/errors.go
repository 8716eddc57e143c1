package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxErrorBody bounds how much of an error response is kept for messages.
const maxErrorBody = 4 << 10

// Category classifies a failed request by its HTTP status.
type Category string

const (
	CategoryUnauthorized Category = "unauthorized"
	CategoryForbidden    Category = "forbidden"
	CategoryNotFound     Category = "not_found"
	CategoryTooLarge     Category = "too_large"
	CategoryRateLimited  Category = "rate_limited"
	CategoryConflict     Category = "conflict"
	CategoryServer       Category = "server"
	CategoryClient       Category = "client"
)

// CategoryFor maps an HTTP status code to a Category.
func CategoryFor(status int) Category {
	switch {
	case status == http.StatusUnauthorized:
		return CategoryUnauthorized
	case status == http.StatusForbidden:
		return CategoryForbidden
	case status == http.StatusNotFound:
		return CategoryNotFound
	case status == http.StatusRequestEntityTooLarge:
		return CategoryTooLarge
	case status == http.StatusTooManyRequests:
		return CategoryRateLimited
	case status == http.StatusConflict:
		return CategoryConflict
	case status >= 500:
		return CategoryServer
	default:
		return CategoryClient
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Method   string
	Path     string
	Status   int
	Category Category
	// Code is the machine-readable error field, when the server sent one.
	Code    string
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s %s failed (%d %s): %s", e.Method, e.Path, e.Status, e.Category, msg)
}

func newAPIError(method, path string, resp *http.Response) *APIError {
	apiErr := &APIError{
		Method:   method,
		Path:     path,
		Status:   resp.StatusCode,
		Category: CategoryFor(resp.StatusCode),
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		apiErr.Code = body.Error
		switch {
		case body.Message != "":
			apiErr.Message = body.Message
		case body.ErrorDescription != "":
			apiErr.Message = body.ErrorDescription
		default:
			apiErr.Message = body.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

// HasCategory reports whether err is an APIError of the given category.
func HasCategory(err error, category Category) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Category == category
}

// TimeoutError means a bounded wait ended without a known outcome.
type TimeoutError struct {
	Operation string
	ID        string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s did not finish within %s; the outcome is unknown", e.Operation, e.ID, e.After)
}

// AnalysisFailedError means the server reported a failed or cancelled analysis.
type AnalysisFailedError struct {
	ID      string
	Status  AnalysisStatus
	Message string
}

func (e *AnalysisFailedError) Error() string {
	if e.Status == AnalysisCancelled {
		return fmt.Sprintf("analysis %s was cancelled", e.ID)
	}
	if e.Message == "" {
		return fmt.Sprintf("analysis %s failed", e.ID)
	}
	return fmt.Sprintf("analysis %s failed: %s", e.ID, e.Message)
}
