package kanunicli

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/oremus-labs/kanuni/internal/api"
	"github.com/oremus-labs/kanuni/internal/auth"
	"github.com/oremus-labs/kanuni/internal/progress"
)

// describeError turns an error into a line a user can act on.
func describeError(err error) string {
	if err == nil {
		return ""
	}
	var (
		apiErr     *api.APIError
		timeoutErr *api.TimeoutError
		failedErr  *api.AnalysisFailedError
		connErr    *progress.ConnectivityError
		subErr     *progress.SubscriptionError
		netErr     net.Error
	)
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		return "not logged in (run 'kanuni auth login')"
	case errors.Is(err, auth.ErrCorruptCredentials):
		return fmt.Sprintf("stored credentials are unreadable; run 'kanuni auth login' to replace them (%v)", err)
	case errors.Is(err, api.ErrAccessDenied):
		return "login was denied in the browser"
	case errors.Is(err, api.ErrDeviceCodeExpired):
		return "the login code expired before it was approved; run 'kanuni auth login' again"
	case auth.IsAuthError(err):
		return err.Error()
	case errors.As(err, &apiErr):
		return describeAPIError(apiErr)
	case errors.As(err, &timeoutErr):
		return fmt.Sprintf("%v (check again later with 'kanuni analyze --document-id')", err)
	case errors.As(err, &failedErr):
		return err.Error()
	case errors.As(err, &subErr):
		return fmt.Sprintf("progress subscription failed: %v", subErr.Err)
	case errors.As(err, &connErr):
		if connErr.Fatal {
			return fmt.Sprintf("lost the progress stream after %d reconnect attempts (%v); results are still available via REST", connErr.Attempts, connErr.Err)
		}
		return fmt.Sprintf("progress stream unavailable: %v", connErr.Err)
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	case errors.Is(err, context.Canceled):
		return "operation cancelled"
	case errors.As(err, &netErr):
		return fmt.Sprintf("cannot reach the API at %s: %v", appEndpoint(), err)
	}
	return err.Error()
}

func describeAPIError(e *api.APIError) string {
	detail := e.Message
	if detail == "" {
		detail = fmt.Sprintf("HTTP %d", e.Status)
	}
	switch e.Category {
	case api.CategoryUnauthorized:
		return fmt.Sprintf("authentication rejected: %s (run 'kanuni auth login')", detail)
	case api.CategoryForbidden:
		return "permission denied: " + detail
	case api.CategoryNotFound:
		return "not found: " + detail
	case api.CategoryTooLarge:
		return "file too large for upload: " + detail
	case api.CategoryRateLimited:
		return "rate limited by the API, try again shortly: " + detail
	case api.CategoryConflict:
		return "conflict: " + detail
	case api.CategoryServer:
		return fmt.Sprintf("server error (%d): %s", e.Status, detail)
	default:
		return e.Error()
	}
}

func appEndpoint() string {
	if appConfig == nil {
		return "the configured endpoint"
	}
	return appConfig.APIEndpoint
}
