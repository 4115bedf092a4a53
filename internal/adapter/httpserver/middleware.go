package httpserver

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/racecontrol/internal/adapter/metrics"
	"github.com/pscheid92/racecontrol/internal/domain"
	"github.com/pscheid92/racecontrol/internal/platform/correlation"
	apperrors "github.com/pscheid92/racecontrol/internal/platform/errors"
)

// correlationMiddleware reuses a caller-supplied correlation ID when it looks
// sane and echoes it back on the response.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.FromHeader(c.Request().Header.Get(correlation.Header))
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlation.Header, id)
		return next(c)
	}
}

// ErrorHandlingMiddleware turns handler errors into structured JSON
// responses. echo's own HTTP errors pass through to the default handler.
func ErrorHandlingMiddleware(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}

			structuredErr := apperrors.AsStructuredError(err)
			logError(c, structuredErr)
			if m != nil {
				m.ErrorsTotal.WithLabelValues(string(structuredErr.Type)).Inc()
			}

			if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

func logError(c echo.Context, err *apperrors.Error) {
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	ctx := c.Request().Context()
	switch err.Type {
	case apperrors.TypeValidation:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.InfoContext(ctx, "Validation error", attrs...)
	case apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Not found", attrs...)
	case apperrors.TypeConflict:
		slog.WarnContext(ctx, "Conflict", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}

// sessionError maps a lifecycle failure to the structured error the client
// sees. Already-exists is a validation error, matching what clients of the
// start endpoint have always received.
func sessionError(err error, name, failure string) *apperrors.Error {
	var apiErr *apperrors.Error
	switch {
	case errors.Is(err, domain.ErrInvalidSessionName):
		apiErr = apperrors.ValidationError(fmt.Sprintf("Invalid session name '%s'", name), err)
	case errors.Is(err, domain.ErrSessionExists):
		apiErr = apperrors.ValidationError(fmt.Sprintf("Session '%s' already exists", name), err)
	case errors.Is(err, domain.ErrSessionNotFound):
		apiErr = apperrors.NotFoundError(fmt.Sprintf("Session '%s' not found", name), err)
	case errors.Is(err, domain.ErrActivationConflict):
		apiErr = apperrors.ConflictError("Another session was activated concurrently, retry", err)
	case errors.Is(err, domain.ErrUnsupportedFormat):
		apiErr = apperrors.ValidationError("Format must be 'json', 'csv' or 'excel'", err)
	default:
		apiErr = apperrors.InternalError(failure, err)
	}
	return apiErr.WithContext("session", name)
}
