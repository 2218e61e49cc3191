package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"
)

// ErrorCategory defines the type of error for proper handling
type ErrorCategory string

const (
	CategoryMalformedRecord      ErrorCategory = "malformed_record"
	CategoryDataIntegrity        ErrorCategory = "data_integrity"
	CategoryDegenerateStatistics ErrorCategory = "degenerate_statistics"
	CategoryValidation           ErrorCategory = "validation"
	CategoryNetwork              ErrorCategory = "network"
	CategoryTimeout              ErrorCategory = "timeout"
	CategoryRateLimit            ErrorCategory = "rate_limit"
	CategoryInternal             ErrorCategory = "internal"
	CategoryExternalAPI          ErrorCategory = "external_api"
	CategoryConfiguration        ErrorCategory = "configuration"
)

// AppError wraps an errbuilder error with a category and the HTTP status it maps to
type AppError struct {
	*errbuilder.ErrBuilder
	Category   ErrorCategory     `json:"category"`
	HTTPStatus int               `json:"http_status"`
	Timestamp  time.Time         `json:"timestamp"`
	Fields     map[string]string `json:"fields,omitempty"`
	StackTrace string            `json:"stack_trace,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	codeStr := "UNKNOWN_ERROR"
	switch e.Category {
	case CategoryMalformedRecord:
		codeStr = "MALFORMED_RECORD"
	case CategoryDataIntegrity:
		codeStr = "DATA_INTEGRITY"
	case CategoryDegenerateStatistics:
		codeStr = "DEGENERATE_STATISTICS"
	case CategoryValidation:
		codeStr = "VALIDATION_ERROR"
	case CategoryNetwork, CategoryExternalAPI:
		codeStr = "NETWORK_ERROR"
	case CategoryTimeout:
		codeStr = "TIMEOUT_ERROR"
	case CategoryRateLimit:
		codeStr = "RATE_LIMIT_EXCEEDED"
	case CategoryInternal:
		codeStr = "INTERNAL_ERROR"
	case CategoryConfiguration:
		codeStr = "CONFIGURATION_ERROR"
	}

	return fmt.Sprintf("[%s] %s", codeStr, e.ErrBuilder.Msg)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.ErrBuilder.Unwrap()
}

// Detail returns a single detail value recorded on the error, or "" if absent
func (e *AppError) Detail(key string) string {
	return e.Fields[key]
}

// NewAppError creates an AppError from errbuilder with additional context
func NewAppError(builder *errbuilder.ErrBuilder, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		ErrBuilder: builder,
		Category:   category,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now(),
	}
}

func withDetails(builder *errbuilder.ErrBuilder, kv map[string]string) *errbuilder.ErrBuilder {
	errorMap := errbuilder.ErrorMap{}
	for key, value := range kv {
		errorMap.Set(key, errors.New(value))
	}
	return builder.WithDetails(errbuilder.NewErrDetails(errorMap))
}

// NewMalformedRecordError reports a single input record that cannot be parsed.
// Callers skip the record and count it; it never aborts a run.
func NewMalformedRecordError(source, field string, cause error) *AppError {
	msg := fmt.Sprintf("record %s: invalid %s", source, field)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}

	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(msg)
	builder = withDetails(builder, map[string]string{"source": source, "field": field})

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	appErr := NewAppError(builder, CategoryMalformedRecord, http.StatusBadRequest)
	appErr.Fields = map[string]string{"source": source, "field": field}
	return appErr
}

// NewDataIntegrityError reports a corrupted input batch; the run must stop.
func NewDataIntegrityError(accountID, message string) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(fmt.Sprintf("account %q: %s", accountID, message))
	builder = withDetails(builder, map[string]string{"account": accountID})

	appErr := NewAppError(builder, CategoryDataIntegrity, http.StatusUnprocessableEntity)
	appErr.Fields = map[string]string{"account": accountID}
	return appErr
}

// NewDegenerateStatisticsWarning reports a statistic computed with a sentinel value
// (zero standard deviation, zero-length period). It is surfaced, never fatal.
func NewDegenerateStatisticsWarning(subject, message string) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(fmt.Sprintf("%s: %s", subject, message))
	builder = withDetails(builder, map[string]string{"subject": subject})

	appErr := NewAppError(builder, CategoryDegenerateStatistics, http.StatusOK)
	appErr.Fields = map[string]string{"subject": subject}
	return appErr
}

// NewValidationError creates a validation error using errbuilder
func NewValidationError(message string, details ...interface{}) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(message)

	if len(details) > 0 {
		builder = withDetails(builder, map[string]string{
			"validation_details": fmt.Sprintf("%v", details[0]),
		})
	}

	return NewAppError(builder, CategoryValidation, http.StatusBadRequest)
}

// NewNetworkError creates a network error using errbuilder
func NewNetworkError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeUnavailable).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryNetwork, http.StatusBadGateway)
}

// NewTimeoutError creates a timeout error using errbuilder
func NewTimeoutError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeDeadlineExceeded).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryTimeout, http.StatusGatewayTimeout)
}

// NewRateLimitError creates a rate limit error using errbuilder
func NewRateLimitError(retryAfter time.Duration) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeResourceExhausted).
		WithMsg("Rate limit exceeded")
	builder = withDetails(builder, map[string]string{"retry_after": retryAfter.String()})

	appErr := NewAppError(builder, CategoryRateLimit, http.StatusTooManyRequests)
	appErr.Fields = map[string]string{"retry_after": retryAfter.String()}
	return appErr
}

// RetryAfter returns the wait hinted by a rate limit error, or zero.
func RetryAfter(err error) time.Duration {
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Category != CategoryRateLimit {
		return 0
	}
	d, _ := time.ParseDuration(appErr.Fields["retry_after"])
	return d
}

// NewExternalAPIError creates an external API error using errbuilder
func NewExternalAPIError(apiName string, statusCode int, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeUnavailable).
		WithMsg(fmt.Sprintf("%s API error (status %d)", apiName, statusCode))
	builder = withDetails(builder, map[string]string{
		"api_name":    apiName,
		"status_code": strconv.Itoa(statusCode),
	})

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryExternalAPI, http.StatusBadGateway)
}

// NewInternalError creates an internal error using errbuilder
func NewInternalError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	appErr := NewAppError(builder, CategoryInternal, http.StatusInternalServerError)

	if gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode {
		appErr.StackTrace = captureStackTrace()
	}

	return appErr
}

// NewConfigurationError creates a configuration error using errbuilder
func NewConfigurationError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryConfiguration, http.StatusInternalServerError)
}

func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// CategoryOf returns the category of err if it wraps an AppError
func CategoryOf(err error) (ErrorCategory, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Category, true
	}
	return "", false
}

// IsMalformed reports whether err is a skip-and-count record error
func IsMalformed(err error) bool {
	c, ok := CategoryOf(err)
	return ok && c == CategoryMalformedRecord
}

// IsDataIntegrity reports whether err aborts a run because the batch is corrupt
func IsDataIntegrity(err error) bool {
	c, ok := CategoryOf(err)
	return ok && c == CategoryDataIntegrity
}

// IsDegenerate reports whether err is a degenerate-statistics warning
func IsDegenerate(err error) bool {
	c, ok := CategoryOf(err)
	return ok && c == CategoryDegenerateStatistics
}

// ErrorHandler is a Gin middleware that provides centralized error handling
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			appErr := ToAppError(c.Errors.Last().Err)
			LogError(c, appErr)
			c.JSON(appErr.HTTPStatus, gin.H{
				"error":    appErr.Error(),
				"category": appErr.Category,
			})
		}
	}
}

// RecoveryHandler provides panic recovery with structured error responses
func RecoveryHandler() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err interface{}) {
		appErr := NewInternalError(fmt.Sprintf("Panic recovered: %v", err), fmt.Errorf("%v", err))
		appErr.StackTrace = captureStackTrace()

		LogError(c, appErr)
		c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
			"error":    appErr.Error(),
			"category": appErr.Category,
		})
	})
}

// ToAppError converts any error to an AppError
func ToAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if ebErr, ok := err.(*errbuilder.ErrBuilder); ok {
		return NewAppError(ebErr, CategoryInternal, http.StatusInternalServerError)
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		appErr := NewValidationError("request body too large", tooLarge.Limit)
		appErr.HTTPStatus = http.StatusRequestEntityTooLarge
		return appErr
	}

	if errors.Is(err, context.Canceled) {
		return NewTimeoutError("Request cancelled", err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("Request deadline exceeded", err)
	}

	errMsg := err.Error()

	if strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "no such host") ||
		strings.Contains(errMsg, "network is unreachable") {
		return NewNetworkError("Network connection failed", err)
	}

	if strings.Contains(errMsg, "timeout") {
		return NewTimeoutError("Request timeout", err)
	}

	return NewInternalError("An unexpected error occurred", err)
}

// LogError logs an error with appropriate level and context
func LogError(c *gin.Context, err *AppError) {
	logEntry := slog.With(
		"error_category", err.Category,
		"error_code", err.ErrBuilder.ErrCode(),
		"http_status", err.HTTPStatus,
		"ip", c.ClientIP(),
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
	)

	switch err.Category {
	case CategoryValidation, CategoryRateLimit, CategoryMalformedRecord, CategoryDataIntegrity:
		logEntry.Warn(err.ErrBuilder.Msg)
	case CategoryNetwork, CategoryTimeout, CategoryExternalAPI:
		if cause := err.ErrBuilder.Unwrap(); cause != nil {
			logEntry.Info(err.ErrBuilder.Msg, "cause", cause)
		} else {
			logEntry.Info(err.ErrBuilder.Msg)
		}
	default:
		if cause := err.ErrBuilder.Unwrap(); cause != nil {
			logEntry.Error(err.ErrBuilder.Msg, "cause", cause)
		} else {
			logEntry.Error(err.ErrBuilder.Msg)
		}
	}

	if err.StackTrace != "" && (gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode) {
		logEntry.Debug("stack_trace", "trace", err.StackTrace)
	}
}

// IsRetryableError checks if an error should trigger a retry
func IsRetryableError(err error) bool {
	switch ToAppError(err).Category {
	case CategoryNetwork, CategoryTimeout, CategoryExternalAPI, CategoryRateLimit:
		return true
	default:
		return false
	}
}

// WrapError wraps an error with additional context
func WrapError(err error, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", fmt.Sprintf(message, args...), err)
}

// SafeClose safely closes a resource and logs any errors
func SafeClose(closer interface{ Close() error }, resourceName string) {
	if closer == nil {
		return
	}

	if err := closer.Close(); err != nil {
		slog.Warn("Failed to close resource", "resource", resourceName, "error", err)
	}
}
