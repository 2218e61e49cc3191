package errors

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMalformedRecordError(t *testing.T) {
	cause := fmt.Errorf("parsing time \"yesterday\"")
	err := NewMalformedRecordError("stars.jsonl:12", "starred_at", cause)

	assert.Equal(t, CategoryMalformedRecord, err.Category)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
	assert.Equal(t, "stars.jsonl:12", err.Detail("source"))
	assert.Equal(t, "starred_at", err.Detail("field"))
	assert.Contains(t, err.Error(), "[MALFORMED_RECORD]")
	assert.True(t, IsMalformed(err))
	assert.False(t, IsDataIntegrity(err))
	assert.ErrorIs(t, err, cause)
}

func TestDataIntegrityError(t *testing.T) {
	err := NewDataIntegrityError("octocat", "starred before the account was created")

	assert.Equal(t, CategoryDataIntegrity, err.Category)
	assert.Equal(t, http.StatusUnprocessableEntity, err.HTTPStatus)
	assert.Equal(t, "octocat", err.Detail("account"))
	assert.Equal(t, `[DATA_INTEGRITY] account "octocat": starred before the account was created`, err.Error())

	wrapped := fmt.Errorf("normalize: %w", err)
	assert.True(t, IsDataIntegrity(wrapped))
}

func TestDegenerateStatisticsWarning(t *testing.T) {
	err := NewDegenerateStatisticsWarning("baseline", "standard deviation is zero")

	assert.True(t, IsDegenerate(err))
	assert.Equal(t, "baseline", err.Detail("subject"))
	assert.Empty(t, err.Detail("missing"))
}

func TestToAppError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCategory
	}{
		{"already an app error", NewValidationError("bad"), CategoryValidation},
		{"context cancelled", context.Canceled, CategoryTimeout},
		{"deadline exceeded", context.DeadlineExceeded, CategoryTimeout},
		{"connection refused", fmt.Errorf("dial tcp: connection refused"), CategoryNetwork},
		{"plain error", fmt.Errorf("boom"), CategoryInternal},
		{"body too large", fmt.Errorf("read: %w", &http.MaxBytesError{Limit: 10}), CategoryValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ToAppError(tt.err).Category)
		})
	}

	assert.Nil(t, ToAppError(nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, ToAppError(&http.MaxBytesError{Limit: 10}).HTTPStatus)
}

func TestRetryClassification(t *testing.T) {
	networkErr := NewNetworkError("connection failed", fmt.Errorf("connection refused"))
	assert.True(t, IsRetryableError(networkErr))
	assert.True(t, IsRetryableError(NewExternalAPIError("github", http.StatusBadGateway, nil)))
	assert.False(t, IsRetryableError(NewValidationError("bad input")))
	assert.False(t, IsRetryableError(NewDataIntegrityError("a", "b")))

	assert.True(t, IsRetryableError(NewRateLimitError(time.Minute)))

	assert.Equal(t, 90*time.Second, RetryAfter(NewRateLimitError(90*time.Second)))
	assert.Equal(t, 90*time.Second, RetryAfter(fmt.Errorf("fetch: %w", NewRateLimitError(90*time.Second))))
	assert.Zero(t, RetryAfter(networkErr))
}

func TestErrorHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/fail", func(c *gin.Context) {
		_ = c.Error(NewDataIntegrityError("ghost", "duplicate star"))
	})

	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/fail", nil)
	require.NoError(t, err)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "data_integrity")
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "ignored"))

	base := fmt.Errorf("disk full")
	wrapped := WrapError(base, "saving run %s", "abc")
	assert.EqualError(t, wrapped, "saving run abc: disk full")
	assert.ErrorIs(t, wrapped, base)
}
