package retry

import (
	"context"
	"fmt"
	"net/http"
	"syscall"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckRetry(t *testing.T) {
	check := CheckRetry(log.NewLogger())
	ctx := context.Background()

	retryIt, err := check(ctx, &http.Response{StatusCode: http.StatusServiceUnavailable}, nil)
	require.NoError(t, err)
	assert.True(t, retryIt)

	retryIt, err = check(ctx, &http.Response{StatusCode: http.StatusForbidden}, nil)
	require.NoError(t, err)
	assert.False(t, retryIt)

	retryIt, err = check(ctx, nil, fmt.Errorf("write tcp: %w", syscall.ECONNRESET))
	require.NoError(t, err)
	assert.True(t, retryIt)
}

func TestCheckRetry_CancelledContext(t *testing.T) {
	check := CheckRetry(log.NewLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	retryIt, err := check(ctx, &http.Response{StatusCode: http.StatusServiceUnavailable}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, retryIt)
}
