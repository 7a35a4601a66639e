package retry

import (
	"context"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

// CheckRetry adapts the transfer error classification to the hook shape
// retryablehttp expects: transient statuses and connection resets are
// repeated, every other outcome fails fast.
func CheckRetry(logger log.Logger) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, callErr error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if callErr != nil {
			if ShouldRetry(callErr) {
				logger.Debugf("CheckRetry: transient transport error: %+v", callErr)
				return true, nil
			}
			return retryablehttp.DefaultRetryPolicy(ctx, resp, callErr)
		}
		if resp != nil && ShouldRetry(ParseAPIError(resp.StatusCode, nil)) {
			logger.Debugf("CheckRetry: transient status %d", resp.StatusCode)
			return true, nil
		}
		return false, nil
	}
}
