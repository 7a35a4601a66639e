// Package network executes the requests the protocol state machines render,
// over a retrying HTTP client, and feeds the responses back to them.
package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bitrise-io/go-transferutils/transfer"
	"github.com/bitrise-io/go-transferutils/transfer/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// Client executes transfer requests over a retrying HTTP client.
type Client struct {
	httpClient *retryablehttp.Client
	logger     log.Logger
}

// NewClient creates a client whose transport-level retries follow the
// transfer error classification: transient statuses and connection resets
// are repeated, everything else fails fast.
func NewClient(logger log.Logger) *Client {
	httpClient := retryhttp.NewClient(logger)
	httpClient.CheckRetry = retry.CheckRetry(logger)
	return &Client{
		httpClient: httpClient,
		logger:     logger,
	}
}

// NewClientWithPolicy overrides the attempt budget of the underlying HTTP
// client with the given policy.
func NewClientWithPolicy(logger log.Logger, policy retry.Policy) *Client {
	client := NewClient(logger)
	if policy.MaxRetries > 0 {
		client.httpClient.RetryMax = policy.MaxRetries
	}
	client.httpClient.RetryWaitMin = policy.InitialWait
	client.httpClient.RetryWaitMax = policy.MaxWait
	return client
}

// StandardClient exposes the underlying retrying client as a *http.Client.
func (c *Client) StandardClient() *http.Client {
	return c.httpClient.StandardClient()
}

// Do executes one rendered request and returns the full response with its
// body read and the connection released.
func (c *Client) Do(ctx context.Context, req transfer.Request) (*transfer.Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := retryablehttp.NewRequest(req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.Method, err)
	}
	httpReq = httpReq.WithContext(ctx)
	for key, value := range req.Header {
		httpReq.Header.Set(key, value)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			c.logger.Warnf("Failed to close response body: %s", err)
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &transfer.Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}
