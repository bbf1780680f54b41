package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"market-gateway/src/helpers"
	"market-gateway/src/logger"
)

// AsyncNetworkManager performs upstream REST calls and classifies failures
// into the gateway error taxonomy.
type AsyncNetworkManager struct {
	Client    *http.Client
	Logger    *logger.Logger
	UserAgent string
}

// -----------------------------------------------------------------------------

func NewAsyncNetworkManager(timeout time.Duration, log *logger.Logger) *AsyncNetworkManager {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AsyncNetworkManager{
		Client:    &http.Client{Timeout: timeout},
		Logger:    log,
		UserAgent: "market-gateway/1.0",
	}
}

// -----------------------------------------------------------------------------

// Get performs a single GET request. 401/403 map to AuthExpired; transport
// errors, 429 and 5xx map to TransientIOError. Retrying is the caller's call.
func (nm *AsyncNetworkManager) Get(ctx context.Context, urlStr string, params map[string]string, bearer string) ([]byte, error) {
	reqURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid url '%s': %w", urlStr, err)
	}

	q := reqURL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", nm.UserAgent)
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := nm.Client.Do(req)
	if err != nil {
		return nil, helpers.NewTransientIO(fmt.Sprintf("GET %s", reqURL.Path), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, helpers.NewTransientIO(fmt.Sprintf("read body of %s", reqURL.Path), err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, helpers.NewAuthExpired(fmt.Sprintf("GET %s rejected with status %d", reqURL.Path, resp.StatusCode), nil)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		nm.Logger.Info("Upstream %s returned %d", reqURL.Path, resp.StatusCode)
		return nil, helpers.NewTransientIO(fmt.Sprintf("GET %s", reqURL.Path), fmt.Errorf("bad status: %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, &helpers.GatewayError{Message: fmt.Sprintf("GET %s", reqURL.Path), Cause: fmt.Errorf("bad status: %d", resp.StatusCode)}
	}

	return body, nil
}
