package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"market-gateway/src/helpers"
	"market-gateway/src/interfaces"
	"market-gateway/src/models"
)

// -----------------------------------------------------------------------------
// RESTClient talks to the upstream REST API: profile checks and intraday
// history. It remembers the last credential that passed verification.
// -----------------------------------------------------------------------------

type RESTClient struct {
	BaseURL string
	network interfaces.INetworkManager

	mu   sync.RWMutex
	cred models.MCredential
}

func NewRESTClient(baseURL string, network interfaces.INetworkManager) *RESTClient {
	return &RESTClient{BaseURL: strings.TrimRight(baseURL, "/"), network: network}
}

// -----------------------------------------------------------------------------

// VerifyProfile checks cred against the profile endpoint and, on success,
// makes it the credential for later history calls.
func (r *RESTClient) VerifyProfile(ctx context.Context, cred models.MCredential) error {
	if !cred.Valid() {
		return helpers.NewAuthExpired("credential has no token", nil)
	}

	body, err := r.network.Get(ctx, r.BaseURL+"/profile", nil, cred.BearerToken())
	if err != nil {
		return err
	}

	var resp models.MProfileResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to decode profile response: %w", err)
	}
	if resp.Status != "ok" {
		return helpers.NewAuthExpired(fmt.Sprintf("profile check failed: code=%d message=%s", resp.Code, resp.Message), nil)
	}

	r.mu.Lock()
	r.cred = cred
	r.mu.Unlock()
	return nil
}

// -----------------------------------------------------------------------------

// SetCredential installs cred without verification.
func (r *RESTClient) SetCredential(cred models.MCredential) {
	r.mu.Lock()
	r.cred = cred
	r.mu.Unlock()
}

// -----------------------------------------------------------------------------

// FetchRange returns raw candles for symbol in [from, to], oldest first, with
// timestamps in seconds.
func (r *RESTClient) FetchRange(ctx context.Context, symbol string, from, to time.Time, resolution string) ([]models.MRawCandle, error) {
	r.mu.RLock()
	cred := r.cred
	r.mu.RUnlock()
	if !cred.Valid() {
		return nil, helpers.NewUpstreamUnavailable("history requested before authentication", nil)
	}

	params := map[string]string{
		"symbol":      symbol,
		"resolution":  resolution,
		"date_format": "0",
		"range_from":  strconv.FormatInt(from.Unix(), 10),
		"range_to":    strconv.FormatInt(to.Unix(), 10),
		"cont_flag":   "1",
	}
	body, err := r.network.Get(ctx, r.BaseURL+"/history", params, cred.BearerToken())
	if err != nil {
		return nil, err
	}

	return ParseHistory(body)
}

// -----------------------------------------------------------------------------

// ParseHistory decodes an upstream history payload.
func ParseHistory(body []byte) ([]models.MRawCandle, error) {
	var resp models.MHistoryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode history response: %w", err)
	}
	if resp.Status != "ok" {
		return nil, helpers.NewTransientIO("history request failed", fmt.Errorf("status=%s message=%s", resp.Status, resp.Message))
	}

	out := make([]models.MRawCandle, 0, len(resp.Candles))
	for _, row := range resp.Candles {
		if len(row) < 6 {
			continue
		}
		out = append(out, models.MRawCandle{
			Timestamp: NormalizeTimestamp(int64(row[0])),
			Open:      row[1],
			High:      row[2],
			Low:       row[3],
			Close:     row[4],
			Volume:    row[5],
		})
	}
	return out, nil
}
