package tokenex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrExchangeFailed covers every way the backend can fail to hand out a
// token: transport errors, non-2xx statuses, and malformed bodies.
var ErrExchangeFailed = errors.New("token exchange failed")

const exchangePath = "/api/get-token"

// Client exchanges a wallet address for a short-lived access token. Tokens
// are never cached; every call hits the backend. Retries are the caller's
// decision.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type exchangeRequest struct {
	WalletAddress string `json:"walletAddress"`
}

type exchangeResponse struct {
	AccessToken string `json:"accessToken"`
}

func (c *Client) Exchange(ctx context.Context, walletAddress string) (string, error) {
	payload, err := json.Marshal(exchangeRequest{WalletAddress: walletAddress})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrExchangeFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+exchangePath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrExchangeFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: unexpected status %d", ErrExchangeFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrExchangeFailed, err)
	}

	var parsed exchangeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: malformed body: %v", ErrExchangeFailed, err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("%w: response missing accessToken", ErrExchangeFailed)
	}
	return parsed.AccessToken, nil
}
