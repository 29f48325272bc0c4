package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const ratePath = "/v1/rates/jpyusd"

var decRateScale = decimal.NewFromInt(1_000_000)

// HTTPOptions parameterise the HTTP rate feed.
type HTTPOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// HTTP fetches the JPY/USD rate from a JSON price service.
type HTTP struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHTTP constructs an HTTP rate source.
func NewHTTP(opts HTTPOptions, logger zerolog.Logger) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTP{
		opts:    opts,
		logger:  logger.With().Str("component", "oracle_http").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

type rateResponse struct {
	Price     string `json:"price"`
	UpdatedAt int64  `json:"updatedAt"`
}

type rateError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// JPYRate retrieves the current JPY-per-USD rate.
func (h *HTTP) JPYRate(ctx context.Context) (Quote, error) {
	if h.baseURL == "" {
		return Quote{}, errors.New("oracle base url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+ratePath, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Quote{}, parseRateError(resp.StatusCode, payload)
	}

	var body rateResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return Quote{}, err
	}

	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		return Quote{}, fmt.Errorf("parse price: %w", err)
	}
	if price.Sign() <= 0 {
		return Quote{}, fmt.Errorf("non-positive price %q", body.Price)
	}
	if body.UpdatedAt <= 0 {
		return Quote{}, errors.New("missing update timestamp")
	}

	scaled := price.Mul(decRateScale).Truncate(0)
	rate := scaled.BigInt()
	if !rate.IsUint64() {
		return Quote{}, fmt.Errorf("price %q out of range", body.Price)
	}

	return Quote{
		Rate:      rate.Uint64(),
		UpdatedAt: time.Unix(body.UpdatedAt, 0).UTC(),
	}, nil
}

func parseRateError(status int, payload []byte) error {
	var apiErr rateError
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("rate api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Code != "" {
			return fmt.Errorf("rate api error (%d): %s", status, apiErr.Code)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("rate api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("rate api error (%d)", status)
}

var _ Source = (*HTTP)(nil)
