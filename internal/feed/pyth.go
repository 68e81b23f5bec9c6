package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stake-hedge-watcher/internal/oracle"
)

const hermesLatestPath = "/v2/updates/price/latest"

var dec1e6 = decimal.NewFromInt(1_000_000)

// PythOptions parameterise the Hermes fetcher.
type PythOptions struct {
	BaseURL   string
	PriceID   string
	Feed      oracle.FeedID
	Timeout   time.Duration
	UserAgent string
}

// Pyth fetches price updates from a Pyth Hermes endpoint.
type Pyth struct {
	opts    PythOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewPyth constructs a Hermes fetcher for one price feed.
func NewPyth(opts PythOptions, logger zerolog.Logger) *Pyth {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://hermes.pyth.network"
	}

	return &Pyth{
		opts:    opts,
		logger:  logger.With().Str("component", "pyth_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchQuote retrieves the latest parsed update for the configured price id.
func (p *Pyth) FetchQuote(ctx context.Context) (oracle.Quote, error) {
	if p.opts.PriceID == "" {
		return oracle.Quote{}, errors.New("pyth price id not configured")
	}

	query := url.Values{}
	query.Set("ids[]", p.opts.PriceID)
	query.Set("parsed", "true")
	endpoint := p.baseURL + hermesLatestPath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return oracle.Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return oracle.Quote{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return oracle.Quote{}, err
	}

	if resp.StatusCode != http.StatusOK {
		if len(payload) > 0 {
			return oracle.Quote{}, fmt.Errorf("hermes error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		}
		return oracle.Quote{}, fmt.Errorf("hermes error (%d)", resp.StatusCode)
	}

	var decoded hermesResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return oracle.Quote{}, err
	}
	if len(decoded.Parsed) == 0 {
		return oracle.Quote{}, errors.New("hermes returned no parsed updates")
	}

	update := decoded.Parsed[0]
	price, err := scaleFP(update.Price.Price, update.Price.Expo)
	if err != nil {
		return oracle.Quote{}, fmt.Errorf("parse price: %w", err)
	}
	conf, err := scaleFP(update.Price.Conf, update.Price.Expo)
	if err != nil {
		return oracle.Quote{}, fmt.Errorf("parse conf: %w", err)
	}
	ema, err := scaleFP(update.EMAPrice.Price, update.EMAPrice.Expo)
	if err != nil {
		return oracle.Quote{}, fmt.Errorf("parse ema price: %w", err)
	}

	return oracle.Quote{
		Feed:        p.opts.Feed,
		Price:       price,
		EMAPrice:    ema,
		Confidence:  conf,
		PublishTime: update.Price.PublishTime,
	}, nil
}

// scaleFP converts a Pyth integer mantissa with exponent into 1e6 fixed point.
func scaleFP(mantissa string, expo int32) (int64, error) {
	d, err := decimal.NewFromString(mantissa)
	if err != nil {
		return 0, err
	}
	scaled := d.Shift(expo).Mul(dec1e6).Round(0)
	if scaled.Sign() < 0 {
		return 0, fmt.Errorf("negative price %s", mantissa)
	}
	return scaled.IntPart(), nil
}

type hermesResponse struct {
	Parsed []struct {
		ID       string      `json:"id"`
		Price    hermesPrice `json:"price"`
		EMAPrice hermesPrice `json:"ema_price"`
	} `json:"parsed"`
}

type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

var _ QuoteFetcher = (*Pyth)(nil)
