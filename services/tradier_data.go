package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strikefeed/interfaces"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// TradierDataService fetches expirations, option chains with Greeks and daily
// history from the Tradier brokerage API
type TradierDataService struct {
	token   string
	baseURL string
	logger  *logrus.Logger
	client  *http.Client
	limiter *rate.Limiter
}

// NewTradierDataService creates a new Tradier market data service
func NewTradierDataService(token, baseURL string, requestsPerSecond int, logger *logrus.Logger) *TradierDataService {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &TradierDataService{
		token:   token,
		baseURL: baseURL,
		logger:  logger,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
	}
}

// Name identifies the provider in logs
func (s *TradierDataService) Name() string {
	return "tradier"
}

// oneOrMany decodes Tradier fields that hold a bare object when there is a
// single element and an array otherwise
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = nil
		return nil
	}
	if data[0] == '[' {
		var many []T
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*o = many
		return nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*o = []T{one}
	return nil
}

// TradierExpirationsResponse represents the expirations response
type TradierExpirationsResponse struct {
	Expirations *struct {
		Date oneOrMany[string] `json:"date"`
	} `json:"expirations"`
}

// TradierChainResponse represents the option chain response
type TradierChainResponse struct {
	Options *struct {
		Option oneOrMany[TradierOption] `json:"option"`
	} `json:"options"`
}

// TradierOption represents a single option from the chain
type TradierOption struct {
	Symbol         string         `json:"symbol"`
	Underlying     string         `json:"underlying"`
	Strike         float64        `json:"strike"`
	Bid            *float64       `json:"bid"`
	Ask            *float64       `json:"ask"`
	OptionType     string         `json:"option_type"`
	ExpirationDate string         `json:"expiration_date"`
	Greeks         *TradierGreeks `json:"greeks"`
}

// TradierGreeks represents Greeks data; any field may be null
type TradierGreeks struct {
	Delta  *float64 `json:"delta"`
	Gamma  *float64 `json:"gamma"`
	Theta  *float64 `json:"theta"`
	Vega   *float64 `json:"vega"`
	BidIV  *float64 `json:"bid_iv"`
	MidIV  *float64 `json:"mid_iv"`
	AskIV  *float64 `json:"ask_iv"`
	SmvVol *float64 `json:"smv_vol"`
}

// TradierHistoryResponse represents the daily history response
type TradierHistoryResponse struct {
	History *struct {
		Day oneOrMany[TradierDay] `json:"day"`
	} `json:"history"`
}

// TradierDay represents one daily bar
type TradierDay struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

// GetExpirations lists expiration dates for an underlying
func (s *TradierDataService) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("includeAllRoots", "true")
	params.Set("strikes", "false")

	var resp TradierExpirationsResponse
	if err := s.get(ctx, "/markets/options/expirations", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch expirations: %w", err)
	}
	if resp.Expirations == nil {
		return []string{}, nil
	}
	return []string(resp.Expirations.Date), nil
}

// GetOptionChain retrieves the chain with Greeks for one expiration
func (s *TradierDataService) GetOptionChain(ctx context.Context, symbol, expiration string) (*interfaces.OptionChain, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("expiration", expiration)
	params.Set("greeks", "true")

	s.logger.WithFields(logrus.Fields{
		"underlying": symbol,
		"expiration": expiration,
	}).Debug("Fetching option chain")

	var resp TradierChainResponse
	if err := s.get(ctx, "/markets/options/chains", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch option chain: %w", err)
	}

	chain := &interfaces.OptionChain{
		Underlying: symbol,
		Expiration: expiration,
		FetchedAt:  time.Now(),
		Contracts:  []*interfaces.OptionContract{},
	}
	if resp.Options == nil {
		return chain, nil
	}

	for _, opt := range resp.Options.Option {
		optionType, ok := interfaces.ParseOptionType(opt.OptionType)
		if !ok {
			s.logger.WithField("symbol", opt.Symbol).Debug("Skipping option with unknown type")
			continue
		}

		contract := &interfaces.OptionContract{
			Symbol:     opt.Symbol,
			Underlying: symbol,
			Type:       optionType,
			Strike:     opt.Strike,
			Expiration: opt.ExpirationDate,
		}
		// a null side means no two-sided quote; ask 0 leaves the leg unscored
		if opt.Bid != nil && opt.Ask != nil {
			contract.Bid = *opt.Bid
			contract.Ask = *opt.Ask
		}
		if opt.Greeks != nil {
			contract.Delta = opt.Greeks.Delta
			contract.ImpliedVolatility = opt.Greeks.MidIV
		}
		chain.Contracts = append(chain.Contracts, contract)
	}

	s.logger.WithField("count", len(chain.Contracts)).Debug("Fetched option chain")
	return chain, nil
}

// GetPriceHistory returns daily closes for the last lookbackDays calendar days
func (s *TradierDataService) GetPriceHistory(ctx context.Context, symbol string, lookbackDays int) ([]interfaces.PricePoint, error) {
	end := time.Now()
	start := end.AddDate(0, 0, -lookbackDays)

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", "daily")
	params.Set("start", start.Format("2006-01-02"))
	params.Set("end", end.Format("2006-01-02"))

	var resp TradierHistoryResponse
	if err := s.get(ctx, "/markets/history", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch price history: %w", err)
	}
	if resp.History == nil {
		return []interfaces.PricePoint{}, nil
	}

	points := make([]interfaces.PricePoint, 0, len(resp.History.Day))
	for _, day := range resp.History.Day {
		date, err := time.Parse("2006-01-02", day.Date)
		if err != nil {
			continue
		}
		points = append(points, interfaces.PricePoint{Date: date, Close: day.Close})
	}
	return points, nil
}

func (s *TradierDataService) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s%s?%s", s.baseURL, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
