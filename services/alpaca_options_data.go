package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strikefeed/interfaces"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// AlpacaOptionsDataService fetches option chain snapshots and daily bars from Alpaca
type AlpacaOptionsDataService struct {
	apiKey     string
	secretKey  string
	tradingURL string
	data       *marketdata.Client
	logger     *logrus.Logger
	client     *http.Client
	limiter    *rate.Limiter
}

// NewAlpacaOptionsDataService creates a new Alpaca options data service
func NewAlpacaOptionsDataService(apiKey, secretKey, tradingURL, dataURL string, requestsPerSecond int, logger *logrus.Logger) *AlpacaOptionsDataService {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}

	return &AlpacaOptionsDataService{
		apiKey:     apiKey,
		secretKey:  secretKey,
		tradingURL: tradingURL,
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: secretKey,
			BaseURL:   dataURL,
		}),
		logger:  logger,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
	}
}

// Name identifies the provider in logs
func (s *AlpacaOptionsDataService) Name() string {
	return "alpaca"
}

// AlpacaOptionContractsResponse represents the option contracts response
type AlpacaOptionContractsResponse struct {
	OptionContracts []AlpacaOptionContract `json:"option_contracts"`
	NextPageToken   *string                `json:"next_page_token"`
}

// AlpacaOptionContract represents contract metadata
type AlpacaOptionContract struct {
	Symbol         string `json:"symbol"`
	ExpirationDate string `json:"expiration_date"`
	StrikePrice    string `json:"strike_price"`
	Type           string `json:"type"` // "call" or "put"
}

// GetExpirations lists distinct upcoming expiration dates for an underlying
func (s *AlpacaOptionsDataService) GetExpirations(ctx context.Context, underlying string) ([]string, error) {
	seen := make(map[string]struct{})
	pageToken := ""

	for {
		params := url.Values{}
		params.Set("underlying_symbols", underlying)
		params.Set("expiration_date_gte", time.Now().Format("2006-01-02"))
		params.Set("limit", "10000")
		if pageToken != "" {
			params.Set("page_token", pageToken)
		}

		var page AlpacaOptionContractsResponse
		if err := s.getJSON(ctx, s.tradingURL+"/v2/options/contracts?"+params.Encode(), &page); err != nil {
			return nil, fmt.Errorf("failed to fetch option contracts: %w", err)
		}

		for _, c := range page.OptionContracts {
			seen[c.ExpirationDate] = struct{}{}
		}

		if page.NextPageToken == nil || *page.NextPageToken == "" {
			break
		}
		pageToken = *page.NextPageToken
	}

	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	s.logger.WithFields(logrus.Fields{
		"underlying":  underlying,
		"expirations": len(dates),
	}).Debug("Fetched expirations")
	return dates, nil
}

// GetOptionChain retrieves snapshots (quotes, Greeks, IV) for one expiration
func (s *AlpacaOptionsDataService) GetOptionChain(ctx context.Context, underlying, expiration string) (*interfaces.OptionChain, error) {
	expDate, err := civil.ParseDate(expiration)
	if err != nil {
		return nil, fmt.Errorf("invalid expiration %q: %w", expiration, err)
	}

	s.logger.WithFields(logrus.Fields{
		"underlying": underlying,
		"expiration": expiration,
	}).Debug("Fetching option chain")

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	snapshots, err := callWithContext(ctx, func() (map[string]marketdata.OptionSnapshot, error) {
		return s.data.GetOptionChain(underlying, marketdata.GetOptionChainRequest{
			ExpirationDate: expDate,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch option chain: %w", err)
	}

	chain := &interfaces.OptionChain{
		Underlying: underlying,
		Expiration: expiration,
		FetchedAt:  time.Now(),
		Contracts:  make([]*interfaces.OptionContract, 0, len(snapshots)),
	}

	// map iteration order is random; keep the chain deterministic
	symbols := make([]string, 0, len(snapshots))
	for symbol := range snapshots {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		occ, err := ParseOCCSymbol(symbol)
		if err != nil {
			s.logger.WithError(err).WithField("symbol", symbol).Debug("Skipping unparseable option symbol")
			continue
		}

		snapshot := snapshots[symbol]
		contract := &interfaces.OptionContract{
			Symbol:     symbol,
			Underlying: underlying,
			Type:       occ.Type,
			Strike:     occ.Strike,
			Expiration: occ.Expiration,
		}
		if snapshot.LatestQuote != nil {
			contract.Bid = snapshot.LatestQuote.BidPrice
			contract.Ask = snapshot.LatestQuote.AskPrice
		}
		if snapshot.Greeks != nil {
			delta := snapshot.Greeks.Delta
			contract.Delta = &delta
		}
		if snapshot.ImpliedVolatility > 0 {
			iv := snapshot.ImpliedVolatility
			contract.ImpliedVolatility = &iv
		}

		chain.Contracts = append(chain.Contracts, contract)
	}

	s.logger.WithField("count", len(chain.Contracts)).Debug("Fetched option chain")
	return chain, nil
}

// GetPriceHistory returns split-adjusted daily closes for the last lookbackDays calendar days
func (s *AlpacaOptionsDataService) GetPriceHistory(ctx context.Context, symbol string, lookbackDays int) ([]interfaces.PricePoint, error) {
	end := time.Now()
	start := end.AddDate(0, 0, -lookbackDays)

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	bars, err := callWithContext(ctx, func() ([]marketdata.Bar, error) {
		return s.data.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Adjustment: marketdata.Split,
			Start:      start,
			End:        end,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bars: %w", err)
	}

	points := make([]interfaces.PricePoint, len(bars))
	for i, bar := range bars {
		points[i] = interfaces.PricePoint{Date: bar.Timestamp, Close: bar.Close}
	}
	return points, nil
}

func (s *AlpacaOptionsDataService) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	req.Header.Set("APCA-API-KEY-ID", s.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", s.secretKey)

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

// callWithContext runs an SDK call that takes no context and gives up when ctx is done.
// The abandoned call finishes in the background and its result is dropped.
func callWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OCCSymbol is the decoded form of an OCC option symbol
type OCCSymbol struct {
	Root       string
	Expiration string // YYYY-MM-DD
	Type       interfaces.OptionType
	Strike     float64
}

// ParseOCCSymbol decodes ROOT + YYMMDD + C|P + strike*1000 (8 digits)
func ParseOCCSymbol(symbol string) (*OCCSymbol, error) {
	const suffixLen = 15
	if len(symbol) <= suffixLen {
		return nil, fmt.Errorf("option symbol %q too short", symbol)
	}

	split := len(symbol) - suffixLen
	root := symbol[:split]
	datePart := symbol[split : split+6]
	typePart := symbol[split+6 : split+7]
	strikePart := symbol[split+7:]

	exp, err := time.Parse("060102", datePart)
	if err != nil {
		return nil, fmt.Errorf("option symbol %q has bad date: %w", symbol, err)
	}

	optionType, ok := interfaces.ParseOptionType(typePart)
	if !ok {
		return nil, fmt.Errorf("option symbol %q has bad type %q", symbol, typePart)
	}

	millis, err := strconv.ParseInt(strikePart, 10, 64)
	if err != nil || millis <= 0 {
		return nil, fmt.Errorf("option symbol %q has bad strike %q", symbol, strikePart)
	}

	return &OCCSymbol{
		Root:       root,
		Expiration: exp.Format("2006-01-02"),
		Type:       optionType,
		Strike:     float64(millis) / 1000,
	}, nil
}
