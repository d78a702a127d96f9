// Package yahoo is a marketdata.Provider backed by the public Yahoo Finance
// endpoints: the v8 chart API for daily bars, the v7 options API for expiries
// and chains, the earnings visualization query for announcement dates and
// quoteSummary calendarEvents for the next scheduled report.
//
// Every endpoint except chart requires a session cookie plus a crumb query
// parameter. The crumb is fetched lazily and refreshed once on a 401.
package yahoo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/newthinker/catalyst/internal/core"
	"github.com/newthinker/catalyst/internal/metrics"
)

const (
	defaultBaseURL   = "https://query2.finance.yahoo.com"
	defaultCookieURL = "https://fc.yahoo.com"
	defaultRate      = 2.0 // requests per second
	defaultBurst     = 4
	defaultMaxRetry  = 3
	defaultRetryWait = 500 * time.Millisecond
	userAgent        = "Mozilla/5.0 (compatible; catalyst/1.0)"
)

// validSymbol matches stock symbols like AAPL, BRK-B, 600519.SH, 0700.HK
var validSymbol = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{0,9}(\.[A-Za-z]{1,4})?$`)

// validateSymbol checks if a symbol has valid format
func validateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if len(symbol) > 20 {
		return fmt.Errorf("symbol too long: %s", symbol)
	}
	if !validSymbol.MatchString(symbol) {
		return fmt.Errorf("invalid symbol format: %s", symbol)
	}
	return nil
}

// toYahooSymbol converts internal symbol format to Yahoo format
func toYahooSymbol(symbol string) string {
	// Shanghai stocks: 600519.SH -> 600519.SS
	if strings.HasSuffix(symbol, ".SH") {
		return strings.TrimSuffix(symbol, ".SH") + ".SS"
	}
	return symbol
}

// Config configures the Yahoo provider
type Config struct {
	BaseURL    string        `mapstructure:"base_url"`
	CookieURL  string        `mapstructure:"cookie_url"` // sets the session cookie the crumb is bound to
	RatePerSec float64       `mapstructure:"rate_per_sec"`
	Burst      int           `mapstructure:"burst"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryWait  time.Duration `mapstructure:"retry_wait"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Yahoo implements marketdata.Provider
type Yahoo struct {
	client     *http.Client
	baseURL    string
	cookieURL  string
	limiter    *rate.Limiter
	maxRetries int
	retryWait  time.Duration
	logger     *zap.Logger
	metrics    *metrics.Registry

	crumbMu sync.Mutex
	crumb   string
}

// New creates a Yahoo provider. Zero Config fields take defaults.
func New(cfg Config, logger *zap.Logger, m *metrics.Registry) *Yahoo {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.CookieURL == "" {
		cfg.CookieURL = defaultCookieURL
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetry
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = defaultRetryWait
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// cookiejar.New only fails on a bad PublicSuffixList, and we pass none
	jar, _ := cookiejar.New(nil)

	return &Yahoo{
		client:     &http.Client{Timeout: cfg.Timeout, Jar: jar},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		cookieURL:  cfg.CookieURL,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		maxRetries: cfg.MaxRetries,
		retryWait:  cfg.RetryWait,
		logger:     logger,
		metrics:    m,
	}
}

func (y *Yahoo) Name() string {
	return "yahoo"
}

// FetchHistory fetches daily OHLCV bars for [start, end]
func (y *Yahoo) FetchHistory(ctx context.Context, ticker string, start, end time.Time) ([]core.PriceBar, error) {
	if err := validateSymbol(ticker); err != nil {
		return nil, err
	}
	// period2 is exclusive
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&period1=%d&period2=%d",
		y.baseURL, url.PathEscape(toYahooSymbol(ticker)), start.Unix(), end.AddDate(0, 0, 1).Unix())

	var result chartResponse
	if err := y.get(ctx, "history", u, &result); err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	if result.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo error: %s", result.Chart.Error.Description)
	}
	if len(result.Chart.Result) == 0 {
		return nil, fmt.Errorf("no data for symbol: %s", ticker)
	}

	r := result.Chart.Result[0]
	if len(r.Indicators.Quote) == 0 {
		return nil, nil
	}
	quotes := r.Indicators.Quote[0]

	data := make([]core.PriceBar, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		if !quotes.complete(i) {
			continue // Skip missing data
		}
		bar := core.PriceBar{
			Date:  core.NormalizeDate(time.Unix(ts, 0).In(exchangeTZ(r.Meta))),
			Open:  *quotes.Open[i],
			High:  *quotes.High[i],
			Low:   *quotes.Low[i],
			Close: *quotes.Close[i],
		}
		if i < len(quotes.Volume) && quotes.Volume[i] != nil {
			bar.Volume = *quotes.Volume[i]
		}
		data = append(data, bar)
	}
	return data, nil
}

// FetchExpiries lists the option expiration dates
func (y *Yahoo) FetchExpiries(ctx context.Context, ticker string) ([]time.Time, error) {
	result, err := y.options(ctx, "expiries", ticker, "")
	if err != nil {
		return nil, err
	}
	expiries := make([]time.Time, 0, len(result.ExpirationDates))
	for _, ts := range result.ExpirationDates {
		expiries = append(expiries, core.NormalizeDate(time.Unix(ts, 0).UTC()))
	}
	return expiries, nil
}

// FetchChain fetches calls and puts for one expiry. Yahoo only serves the
// current chain, so AsOf is the fetch time.
func (y *Yahoo) FetchChain(ctx context.Context, ticker string, expiry time.Time) (core.OptionChain, error) {
	expiry = core.NormalizeDate(expiry)
	result, err := y.options(ctx, "chain", ticker, fmt.Sprintf("date=%d", expiry.Unix()))
	if err != nil {
		return core.OptionChain{}, err
	}

	chain := core.OptionChain{Ticker: ticker, Expiry: expiry, AsOf: time.Now().UTC()}
	if len(result.Options) == 0 {
		return chain, nil
	}
	for _, c := range result.Options[0].Calls {
		chain.Quotes = append(chain.Quotes, c.quote(expiry, core.OptionCall))
	}
	for _, p := range result.Options[0].Puts {
		chain.Quotes = append(chain.Quotes, p.quote(expiry, core.OptionPut))
	}
	return chain, nil
}

// FetchEarnings returns announcement dates, most recent first. Reported and
// scheduled announcements come from the earnings visualization query, the
// same source as the Yahoo earnings calendar page. calendarEvents only adds
// upcoming dates the query does not list yet; its failure is not fatal.
func (y *Yahoo) FetchEarnings(ctx context.Context, ticker string, limit int) ([]time.Time, error) {
	if err := validateSymbol(ticker); err != nil {
		return nil, err
	}

	dates, err := y.announcements(ctx, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching earnings: %w", err)
	}

	upcoming, err := y.upcoming(ctx, ticker)
	if err != nil {
		y.logger.Debug("no earnings calendar", zap.String("ticker", ticker), zap.Error(err))
	}
	dates = append(dates, upcoming...)

	sort.Slice(dates, func(i, j int) bool { return dates[i].After(dates[j]) })
	uniq := dates[:0]
	for i, d := range dates {
		if i > 0 && d.Equal(uniq[len(uniq)-1]) {
			continue
		}
		uniq = append(uniq, d)
	}
	if limit > 0 && len(uniq) > limit {
		uniq = uniq[:limit]
	}
	return uniq, nil
}

// announcements queries earnings events (EAD: announcement date, ERA: earnings
// release) for ticker. Timestamps are converted to US Eastern before taking
// the date so after-close reports stay on their trading day.
func (y *Yahoo) announcements(ctx context.Context, ticker string, limit int) ([]time.Time, error) {
	size := limit
	if size <= 0 {
		size = 100
	}
	body, err := json.Marshal(visualizationQuery(toYahooSymbol(ticker), size))
	if err != nil {
		return nil, err
	}
	u := y.baseURL + "/v1/finance/visualization?lang=en-US&region=US"

	var result visualizationResponse
	if err := y.getWithCrumb(ctx, "earnings", http.MethodPost, u, body, &result); err != nil {
		return nil, err
	}
	if result.Finance.Error != nil {
		return nil, fmt.Errorf("yahoo error: %s", result.Finance.Error.Description)
	}
	if len(result.Finance.Result) == 0 || len(result.Finance.Result[0].Documents) == 0 {
		return nil, nil
	}

	doc := result.Finance.Result[0].Documents[0]
	col := -1
	for i, c := range doc.Columns {
		if c.ID == "startdatetime" {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("earnings response has no startdatetime column")
	}

	dates := make([]time.Time, 0, len(doc.Rows))
	for _, row := range doc.Rows {
		if col >= len(row) {
			continue
		}
		ts, ok := parseEventTime(row[col])
		if !ok {
			continue
		}
		dates = append(dates, core.NormalizeDate(ts.In(eastern)))
	}
	return dates, nil
}

// upcoming returns the scheduled report window from quoteSummary
func (y *Yahoo) upcoming(ctx context.Context, ticker string) ([]time.Time, error) {
	u := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=calendarEvents",
		y.baseURL, url.PathEscape(toYahooSymbol(ticker)))

	var result summaryResponse
	if err := y.getWithCrumb(ctx, "calendar", http.MethodGet, u, nil, &result); err != nil {
		return nil, err
	}
	if result.QuoteSummary.Error != nil {
		return nil, fmt.Errorf("yahoo error: %s", result.QuoteSummary.Error.Description)
	}
	if len(result.QuoteSummary.Result) == 0 {
		return nil, nil
	}

	var dates []time.Time
	for _, d := range result.QuoteSummary.Result[0].CalendarEvents.Earnings.EarningsDate {
		if d.Raw > 0 {
			dates = append(dates, core.NormalizeDate(time.Unix(d.Raw, 0).In(eastern)))
		}
	}
	return dates, nil
}

func (y *Yahoo) options(ctx context.Context, op, ticker, query string) (*optionResult, error) {
	if err := validateSymbol(ticker); err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/v7/finance/options/%s", y.baseURL, url.PathEscape(toYahooSymbol(ticker)))
	if query != "" {
		u += "?" + query
	}

	var result optionsResponse
	if err := y.getWithCrumb(ctx, op, http.MethodGet, u, nil, &result); err != nil {
		return nil, fmt.Errorf("fetching options: %w", err)
	}
	if result.OptionChain.Error != nil {
		return nil, fmt.Errorf("yahoo error: %s", result.OptionChain.Error.Description)
	}
	if len(result.OptionChain.Result) == 0 {
		return nil, fmt.Errorf("no options for symbol: %s", ticker)
	}
	return &result.OptionChain.Result[0], nil
}

// get performs a rate-limited GET, retrying 429 and 5xx with exponential backoff.
func (y *Yahoo) get(ctx context.Context, op, u string, out any) error {
	return y.do(ctx, op, http.MethodGet, u, nil, out)
}

func (y *Yahoo) do(ctx context.Context, op, method, u string, body []byte, out any) error {
	start := time.Now()
	status, err := y.doWithRetry(ctx, method, u, body, out)
	y.metrics.RecordProviderRequest(op, status, time.Since(start).Seconds())
	return err
}

// getWithCrumb is do for endpoints guarded by a crumb. A 401 means the
// session expired; the crumb is refreshed and the request retried once.
func (y *Yahoo) getWithCrumb(ctx context.Context, op, method, u string, body []byte, out any) error {
	stale := ""
	for attempt := 0; ; attempt++ {
		crumb, err := y.sessionCrumb(ctx, stale)
		if err != nil {
			return fmt.Errorf("obtaining crumb: %w", err)
		}
		err = y.do(ctx, op, method, withCrumb(u, crumb), body, out)
		var se *statusError
		if attempt == 0 && errors.As(err, &se) && se.Status == http.StatusUnauthorized {
			y.logger.Debug("yahoo crumb rejected, refreshing", zap.String("op", op))
			stale = crumb
			continue
		}
		return err
	}
}

// sessionCrumb returns the cached crumb, fetching a new one when none is held
// or the held one equals stale.
func (y *Yahoo) sessionCrumb(ctx context.Context, stale string) (string, error) {
	y.crumbMu.Lock()
	defer y.crumbMu.Unlock()

	if y.crumb != "" && y.crumb != stale {
		return y.crumb, nil
	}
	y.crumb = ""

	// the cookie endpoint answers 404 but still sets the session cookie
	if err := y.fetch(ctx, y.cookieURL, nil); err != nil {
		return "", fmt.Errorf("fetching session cookie: %w", err)
	}

	var buf bytes.Buffer
	if err := y.fetch(ctx, y.baseURL+"/v1/test/getcrumb", &buf); err != nil {
		return "", err
	}
	crumb := strings.TrimSpace(buf.String())
	if crumb == "" || strings.ContainsAny(crumb, "<{") {
		return "", fmt.Errorf("unexpected crumb response %q", crumb)
	}
	y.crumb = crumb
	return crumb, nil
}

// fetch is a plain rate-limited GET used for the session handshake. When dst
// is nil any status is accepted; otherwise the body is copied on 200.
func (y *Yahoo) fetch(ctx context.Context, u string, dst io.Writer) error {
	if err := y.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := y.client.Do(req)
	if err != nil {
		y.metrics.RecordProviderRequest("crumb", 0, time.Since(start).Seconds())
		return err
	}
	defer resp.Body.Close()
	y.metrics.RecordProviderRequest("crumb", resp.StatusCode, time.Since(start).Seconds())

	if dst == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, err = io.Copy(dst, io.LimitReader(resp.Body, 1024))
	return err
}

func withCrumb(u, crumb string) string {
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "crumb=" + url.QueryEscape(crumb)
}

// statusError is a non-retryable HTTP status
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

func (y *Yahoo) doWithRetry(ctx context.Context, method, u string, body []byte, out any) (int, error) {
	status := 0
	for attempt := 0; attempt <= y.maxRetries; attempt++ {
		if err := y.limiter.Wait(ctx); err != nil {
			return status, fmt.Errorf("rate limiter: %w", err)
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
		if err != nil {
			return status, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := y.client.Do(req)
		if err != nil {
			if ctx.Err() != nil || attempt == y.maxRetries {
				return status, fmt.Errorf("request failed after %d attempts: %w", attempt+1, err)
			}
			y.sleep(ctx, attempt)
			continue
		}
		status = resp.StatusCode

		if status == http.StatusTooManyRequests || status >= 500 {
			resp.Body.Close()
			if attempt == y.maxRetries {
				return status, fmt.Errorf("status %d after %d attempts", status, attempt+1)
			}
			y.logger.Warn("yahoo request throttled, retrying",
				zap.Int("status", status),
				zap.Int("attempt", attempt+1),
			)
			y.sleep(ctx, attempt)
			continue
		}

		if status != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return status, &statusError{Status: status, Body: strings.TrimSpace(string(msg))}
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return status, fmt.Errorf("decoding response: %w", err)
		}
		return status, nil
	}
	return status, fmt.Errorf("exhausted %d retries", y.maxRetries)
}

// sleep waits with exponential backoff, returning early if ctx ends
func (y *Yahoo) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * y.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// eastern is the US market timezone; UTC when tzdata is unavailable
var eastern = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// parseEventTime reads a visualization timestamp, an RFC 3339 string or epoch
// milliseconds depending on the column type.
func parseEventTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts, true
		}
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.UnixMilli(ms), true
		}
	case float64:
		if t > 0 {
			return time.UnixMilli(int64(t)), true
		}
	}
	return time.Time{}, false
}

// exchangeTZ is the exchange timezone from chart metadata, UTC if unknown.
// Daily bars are stamped at the session open, which in UTC can land on the
// previous calendar day for Asian exchanges.
func exchangeTZ(m chartMeta) *time.Location {
	if m.ExchangeTimezoneName == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(m.ExchangeTimezoneName)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Yahoo API response types
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *apiError     `json:"error"`
	} `json:"chart"`
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta       chartMeta  `json:"meta"`
	Timestamp  []int64    `json:"timestamp"`
	Indicators indicators `json:"indicators"`
}

type chartMeta struct {
	Symbol               string `json:"symbol"`
	ExchangeTimezoneName string `json:"exchangeTimezoneName"`
}

type indicators struct {
	Quote []quoteIndicator `json:"quote"`
}

type quoteIndicator struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*int64   `json:"volume"`
}

func (q quoteIndicator) complete(i int) bool {
	for _, col := range [][]*float64{q.Open, q.High, q.Low, q.Close} {
		if i >= len(col) || col[i] == nil {
			return false
		}
	}
	return true
}

type optionsResponse struct {
	OptionChain struct {
		Result []optionResult `json:"result"`
		Error  *apiError      `json:"error"`
	} `json:"optionChain"`
}

type optionResult struct {
	UnderlyingSymbol string        `json:"underlyingSymbol"`
	ExpirationDates  []int64       `json:"expirationDates"`
	Options          []optionGroup `json:"options"`
}

type optionGroup struct {
	ExpirationDate int64            `json:"expirationDate"`
	Calls          []optionContract `json:"calls"`
	Puts           []optionContract `json:"puts"`
}

type optionContract struct {
	Strike            float64 `json:"strike"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
}

func (c optionContract) quote(expiry time.Time, typ core.OptionType) core.OptionQuote {
	return core.OptionQuote{
		Strike:     c.Strike,
		ImpliedVol: c.ImpliedVolatility,
		Expiry:     expiry,
		Type:       typ,
	}
}

type summaryResponse struct {
	QuoteSummary struct {
		Result []summaryResult `json:"result"`
		Error  *apiError       `json:"error"`
	} `json:"quoteSummary"`
}

type rawValue struct {
	Raw int64 `json:"raw"`
}

type summaryResult struct {
	CalendarEvents struct {
		Earnings struct {
			EarningsDate []rawValue `json:"earningsDate"`
		} `json:"earnings"`
	} `json:"calendarEvents"`
}

func visualizationQuery(symbol string, size int) map[string]any {
	eq := func(field, value string) map[string]any {
		return map[string]any{"operator": "eq", "operands": []any{field, value}}
	}
	return map[string]any{
		"size":   size,
		"offset": 0,
		"query": map[string]any{
			"operator": "and",
			"operands": []any{
				eq("ticker", symbol),
				map[string]any{"operator": "or", "operands": []any{eq("eventtype", "EAD"), eq("eventtype", "ERA")}},
			},
		},
		"sortField":     "startdatetime",
		"sortType":      "DESC",
		"entityIdType":  "earnings",
		"includeFields": []string{"startdatetime", "timeZoneShortName", "epsestimate", "epsactual", "epssurprisepct", "eventtype"},
	}
}

type visualizationResponse struct {
	Finance struct {
		Result []struct {
			Documents []struct {
				Columns []struct {
					ID    string `json:"id"`
					Label string `json:"label"`
				} `json:"columns"`
				Rows [][]any `json:"rows"`
			} `json:"documents"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"finance"`
}
