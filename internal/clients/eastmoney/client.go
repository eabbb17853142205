// Package eastmoney is the upstream market-data client. It speaks the
// paginated list endpoints (sector universe, sector members) and the series
// endpoints (daily kline, intraday trend), optionally through a rotating
// egress proxy credential supplied per call.
//
// The client performs exactly one logical fetch per method call and reports
// typed failures; retry policy belongs to the orchestrator, not here.
package eastmoney

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/wangqi/tailscan/internal/domain"
	"github.com/wangqi/tailscan/internal/proxy"
)

// Endpoint paths on the upstream hosts.
const (
	listPath   = "/api/qt/clist/get"
	klinePath  = "/api/qt/stock/kline/get"
	trendsPath = "/api/qt/stock/trends2/get"
)

// maxPages bounds pagination loops against a lying total counter.
const maxPages = 200

// Config holds upstream client configuration.
type Config struct {
	ListBaseURL string        // sector universe + members host
	HistBaseURL string        // kline + trends host
	PageSize    int           // rows per list page
	Timeout     time.Duration // per-call HTTP timeout
	RateLimit   float64       // upstream requests per second, 0 = unlimited
	DailyDays   int           // calendar days of daily history to request
}

// Client fetches market reference data from the upstream source.
type Client struct {
	cfg      Config
	limiter  *rate.Limiter
	location *time.Location
	log      zerolog.Logger

	mu         sync.Mutex
	transports map[string]*http.Client // keyed by credential address
}

// NewClient creates an upstream client. Zero config fields get production
// defaults.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.ListBaseURL == "" {
		cfg.ListBaseURL = "https://push2.eastmoney.com"
	}
	if cfg.HistBaseURL == "" {
		cfg.HistBaseURL = "https://push2his.eastmoney.com"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.DailyDays <= 0 {
		cfg.DailyDays = 90
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.FixedZone("CST", 8*3600)
	}

	return &Client{
		cfg:        cfg,
		limiter:    limiter,
		location:   loc,
		log:        log.With().Str("client", "eastmoney").Logger(),
		transports: make(map[string]*http.Client),
	}
}

// FetchSectors retrieves the full concept-board universe.
func (c *Client) FetchSectors(ctx context.Context, cred proxy.Credential) ([]domain.Sector, error) {
	query := url.Values{
		"po":     {"1"},
		"np":     {"1"},
		"fltt":   {"2"},
		"invt":   {"2"},
		"fid":    {"f62"},
		"fs":     {"m:90 t:3"},
		"fields": {"f12,f14,f3,f62,f66,f78,f124"},
	}

	rows, err := c.fetchAllPages(ctx, "sector-universe", query, cred)
	if err != nil {
		return nil, err
	}

	sectors := make([]domain.Sector, 0, len(rows))
	for _, raw := range rows {
		var row sectorRow
		if err := json.Unmarshal(raw, &row); err != nil {
			c.log.Warn().Err(err).Msg("Dropping unconvertible sector row")
			continue
		}
		sector, err := row.toDomain()
		if err != nil {
			c.log.Warn().Err(err).Msg("Dropping invalid sector row")
			continue
		}
		sectors = append(sectors, sector)
	}
	if len(sectors) == 0 {
		return nil, emptyErr("sector-universe")
	}
	return sectors, nil
}

// FetchMembers retrieves the member instruments of one sector.
func (c *Client) FetchMembers(ctx context.Context, sectorID string, cred proxy.Credential) ([]domain.Member, error) {
	query := url.Values{
		"po":     {"1"},
		"np":     {"1"},
		"fltt":   {"2"},
		"invt":   {"2"},
		"fid":    {"f62"},
		"fs":     {"b:" + sectorID},
		"fields": {"f12,f14,f3,f13"},
	}

	rows, err := c.fetchAllPages(ctx, "sector-members:"+sectorID, query, cred)
	if err != nil {
		return nil, err
	}

	members := make([]domain.Member, 0, len(rows))
	for _, raw := range rows {
		var row memberRow
		if err := json.Unmarshal(raw, &row); err != nil {
			c.log.Warn().Err(err).Str("sector", sectorID).Msg("Dropping unconvertible member row")
			continue
		}
		member, err := row.toDomain(sectorID)
		if err != nil {
			c.log.Warn().Err(err).Str("sector", sectorID).Msg("Dropping invalid member row")
			continue
		}
		members = append(members, member)
	}
	if len(members) == 0 {
		return nil, emptyErr("sector-members:" + sectorID)
	}
	return members, nil
}

// FetchDaily retrieves the recent daily candles for one instrument,
// forward-adjusted. Rows arrive oldest first.
func (c *Client) FetchDaily(ctx context.Context, m domain.Member, cred proxy.Credential) ([]domain.Bar, error) {
	target := "daily:" + m.Code
	now := time.Now().In(c.location)

	query := url.Values{
		"secid":   {m.SecID()},
		"klt":     {"101"},
		"fqt":     {"1"},
		"beg":     {now.AddDate(0, 0, -c.cfg.DailyDays).Format("20060102")},
		"end":     {now.Format("20060102")},
		"fields1": {"f1,f2,f3,f4,f5,f6"},
		"fields2": {"f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61"},
	}

	body, err := c.get(ctx, c.cfg.HistBaseURL+klinePath+"?"+query.Encode(), cred, target)
	if err != nil {
		return nil, err
	}

	var envelope seriesEnvelope
	if err := json.Unmarshal(stripCallback(body), &envelope); err != nil {
		return nil, parseErr(target, err)
	}
	if len(envelope.Data.Klines) == 0 {
		return nil, emptyErr(target)
	}

	bars := make([]domain.Bar, 0, len(envelope.Data.Klines))
	for _, line := range envelope.Data.Klines {
		bar, err := parseKline(m.Code, line)
		if err != nil {
			return nil, parseErr(target, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// FetchIntraday retrieves the minute trend samples for one instrument.
func (c *Client) FetchIntraday(ctx context.Context, m domain.Member, cred proxy.Credential) ([]domain.TrendPoint, error) {
	target := "intraday:" + m.Code

	query := url.Values{
		"secid":   {m.SecID()},
		"ndays":   {"1"},
		"iscr":    {"0"},
		"fields1": {"f1,f2,f3,f4,f5,f6,f7,f8,f9,f10,f11,f12,f13"},
		"fields2": {"f51,f52,f53,f54,f55,f56,f57,f58"},
	}

	body, err := c.get(ctx, c.cfg.HistBaseURL+trendsPath+"?"+query.Encode(), cred, target)
	if err != nil {
		return nil, err
	}

	var envelope seriesEnvelope
	if err := json.Unmarshal(stripCallback(body), &envelope); err != nil {
		return nil, parseErr(target, err)
	}
	if len(envelope.Data.Trends) == 0 {
		return nil, emptyErr(target)
	}

	points := make([]domain.TrendPoint, 0, len(envelope.Data.Trends))
	for _, line := range envelope.Data.Trends {
		point, err := parseTrend(m.Code, c.location, line)
		if err != nil {
			return nil, parseErr(target, err)
		}
		points = append(points, point)
	}
	return points, nil
}

// fetchAllPages walks a paginated list endpoint until a page comes back empty
// or the accumulated row count reaches the reported total.
func (c *Client) fetchAllPages(ctx context.Context, target string, query url.Values, cred proxy.Credential) ([]json.RawMessage, error) {
	all := make([]json.RawMessage, 0, c.cfg.PageSize)
	total := -1

	for page := 1; page <= maxPages; page++ {
		query.Set("pz", fmt.Sprintf("%d", c.cfg.PageSize))
		query.Set("pn", fmt.Sprintf("%d", page))

		body, err := c.get(ctx, c.cfg.ListBaseURL+listPath+"?"+query.Encode(), cred, target)
		if err != nil {
			return nil, err
		}

		var envelope listEnvelope
		if err := json.Unmarshal(stripCallback(body), &envelope); err != nil {
			return nil, parseErr(target, err)
		}

		if total < 0 {
			total = envelope.Data.Total
		}
		if len(envelope.Data.Rows) == 0 {
			break
		}
		all = append(all, envelope.Data.Rows...)

		c.log.Debug().
			Str("target", target).
			Int("page", page).
			Int("rows", len(all)).
			Int("total", total).
			Msg("Fetched page")

		if len(all) >= total {
			break
		}
	}

	if len(all) == 0 {
		return nil, emptyErr(target)
	}
	return all, nil
}

// get performs one rate-limited HTTP round-trip through the given credential.
func (c *Client) get(ctx context.Context, rawURL string, cred proxy.Credential, target string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, transientErr(target, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", target, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := c.httpClient(cred).Do(req)
	if err != nil {
		return nil, transientErr(target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, transientErr(target, fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transientErr(target, err)
	}
	return body, nil
}

// httpClient returns a client routed through the credential's proxy.
// Clients are cached per proxy address so a chunk reuses its connection pool.
func (c *Client) httpClient(cred proxy.Credential) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cred.Address
	if client, ok := c.transports[key]; ok {
		return client
	}

	client := &http.Client{Timeout: c.cfg.Timeout}
	if !cred.IsZero() {
		if proxyURL, err := cred.URL(); err == nil {
			client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	c.transports[key] = client
	return client
}
