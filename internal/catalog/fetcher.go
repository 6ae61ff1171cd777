package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
	"unicode/utf8"
)

const (
	// DefaultFeedURL is used when neither an override nor a configured URL is present.
	DefaultFeedURL = "https://famme.no/products.json"
	// DefaultFallbackURL is the mirror consulted when the primary feed is empty.
	DefaultFallbackURL = "https://r.jina.ai/http://famme.no/products.json"
	// DefaultUserAgent identifies the fetcher to upstream servers.
	DefaultUserAgent = "Mozilla/5.0 (compatible; catalog-sync/1.0; +https://github.com/techmist/catalog-sync)"

	// DefaultMaxBodyBytes caps a feed response body.
	DefaultMaxBodyBytes int64 = 32 << 20

	snippetLimit = 300
)

var errBodyTooLarge = errors.New("response body exceeds limit")

// FetcherConfig configures feed retrieval.
type FetcherConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	UserAgent      string
	AcceptLanguage string
	MaxBodyBytes   int64
	Logger         *slog.Logger
}

// Fetcher performs GET requests against feed URLs.
type Fetcher struct {
	client         *http.Client
	userAgent      string
	acceptLanguage string
	maxBodyBytes   int64
	logger         *slog.Logger
}

// NewFetcher builds a Fetcher. ConnectTimeout bounds dialing, ReadTimeout bounds the whole exchange.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 20 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = "en-US,en;q=0.9"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout
	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.ReadTimeout,
		},
		userAgent:      cfg.UserAgent,
		acceptLanguage: cfg.AcceptLanguage,
		maxBodyBytes:   cfg.MaxBodyBytes,
		logger:         logger,
	}
}

// Fetch returns the response body of a GET against url. Redirects are followed.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Kind: FetchKindNetwork, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept-Language", f.acceptLanguage)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Kind: classifyTransportError(err), Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, &FetchError{URL: url, Kind: classifyTransportError(err), Err: err}
	}
	if int64(len(body)) > f.maxBodyBytes {
		f.logger.Warn("feed fetch", slog.String("url", url), slog.Int64("limit_bytes", f.maxBodyBytes), slog.String("outcome", "ERR"))
		return nil, &FetchError{URL: url, Kind: FetchKindTooLarge, StatusCode: resp.StatusCode, Err: errBodyTooLarge}
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	outcome := "OK"
	if !ok {
		outcome = "ERR"
	}
	f.logger.Info("feed fetch",
		slog.String("url", url),
		slog.Int("status", resp.StatusCode),
		slog.String("outcome", outcome),
		slog.String("body_snippet", snippet(body, snippetLimit)))

	if !ok {
		return nil, &FetchError{URL: url, Kind: FetchKindStatus, StatusCode: resp.StatusCode}
	}
	return body, nil
}

func classifyTransportError(err error) FetchKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FetchKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FetchKindTimeout
	}
	return FetchKindNetwork
}

// snippet truncates body to at most limit runes.
func snippet(body []byte, limit int) string {
	if utf8.RuneCount(body) <= limit {
		return string(body)
	}
	out := make([]rune, 0, limit)
	for len(body) > 0 && len(out) < limit {
		r, size := utf8.DecodeRune(body)
		out = append(out, r)
		body = body[size:]
	}
	return string(out)
}
