// Package download implements the retrying asset fetcher used by every
// posterpack export. A nil result means "asset unavailable" and is never a
// fatal condition for callers.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/posterforge/posterforge/internal/config"
	"github.com/posterforge/posterforge/internal/limiter"
)

// Kind selects the request timeout for an asset class.
type Kind string

const (
	// KindImage covers posters, backgrounds, logos, fan-art and person
	// thumbnails.
	KindImage Kind = "image"
	// KindMedia covers trailer and theme payloads, which are much larger.
	KindMedia Kind = "media"
)

// Fetcher downloads one asset with URL normalization, bounded retries and
// error classification. All fetches anywhere in the process share the same
// limiter.
type Fetcher struct {
	cfg         config.DownloadConfig
	limiter     *limiter.Limiter
	imageClient *http.Client
	mediaClient *http.Client
	logger      *zap.Logger
}

// NewFetcher creates a fetcher sharing the given process-wide limiter.
func NewFetcher(cfg config.DownloadConfig, lim *limiter.Limiter, logger *zap.Logger) *Fetcher {
	transport := &http.Transport{
		MaxIdleConns:        20,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Fetcher{
		cfg:         cfg,
		limiter:     lim,
		imageClient: &http.Client{Timeout: cfg.ImageTimeout, Transport: transport},
		mediaClient: &http.Client{Timeout: cfg.MediaTimeout, Transport: transport},
		logger:      logger.Named("fetcher"),
	}
}

// Fetch downloads the asset at rawURL. Relative or library-internal paths
// are rewritten into a local proxy request carrying the originating server's
// name. Returns nil if the asset could not be retrieved; callers must treat
// that as "asset unavailable", not as an error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, serverName string, kind Kind) []byte {
	target := f.normalizeURL(rawURL, serverName)
	attempts := f.cfg.MaxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		data, status, err := f.attempt(ctx, target, kind)
		if err == nil && status >= 200 && status < 300 {
			return data
		}

		retriable := false
		switch {
		case err != nil:
			retriable = retriableError(err)
		default:
			retriable = retriableStatus(status)
		}

		if !retriable {
			f.logger.Warn("download failed",
				zap.String("url", target),
				zap.Int("status", status),
				zap.Error(err))
			return nil
		}
		if attempt == attempts-1 {
			break
		}

		delay := f.backoff(attempt)
		f.logger.Warn("retrying download",
			zap.String("url", target),
			zap.Int("attempt", attempt+1),
			zap.Int("remaining", attempts-attempt-1),
			zap.Duration("delay", delay),
			zap.Int("status", status),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}

	f.logger.Warn("download retries exhausted", zap.String("url", target))
	return nil
}

// attempt performs a single HTTP GET gated by the process-wide limiter.
func (f *Fetcher) attempt(ctx context.Context, target string, kind Kind) ([]byte, int, error) {
	if err := f.limiter.Acquire(ctx); err != nil {
		return nil, 0, err
	}
	defer f.limiter.Release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "posterforge/1.0")

	client := f.imageClient
	if kind == KindMedia {
		client = f.mediaClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

// normalizeURL leaves absolute URLs untouched and rewrites everything else
// into a local proxy request that carries the server's logical name.
func (f *Fetcher) normalizeURL(raw, serverName string) string {
	if u, err := url.Parse(raw); err == nil && u.IsAbs() {
		return raw
	}
	q := url.Values{}
	q.Set("server", serverName)
	q.Set("path", raw)
	return f.cfg.ProxyBaseURL + "?" + q.Encode()
}

// backoff returns base * 2^attempt plus random jitter up to half the base.
func (f *Fetcher) backoff(attempt int) time.Duration {
	base := f.cfg.RetryBaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	delay := base << uint(attempt)
	jitter := time.Duration(rand.Int63n(int64(base)/2 + 1))
	return delay + jitter
}

// retriableStatus reports whether an HTTP status is worth another attempt.
func retriableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// retriableError reports whether a transport error belongs to the fixed
// retriable set: timeouts, connection reset, DNS failure, connection abort.
func retriableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED)
}
