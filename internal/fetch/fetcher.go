package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"

	"github.com/oshokin/formula-install/internal/logger"
)

var (
	// ErrNotFound is returned for a 404; it is never retried.
	ErrNotFound = errors.New("artifact not found")
	// ErrRateLimited is returned for a 429.
	ErrRateLimited = errors.New("rate limited by upstream")
	// ErrUpstreamDown is returned for 5xx responses and open circuits.
	ErrUpstreamDown = errors.New("upstream unavailable")
	// ErrCircuitOpen is returned without a request when a host failed too often.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrUnexpectedStatus is returned for any other non-2xx status.
	ErrUnexpectedStatus = errors.New("unexpected http status")
	// ErrTooLarge is returned by Get when the body exceeds the limit.
	ErrTooLarge = errors.New("response too large")
)

const (
	defaultUserAgent = "formula-install"
	defaultBaseDelay = 500 * time.Millisecond
	// errorBodyLimit bounds the response excerpt kept in unexpected-status errors.
	errorBodyLimit = 512
)

// Fetcher downloads artifacts.
type Fetcher struct {
	client    *http.Client
	userAgent string
	retries   int
	baseDelay time.Duration
	timeout   time.Duration
	breakers  *breakers
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the DNS-cached client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(f *Fetcher) {
		if userAgent != "" {
			f.userAgent = userAgent
		}
	}
}

// WithRetries sets how many extra attempts follow a transient failure.
func WithRetries(n int) Option {
	return func(f *Fetcher) {
		if n >= 0 {
			f.retries = n
		}
	}
}

// WithBaseDelay sets the first backoff interval between retries.
func WithBaseDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.baseDelay = d
		}
	}
}

// WithTimeout bounds each attempt, body included. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d >= 0 {
			f.timeout = d
		}
	}
}

// WithBreakerThreshold opens a host's circuit after n consecutive failures.
// Zero or a negative n disables circuit breaking.
func WithBreakerThreshold(n int64) Option {
	return func(f *Fetcher) {
		f.breakers = newBreakers(n)
	}
}

// NewFetcher creates a Fetcher that makes a single attempt per download.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Transport: newTransport(&dnscache.Resolver{}),
		},
		userAgent: defaultUserAgent,
		baseDelay: defaultBaseDelay,
		breakers:  newBreakers(0),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// DownloadFile streams url into path, truncating it on every attempt.
func (f *Fetcher) DownloadFile(ctx context.Context, url, path string) (int64, error) {
	var written int64

	err := f.do(ctx, url, func(body io.Reader) error {
		file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}

		written, err = io.Copy(file, body)
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}

		if err != nil {
			return fmt.Errorf("read body of %s: %w", url, err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return written, nil
}

// Get returns the body of url, failing with ErrTooLarge past limit bytes.
func (f *Fetcher) Get(ctx context.Context, url string, limit int64) ([]byte, error) {
	var contents []byte

	err := f.do(ctx, url, func(body io.Reader) error {
		var err error

		contents, err = io.ReadAll(io.LimitReader(body, limit+1))
		if err != nil {
			return fmt.Errorf("read body of %s: %w", url, err)
		}

		if int64(len(contents)) > limit {
			return fmt.Errorf("%s: %w: more than %d bytes", url, ErrTooLarge, limit)
		}

		return nil
	})

	return contents, err
}

// BreakerStates reports the circuit of every host contacted so far.
func (f *Fetcher) BreakerStates() map[string]string {
	return f.breakers.states()
}

// do runs consume against a successful response, with retry and circuit breaking around it.
func (f *Fetcher) do(ctx context.Context, url string, consume func(io.Reader) error) error {
	host := hostOf(url)

	breaker := f.breakers.get(host)
	if breaker != nil && !breaker.Ready() {
		return fmt.Errorf("%s: %w: %w", host, ErrCircuitOpen, ErrUpstreamDown)
	}

	operation := func() error {
		err := f.attempt(ctx, url, consume)
		if err != nil && !retryable(ctx, err) {
			return backoff.Permanent(err)
		}

		return err
	}

	policy := backoff.WithContext(f.retryPolicy(), ctx)

	notify := func(err error, wait time.Duration) {
		logger.WarnKV(ctx, "Download failed, retrying", "url", url, "error", err, "wait", wait)
	}

	if breaker == nil {
		return backoff.RetryNotify(operation, policy, notify)
	}

	var result error

	callErr := breaker.Call(func() error {
		result = backoff.RetryNotify(operation, policy, notify)
		if result != nil && countsAgainstHost(ctx, result) {
			return result
		}

		return nil
	}, 0)

	if result != nil {
		return result
	}

	if callErr != nil {
		return fmt.Errorf("%s: %w: %w", host, ErrCircuitOpen, ErrUpstreamDown)
	}

	return nil
}

// retryPolicy allows exactly f.retries extra attempts. WithMaxRetries treats
// zero as unlimited, so the single-attempt case stops right away instead.
func (f *Fetcher) retryPolicy() backoff.BackOff {
	if f.retries == 0 {
		return &backoff.StopBackOff{}
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = f.baseDelay
	// The attempt count is the only bound.
	expBackoff.MaxElapsedTime = 0

	//nolint:gosec // retries is validated non-negative.
	return backoff.WithMaxRetries(expBackoff, uint64(f.retries))
}

func (f *Fetcher) attempt(ctx context.Context, url string, consume func(io.Reader) error) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	request.Header.Set("User-Agent", f.userAgent)
	request.Header.Set("Accept", "*/*")

	logger.DebugKV(ctx, "Requesting", "url", url)

	response, err := f.client.Do(request)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if err = classifyStatus(url, response); err != nil {
		return err
	}

	return consume(response.Body)
}

func classifyStatus(url string, response *http.Response) error {
	switch code := response.StatusCode; {
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		return nil
	case code == http.StatusNotFound:
		return fmt.Errorf("%s: %w", url, ErrNotFound)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", url, ErrRateLimited)
	case code >= http.StatusInternalServerError:
		return fmt.Errorf("%s, %s: %w", url, response.Status, ErrUpstreamDown)
	default:
		excerpt, _ := io.ReadAll(io.LimitReader(response.Body, errorBodyLimit))

		return fmt.Errorf("%s, %s: %w: %s", url, response.Status, ErrUnexpectedStatus, excerpt)
	}
}

// retryable reports whether another attempt could succeed.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnexpectedStatus), errors.Is(err, ErrTooLarge):
		return false
	case errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

// countsAgainstHost reports whether err says something about the host's health.
func countsAgainstHost(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	return !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrUnexpectedStatus) && !errors.Is(err, ErrTooLarge)
}
