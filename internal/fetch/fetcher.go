// Package fetch performs HTTP GET requests against the synthesis API and the
// audio host with a bounded, cancellable retry loop.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/milora-tts/internal/telemetry"
	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
)

// Default retry policy.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultTimeout     = 15 * time.Second
)

// Static errors.
var (
	// ErrNetwork is returned once every attempt has failed.
	ErrNetwork = errors.New("network request failed")

	errEmptyBody = errors.New("empty response body")
)

// Error format strings.
const (
	errFmtUnexpectedStatus = "unexpected status %s"
	errFmtExhausted        = "%w: GET %s failed after %d attempts: %w"
	errFmtCancelled        = "GET %s cancelled: %w"
	logFmtAttemptFailed    = "GET attempt %d/%d for %s failed: %v; retrying in %s"
)

// StatusError reports a non-success HTTP status.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf(errFmtUnexpectedStatus, e.Status)
}

// Options configures a Fetcher. Zero values select the defaults.
type Options struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Fetcher issues GET requests with retries. It is safe for concurrent use.
type Fetcher struct {
	httpClient  *http.Client
	maxAttempts int
	retryDelay  time.Duration
	timeout     time.Duration
	log         *logger.Logger
	metrics     *telemetry.Instruments
}

// New creates a Fetcher.
func New(opts Options, log *logger.Logger, metrics *telemetry.Instruments) *Fetcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}

	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	} else if opts.RetryDelay == 0 {
		opts.RetryDelay = DefaultRetryDelay
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	if metrics == nil {
		metrics = telemetry.Noop()
	}

	return &Fetcher{
		httpClient:  client,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		timeout:     opts.Timeout,
		log:         log,
		metrics:     metrics,
	}
}

// GetText fetches url and returns the body as a string.
func (f *Fetcher) GetText(ctx context.Context, url string) (string, error) {
	body, err := f.get(ctx, url, true)
	if err != nil {
		return "", err
	}

	return string(body), nil
}

// GetBytes fetches url and returns the body. An empty body counts as a failed
// attempt.
func (f *Fetcher) GetBytes(ctx context.Context, url string) ([]byte, error) {
	body, err := f.get(ctx, url, false)
	if err != nil {
		return nil, err
	}

	f.log.Info("Downloaded %s from %s", humanize.Bytes(uint64(len(body))), url)

	return body, nil
}

func (f *Fetcher) get(ctx context.Context, url string, allowEmpty bool) ([]byte, error) {
	var (
		body     []byte
		attempts int
	)

	operation := func() error {
		attempts++

		data, err := f.attempt(ctx, url)
		if err == nil && !allowEmpty && len(data) == 0 {
			err = errEmptyBody
		}

		if err != nil {
			f.metrics.RecordFetchAttempt(ctx, telemetry.ResultFailure)

			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}

			return err
		}

		f.metrics.RecordFetchAttempt(ctx, telemetry.ResultSuccess)
		body = data

		return nil
	}

	notify := func(err error, wait time.Duration) {
		f.log.Warn(logFmtAttemptFailed, attempts, f.maxAttempts, url, err, wait)
	}

	err := backoff.RetryNotify(operation, f.policy(ctx), notify)
	if err != nil {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return nil, fmt.Errorf(errFmtCancelled, url, ctxErr)
		}

		f.log.Error("GET %s gave up after %d attempts: %v", url, attempts, err)

		return nil, fmt.Errorf(errFmtExhausted, ErrNetwork, url, attempts, err)
	}

	return body, nil
}

// policy returns a constant delay schedule allowing maxAttempts-1 retries that
// stops as soon as ctx is done.
func (f *Fetcher) policy(ctx context.Context) backoff.BackOffContext {
	if f.maxAttempts == 1 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}

	retries := uint64(f.maxAttempts - 1)

	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(f.retryDelay), retries),
		ctx,
	)
}

// attempt performs one GET on its own request and reads the body in full.
func (f *Fetcher) attempt(ctx context.Context, url string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return body, nil
}
