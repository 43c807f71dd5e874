// Package tts turns text into decoded speech. The pipeline prefers the local
// audio cache and otherwise asks the remote synthesis API for an audio URL,
// downloads the compressed audio, caches it and streams the decoded PCM to a
// sink.
package tts

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/milora-tts/internal/cache"
	"github.com/book-expert/milora-tts/internal/core"
	"github.com/book-expert/milora-tts/internal/telemetry"
	"github.com/book-expert/milora-tts/internal/tts/text"
	"github.com/book-expert/milora-tts/internal/tts/ttsutils"
)

// Synthesis API defaults.
const (
	DefaultAPIURL = "https://api.milorapart.top/apis/mbAIsc"
	DefaultFormat = "mp3"

	queryText   = "text"
	queryFormat = "format"

	previewRunes = 30
)

// Log formats.
const (
	logFmtRejected  = "[%s] Ignoring text without letters or digits: %q"
	logFmtRequest   = "[%s] Synthesis request: %s"
	logFmtCacheHit  = "[%s] Cache hit %s"
	logFmtCacheMiss = "[%s] Cache miss %s, calling synthesis API"
	logFmtBadCache  = "[%s] Cached entry %s is not decodable, refetching: %v"
	logFmtFinished  = "[%s] Synthesis %s in %s"
	logFmtFailed    = "[%s] Synthesis failed after %s: %v"
	logFmtCancelled = "[%s] Synthesis cancelled after %s"
	logFmtCacheFail = "[%s] Failed to cache audio, continuing without it: %v"
)

// AudioCache is the pipeline's view of the audio cache.
type AudioCache interface {
	Lookup(key cache.Key) ([]byte, bool)
	Put(key cache.Key, data []byte) error
	Remove(key cache.Key)
}

// Fetcher is the pipeline's view of the HTTP layer.
type Fetcher interface {
	GetText(ctx context.Context, url string) (string, error)
	GetBytes(ctx context.Context, url string) ([]byte, error)
}

// PipelineConfig holds the synthesis API location.
type PipelineConfig struct {
	APIURL string
	Format string
}

// Pipeline runs one synthesis request at a time on the caller's goroutine.
// Concurrency control lives in Service.
type Pipeline struct {
	apiURL  *url.URL
	format  string
	cache   AudioCache
	fetcher Fetcher
	decoder *Decoder
	log     *logger.Logger
	metrics *telemetry.Instruments
}

// NewPipeline creates a Pipeline.
func NewPipeline(
	cfg PipelineConfig,
	audioCache AudioCache,
	fetcher Fetcher,
	decoder *Decoder,
	log *logger.Logger,
	metrics *telemetry.Instruments,
) (*Pipeline, error) {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}

	if cfg.Format == "" {
		cfg.Format = DefaultFormat
	}

	apiURL, err := url.Parse(cfg.APIURL)
	if err != nil {
		return nil, fmt.Errorf("invalid synthesis API URL %q: %w", cfg.APIURL, err)
	}

	if metrics == nil {
		metrics = telemetry.Noop()
	}

	return &Pipeline{
		apiURL:  apiURL,
		format:  cfg.Format,
		cache:   audioCache,
		fetcher: fetcher,
		decoder: decoder,
		log:     log,
		metrics: metrics,
	}, nil
}

// Run synthesizes input and reports the result to sink: Done on success
// (including rejected input and an early stop by the sink), Error on
// failure, nothing on cancellation. The returned error mirrors what was
// reported; it is the context's error for a cancelled request.
func (p *Pipeline) Run(ctx context.Context, requestID, input string, sink core.Sink) error {
	if !text.IsSpeakable(input) {
		p.log.Info(logFmtRejected, requestID, input)
		p.metrics.RecordRequest(ctx, telemetry.OutcomeRejected)
		sink.Done()

		return nil
	}

	p.log.Info(logFmtRequest, requestID, ttsutils.Preview(input, previewRunes))

	started := time.Now()
	outcome, err := p.synthesize(ctx, requestID, input, sink)

	return p.finish(ctx, requestID, started, outcome, err, sink)
}

func (p *Pipeline) synthesize(
	ctx context.Context,
	requestID, input string,
	sink core.Sink,
) (Outcome, error) {
	key := cache.KeyFor(input)

	cached, hit := p.cache.Lookup(key)
	if hit {
		p.log.Info(logFmtCacheHit, requestID, key.FileName())

		result, err := p.decoder.Decode(ctx, cached, sink)
		if err == nil || result.Started || !errors.Is(err, ErrDecode) {
			return result.Outcome, err
		}

		p.log.Warn(logFmtBadCache, requestID, key.FileName(), err)
		p.cache.Remove(key)
	} else {
		p.log.Info(logFmtCacheMiss, requestID, key.FileName())
	}

	audio, err := p.download(ctx, input)
	if err != nil {
		return 0, err
	}

	putErr := p.cache.Put(key, audio)
	if putErr != nil {
		p.log.Warn(logFmtCacheFail, requestID, putErr)
	}

	result, err := p.decoder.Decode(ctx, audio, sink)

	return result.Outcome, err
}

// download calls the synthesis API and fetches the audio it points at.
func (p *Pipeline) download(ctx context.Context, input string) ([]byte, error) {
	body, err := p.fetcher.GetText(ctx, p.requestURL(input))
	if err != nil {
		return nil, fmt.Errorf("synthesis API call failed: %w", err)
	}

	ctxErr := ctx.Err()
	if ctxErr != nil {
		return nil, ctxErr
	}

	envelope, err := ParseEnvelope([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	if !envelope.OK() {
		return nil, fmt.Errorf("%w: code %d: %s", ErrInvalidResponse, envelope.Code, envelope.Message)
	}

	if envelope.URL == "" {
		return nil, fmt.Errorf("%w: no audio url", ErrInvalidResponse)
	}

	audio, err := p.fetcher.GetBytes(ctx, envelope.URL)
	if err != nil {
		return nil, fmt.Errorf("audio download failed: %w", err)
	}

	ctxErr = ctx.Err()
	if ctxErr != nil {
		return nil, ctxErr
	}

	return audio, nil
}

func (p *Pipeline) requestURL(input string) string {
	requestURL := *p.apiURL

	query := requestURL.Query()
	query.Set(queryText, input)
	query.Set(queryFormat, p.format)
	requestURL.RawQuery = query.Encode()

	return requestURL.String()
}

func (p *Pipeline) finish(
	ctx context.Context,
	requestID string,
	started time.Time,
	outcome Outcome,
	err error,
	sink core.Sink,
) error {
	elapsed := ttsutils.FormatDuration(time.Since(started).Seconds())

	// A sink cut off by cancellation also reports Stop.
	if err == nil && outcome == Stopped && ctx.Err() != nil {
		err = ctx.Err()
	}

	if err == nil {
		label := telemetry.OutcomeDone
		if outcome == Stopped {
			label = telemetry.OutcomeStopped
		}

		p.log.Info(logFmtFinished, requestID, label, elapsed)
		p.metrics.RecordRequest(ctx, label)
		sink.Done()

		return nil
	}

	// Cancellation is decided by ctx, not by what err wraps: attempts that
	// timed out leave context.DeadlineExceeded inside ErrNetwork.
	if ctx.Err() != nil {
		p.log.Info(logFmtCancelled, requestID, elapsed)
		p.metrics.RecordRequest(context.WithoutCancel(ctx), telemetry.OutcomeCanceled)

		return err
	}

	p.log.Error(logFmtFailed, requestID, elapsed, err)
	p.metrics.RecordRequest(context.WithoutCancel(ctx), telemetry.OutcomeFailed)
	sink.Error(errorKind(err))

	return err
}
