package tts

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/milora-tts/internal/cache"
	"github.com/book-expert/milora-tts/internal/config"
	"github.com/book-expert/milora-tts/internal/core"
	"github.com/book-expert/milora-tts/internal/fetch"
	"github.com/book-expert/milora-tts/internal/settings"
	"github.com/book-expert/milora-tts/internal/telemetry"
	"github.com/google/uuid"
)

// ServiceOption is a functional option for configuring the service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	codec      Codec
	httpClient *http.Client
}

// WithCodec replaces the MP3 codec.
func WithCodec(codec Codec) ServiceOption {
	return func(o *serviceOptions) {
		o.codec = codec
	}
}

// WithHTTPClient replaces the HTTP client used for the synthesis API and the
// audio download.
func WithHTTPClient(client *http.Client) ServiceOption {
	return func(o *serviceOptions) {
		o.httpClient = client
	}
}

// request is one synthesis in flight.
type request struct {
	id     string
	cancel context.CancelFunc
	guard  *guardedSink
	done   chan struct{}
	err    error
}

// Service is the engine: it owns the cache, the settings and the single
// active-request slot. A new request preempts the active one.
type Service struct {
	pipeline *Pipeline
	cache    *cache.Store
	settings *settings.Store
	log      *logger.Logger

	mu     sync.Mutex
	active *request
	closed bool
	wg     sync.WaitGroup
}

// NewService wires the settings store, the cache, the fetcher, the decoder
// and the pipeline from cfg.
func NewService(
	cfg *config.Config,
	log *logger.Logger,
	metrics *telemetry.Instruments,
	opts ...ServiceOption,
) (*Service, error) {
	var options serviceOptions
	for _, opt := range opts {
		opt(&options)
	}

	if metrics == nil {
		metrics = telemetry.Noop()
	}

	prefs, err := settings.Open(cfg.Cache.SettingsFile, cfg.Cache.DefaultLimit, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings: %w", err)
	}

	store, err := cache.New(cfg.Cache.Dir, prefs, log, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio cache: %w", err)
	}

	fetcher := fetch.New(fetch.Options{
		MaxAttempts: cfg.Synthesis.MaxAttempts,
		RetryDelay:  cfg.Synthesis.RetryDelay(),
		Timeout:     cfg.Synthesis.Timeout(),
		HTTPClient:  options.httpClient,
	}, log, metrics)

	pipeline, err := NewPipeline(
		PipelineConfig{APIURL: cfg.Synthesis.APIURL, Format: cfg.Synthesis.Format},
		store,
		fetcher,
		NewDecoder(options.codec, log, metrics),
		log,
		metrics,
	)
	if err != nil {
		store.Close()

		return nil, err
	}

	log.Info("Synthesis service ready: cache %s, limit %d", store.Dir(), prefs.CacheLimit())

	return &Service{
		pipeline: pipeline,
		cache:    store,
		settings: prefs,
		log:      log,
	}, nil
}

// Start cancels the active request, if any, and starts synthesizing text
// into sink on a new goroutine. It returns the new request ID without
// waiting for the previous request; the new request does not touch its sink
// until the previous one has unwound.
//
// Sink methods must not call back into the Service.
func (s *Service) Start(ctx context.Context, text string, sink core.Sink) (string, error) {
	req, err := s.start(ctx, text, sink)
	if err != nil {
		return "", err
	}

	return req.id, nil
}

// Synthesize is the blocking form of Start. It returns when the request
// completes, fails, is stopped or is preempted by a newer request.
func (s *Service) Synthesize(ctx context.Context, text string, sink core.Sink) error {
	req, err := s.start(ctx, text, sink)
	if err != nil {
		return err
	}

	<-req.done

	return req.err
}

// Stop cancels the active request. Once Stop returns the request's sink
// receives no further calls.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.log.Info("[%s] Stop requested", s.active.id)
		s.active.abort()
	}
}

// ClearCache deletes every cached file on the maintenance worker. The
// channel receives the number of files removed.
func (s *Service) ClearCache() <-chan cache.ClearResult {
	return s.cache.ClearAllAsync()
}

// SetCacheLimit persists a new cache limit and trims the cache to it.
func (s *Service) SetCacheLimit(limit int) error {
	err := s.settings.SetCacheLimit(limit)
	if err != nil {
		return fmt.Errorf("failed to set cache limit: %w", err)
	}

	s.cache.RequestEviction()

	return nil
}

// CacheLimit returns the current cache limit.
func (s *Service) CacheLimit() int {
	return s.settings.CacheLimit()
}

// Close cancels the active request, waits for every request goroutine and
// stops the cache maintenance worker. Later requests fail with
// ErrServiceClosed.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return
	}

	s.closed = true

	if s.active != nil {
		s.active.abort()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.cache.Close()
}

func (s *Service) start(ctx context.Context, text string, sink core.Sink) (*request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrServiceClosed
	}

	previous := s.active
	if previous != nil {
		s.log.Info("[%s] Preempted by a new request", previous.id)
		previous.abort()
	}

	reqCtx, cancel := context.WithCancel(ctx)
	req := &request{
		id:     uuid.NewString(),
		cancel: cancel,
		guard:  &guardedSink{sink: sink},
		done:   make(chan struct{}),
	}

	s.active = req
	s.wg.Add(1)

	go s.run(reqCtx, req, previous, text)

	return req, nil
}

func (s *Service) run(ctx context.Context, req, previous *request, text string) {
	defer s.wg.Done()

	if previous != nil {
		<-previous.done
	}

	req.err = s.pipeline.Run(ctx, req.id, text, req.guard)
	req.cancel()

	s.mu.Lock()
	if s.active == req {
		s.active = nil
	}
	s.mu.Unlock()

	close(req.done)
}

// abort cancels the request and cuts it off from its sink.
func (r *request) abort() {
	r.cancel()
	r.guard.revoke()
}

// guardedSink forwards to the host sink until revoked. revoke waits for a
// call in progress, so nothing reaches the host sink after it returns.
type guardedSink struct {
	mu      sync.Mutex
	revoked bool
	sink    core.Sink
}

func (g *guardedSink) revoke() {
	g.mu.Lock()
	g.revoked = true
	g.mu.Unlock()
}

func (g *guardedSink) Start(format core.AudioFormat) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.revoked {
		g.sink.Start(format)
	}
}

func (g *guardedSink) Write(chunk []byte) core.Signal {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.revoked {
		return core.Stop
	}

	return g.sink.Write(chunk)
}

func (g *guardedSink) Error(kind core.ErrorKind) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.revoked {
		g.sink.Error(kind)
	}
}

func (g *guardedSink) Done() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.revoked {
		g.sink.Done()
	}
}
