// Package worker exposes the synthesis service on NATS: it turns
// TextProcessedEvents into WAV files in the audio object store and replies
// with an AudioChunkCreatedEvent.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/milora-tts/internal/core"
	"github.com/book-expert/milora-tts/internal/tts/audio"
	"github.com/book-expert/milora-tts/internal/tts/ttsutils"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	handleMessageTimeout = 2 * time.Minute
	audioKeySuffix       = ".wav"
	previewRunes         = 30
)

var (
	// ErrTextKeyEmpty indicates an event without a text object key.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrNoSpeech indicates text that produced no audio, such as punctuation only.
	ErrNoSpeech = errors.New("text contains nothing to speak")
)

// Subjects names the NATS subjects the worker listens on.
type Subjects struct {
	Synthesis string
	Stop      string
}

// NatsWorker listens for synthesis jobs on a NATS subject and processes them
// one at a time. A message on the stop subject cancels the job in progress.
type NatsWorker struct {
	natsConnection *nats.Conn
	subjects       Subjects
	texts          core.ObjectStore
	audio          core.ObjectStore
	synthesizer    core.Synthesizer
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subjects Subjects,
	texts core.ObjectStore,
	audioStore core.ObjectStore,
	synthesizer core.Synthesizer,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subjects:       subjects,
		texts:          texts,
		audio:          audioStore,
		synthesizer:    synthesizer,
		log:            log,
	}
}

// Run subscribes and blocks until ctx is cancelled, then drains both
// subscriptions and stops any job in progress.
func (w *NatsWorker) Run(ctx context.Context) error {
	jobs, err := w.natsConnection.Subscribe(w.subjects.Synthesis, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subjects.Synthesis, err)
	}

	var stops *nats.Subscription
	if w.subjects.Stop != "" {
		stops, err = w.natsConnection.Subscribe(w.subjects.Stop, w.handleStop)
		if err != nil {
			_ = jobs.Unsubscribe()

			return fmt.Errorf("failed to subscribe to subject %s: %w", w.subjects.Stop, err)
		}
	}

	w.log.System("Worker listening on %s (stop: %s)", w.subjects.Synthesis, w.subjects.Stop)

	<-ctx.Done()

	w.synthesizer.Stop()

	if stops != nil {
		drainErr := stops.Drain()
		if drainErr != nil {
			w.log.Warn("Failed to drain stop subscription: %v", drainErr)
		}
	}

	drainErr := jobs.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleStop(_ *nats.Msg) {
	w.log.Info("Stop requested over NATS")
	w.synthesizer.Stop()
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	audioKey, processErr := w.processJob(ctx, event)
	if processErr != nil && !errors.Is(processErr, ErrNoSpeech) {
		w.log.Error("Failed to process TTS job for event %s: %v", event.Header.WorkflowID, processErr)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processJob downloads the text, synthesizes it and uploads the WAV. Text
// with nothing to speak yields an empty key and ErrNoSpeech.
func (w *NatsWorker) processJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	textData, err := w.texts.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	text := string(textData)
	w.log.Info("Page %d/%d of workflow %s: %s",
		event.PageNumber, event.TotalPages, event.Header.WorkflowID, ttsutils.Preview(text, previewRunes))

	recorder := audio.NewRecorder(0)

	err = w.synthesizer.Synthesize(ctx, text, recorder)
	if err != nil {
		return "", fmt.Errorf("failed to synthesize speech: %w", err)
	}

	err = recorder.Err()
	if err != nil {
		return "", err
	}

	if _, started := recorder.Format(); !started {
		w.log.Warn("Workflow %s page %d has no speakable text", event.Header.WorkflowID, event.PageNumber)

		return "", ErrNoSpeech
	}

	wavData, err := recorder.WAV()
	if err != nil {
		return "", fmt.Errorf("failed to encode wav: %w", err)
	}

	audioKey := uuid.NewString() + audioKeySuffix

	err = w.audio.Upload(ctx, audioKey, wavData)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	w.log.Info("Uploaded %s: %s, %s of audio",
		audioKey, humanize.Bytes(uint64(len(wavData))), recorder.Duration().Round(time.Millisecond))

	return audioKey, nil
}

// publishReplyEvent marshals and responds with the AudioChunkCreatedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.TextKey == "" {
		return nil, ErrTextKeyEmpty
	}

	return &event, nil
}
