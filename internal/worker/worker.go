// Package worker provides the NATS request surface for ingest and
// audio-generation jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/pdf-audio-service/internal/events"
	"github.com/book-expert/pdf-audio-service/internal/service"
	"github.com/book-expert/pdf-audio-service/internal/shared"
)

const (
	// NatsConnectTimeoutSeconds defines the timeout for NATS connection attempts.
	NatsConnectTimeoutSeconds = 10
	// NatsMaxReconnectAttempts defines the maximum number of reconnect attempts.
	NatsMaxReconnectAttempts = 5
	// NatsFetchMaxWaitSeconds defines the maximum wait per fetch.
	NatsFetchMaxWaitSeconds = 5
)

// Requests is the slice of the service the worker drives.
type Requests interface {
	Ingest(ctx context.Context, request service.IngestRequest) (*service.IngestResponse, error)
	GenerateAudio(ctx context.Context, request service.GenerateAudioRequest) (*shared.AudioArtifact, error)
}

// Config names the stream, subjects and consumer the worker binds to.
// Workers bounds how many messages are processed concurrently.
type Config struct {
	URL                   string
	StreamName            string
	UploadSubject         string
	GenerateAudioSubject  string
	ConsumerName          string
	DocumentIndexedSubj   string
	AudioGeneratedSubject string
	DeadLetterSubject     string
	Workers               int
}

// NatsWorker manages the NATS connection and message consumption.
type NatsWorker struct {
	nc        *nats.Conn
	jetstream nats.JetStreamContext
	config    Config
	requests  Requests
	logger    *logger.Logger
}

// New connects to NATS and verifies the configured stream exists.
func New(config Config, requests Requests, log *logger.Logger) (*NatsWorker, error) {
	natsConn, err := nats.Connect(
		config.URL,
		nats.Timeout(NatsConnectTimeoutSeconds*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(NatsMaxReconnectAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Info("Connected to NATS server at %s", config.URL)

	jetstream, err := natsConn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get JetStream context: %w", err)
	}

	_, streamInfoErr := jetstream.StreamInfo(config.StreamName)
	if streamInfoErr != nil {
		return nil, fmt.Errorf("stream '%s' not found: %w", config.StreamName, streamInfoErr)
	}

	log.Info("Found stream '%s'.", config.StreamName)

	if config.Workers <= 0 {
		config.Workers = 1
	}

	return &NatsWorker{
		nc:        natsConn,
		jetstream: jetstream,
		config:    config,
		requests:  requests,
		logger:    log,
	}, nil
}

// Run starts the worker's message processing loop and blocks until the
// context is canceled.
func (w *NatsWorker) Run(ctx context.Context) error {
	uploadSub, err := w.subscribe(w.config.UploadSubject, w.config.ConsumerName+"-upload")
	if err != nil {
		return err
	}

	generateSub, err := w.subscribe(w.config.GenerateAudioSubject, w.config.ConsumerName+"-generate")
	if err != nil {
		return err
	}

	w.logger.Info("Worker is running, listening on '%s' and '%s'...",
		w.config.UploadSubject, w.config.GenerateAudioSubject)

	subscriptions := []*nats.Subscription{uploadSub, generateSub}

	// Bounded concurrent message handling: slow audio jobs must not block
	// ingest jobs behind them.
	slots := make(chan struct{}, w.config.Workers)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Context canceled, worker shutting down.")

			return nil
		default:
			w.fetchAndHandle(ctx, subscriptions, slots)
		}
	}
}

func (w *NatsWorker) subscribe(subject, durable string) (*nats.Subscription, error) {
	sub, err := w.jetstream.PullSubscribe(
		subject,
		durable,
		nats.BindStream(w.config.StreamName),
	)
	if err != nil {
		return nil, fmt.Errorf("pull subscribe '%s': %w", subject, err)
	}

	return sub, nil
}

func (w *NatsWorker) fetchAndHandle(
	ctx context.Context,
	subscriptions []*nats.Subscription,
	slots chan struct{},
) {
	for _, sub := range subscriptions {
		msgs, err := sub.Fetch(1, nats.MaxWait(NatsFetchMaxWaitSeconds*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}

			w.logger.Error("Fetch messages: %v", err)

			continue
		}

		if len(msgs) == 0 {
			continue
		}

		msg := msgs[0]

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		go func() {
			defer func() { <-slots }()

			w.handleMsg(ctx, msg)
		}()
	}
}

func (w *NatsWorker) handleMsg(ctx context.Context, msg *nats.Msg) {
	startTime := time.Now()

	var handleErr error

	switch msg.Subject {
	case w.config.UploadSubject:
		handleErr = w.handleUpload(ctx, msg)
	case w.config.GenerateAudioSubject:
		handleErr = w.handleGenerateAudio(ctx, msg)
	default:
		handleErr = fmt.Errorf("unexpected subject '%s': %w", msg.Subject, nats.ErrBadSubject)
	}

	if handleErr != nil {
		w.handlePipelineError(msg, handleErr)

		return
	}

	w.logger.Success("Processed message on '%s' in %s", msg.Subject, time.Since(startTime))

	ackErr := msg.Ack()
	if ackErr != nil {
		w.logger.Error("failed to acknowledge message on '%s': %v", msg.Subject, ackErr)
	}
}

func (w *NatsWorker) handleUpload(ctx context.Context, msg *nats.Msg) error {
	var event events.PDFUploadedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return fmt.Errorf("unmarshal PDFUploadedEvent: %w", err)
	}

	response, err := w.requests.Ingest(ctx, service.IngestRequest{
		Filenames: []string{event.Filename},
	})
	if err != nil {
		return fmt.Errorf("ingest '%s': %w", event.Filename, err)
	}

	indexed := events.DocumentIndexedEvent{
		Header:   w.newHeader(event.Header),
		Filename: event.Filename,
	}

	if len(response.IndexedFilenames) > 0 {
		indexed.Filename = response.IndexedFilenames[0]
		indexed.ChunkCount = response.ChunkCounts[indexed.Filename]
	}

	return w.publish(w.config.DocumentIndexedSubj, indexed)
}

func (w *NatsWorker) handleGenerateAudio(ctx context.Context, msg *nats.Msg) error {
	var event events.GenerateAudioRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return fmt.Errorf("unmarshal GenerateAudioRequestedEvent: %w", err)
	}

	artifact, err := w.requests.GenerateAudio(ctx, service.GenerateAudioRequest{
		Text:           event.Text,
		Filename:       event.Filename,
		PageNumber:     event.PageNumber,
		EntirePDF:      event.EntirePDF,
		Podcast:        event.Podcast,
		TwoSpeakers:    event.TwoSpeakers,
		Accent:         event.Accent,
		Style:          event.Style,
		Expressiveness: event.Expressiveness,
		Speakers:       event.Speakers,
	})
	if err != nil {
		return fmt.Errorf("generate audio: %w", err)
	}

	generated := events.AudioGeneratedEvent{
		Header:   w.newHeader(event.Header),
		URL:      artifact.URL,
		Parts:    artifact.Parts,
		Chapters: chapterInfos(artifact),
		Degraded: artifact.Degraded,
	}

	return w.publish(w.config.AudioGeneratedSubject, generated)
}

func chapterInfos(artifact *shared.AudioArtifact) []events.ChapterInfo {
	infos := make([]events.ChapterInfo, len(artifact.Chapters))

	for i, chapter := range artifact.Chapters {
		infos[i] = events.ChapterInfo{
			Index:   chapter.Index,
			Speaker: chapter.Speaker,
			Text:    chapter.Text,
			StartMS: chapter.StartMS,
			EndMS:   chapter.EndMS,
			PartURL: chapter.PartURL,
		}
	}

	return infos
}

func (w *NatsWorker) newHeader(inbound events.EventHeader) events.EventHeader {
	return events.EventHeader{
		Timestamp:     time.Now().UTC(),
		WorkflowID:    inbound.WorkflowID,
		UserID:        inbound.UserID,
		TenantID:      inbound.TenantID,
		EventID:       uuid.NewString(),
		CorrelationID: inbound.CorrelationID,
	}
}

func (w *NatsWorker) publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event for '%s': %w", subject, err)
	}

	_, err = w.jetstream.Publish(subject, data)
	if err != nil {
		return fmt.Errorf("publish to '%s': %w", subject, err)
	}

	return nil
}

func (w *NatsWorker) handlePipelineError(msg *nats.Msg, pipelineErr error) {
	w.logger.Error("Pipeline failed for message on '%s': %v", msg.Subject, pipelineErr)

	_, pubErr := w.jetstream.Publish(w.config.DeadLetterSubject, msg.Data)
	if pubErr != nil {
		w.logger.Error(
			"Failed to publish message to dead-letter subject: %v",
			pubErr,
		)
	}

	ackErr := msg.Ack()
	if ackErr != nil {
		w.logger.Error("failed to acknowledge failed message: %v", ackErr)
	}
}

// Close closes the NATS connection without draining it.
func (w *NatsWorker) Close() {
	if w.nc != nil {
		w.nc.Close()
	}
}
