// Package worker provides a NATS worker that processes music generation jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/handler"
	"github.com/book-expert/music-service/internal/metrics"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	archiveTimeout    = 30 * time.Second
	drainPollInterval = 50 * time.Millisecond
	msgInvalidJob     = "invalid job: %v"
	audioKeyExtension = "." + handler.AudioFormat
)

// JobHandler processes a single decoded job.
type JobHandler interface {
	Handle(ctx context.Context, job handler.Job) (handler.Result, error)
}

// Options tune a NatsWorker. The zero value means no per-job deadline and no archive.
type Options struct {
	Queue      string
	JobTimeout time.Duration
	Archive    core.ObjectStore
}

// NatsWorker listens for music jobs on a NATS subject and replies with results.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	handler        JobHandler
	opts           Options
	log            *logger.Logger

	inFlight sync.WaitGroup
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	jobHandler JobHandler,
	opts Options,
	log *logger.Logger,
) (*NatsWorker, error) {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		handler:        jobHandler,
		opts:           opts,
		log:            log,
	}, nil
}

// Run subscribes and processes messages until ctx is cancelled. It then drains
// the subscription and returns only after every received job has replied.
func (w *NatsWorker) Run(ctx context.Context) error {
	callback := func(msg *nats.Msg) {
		w.inFlight.Add(1)
		defer w.inFlight.Done()

		w.handleMessage(ctx, msg)
	}

	var (
		sub *nats.Subscription
		err error
	)

	if w.opts.Queue != "" {
		sub, err = w.natsConnection.QueueSubscribe(w.subject, w.opts.Queue, callback)
	} else {
		sub, err = w.natsConnection.Subscribe(w.subject, callback)
	}

	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	w.waitForDrain(sub)

	return nil
}

// waitForDrain blocks until the subscription is closed and all handlers have returned.
func (w *NatsWorker) waitForDrain(sub *nats.Subscription) {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for sub.IsValid() && !w.natsConnection.IsClosed() {
		<-ticker.C
	}

	w.inFlight.Wait()
}

func (w *NatsWorker) handleMessage(parent context.Context, msg *nats.Msg) {
	// Jobs already received finish even while the subscription drains.
	ctx := context.WithoutCancel(parent)

	if w.opts.JobTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, w.opts.JobTimeout)
		defer cancel()
	}

	result := w.process(ctx, msg)

	err := w.publishReply(msg, result)
	if err != nil {
		w.log.Error("Failed to publish reply on %s: %v", msg.Subject, err)
	}
}

func (w *NatsWorker) process(ctx context.Context, msg *nats.Msg) handler.Result {
	job, err := parseJob(msg)
	if err != nil {
		w.log.Error("Failed to parse job: %v", err)
		metrics.ObserveJob(metrics.OutcomeInvalid)

		return handler.ErrorResult(fmt.Sprintf(msgInvalidJob, err))
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	w.log.Info("Processing job %s", job.WorkflowID())

	result, err := w.handler.Handle(ctx, job)
	if err != nil {
		w.log.Error("Job %s failed: %v", job.WorkflowID(), err)
		metrics.ObserveJob(metrics.OutcomeGeneration)

		if !errors.Is(err, handler.ErrGenerationFailed) {
			err = fmt.Errorf("%w: %w", handler.ErrGenerationFailed, err)
		}

		return handler.ErrorResult(err.Error())
	}

	if !result.Succeeded() {
		w.log.Warn("Job %s rejected: %s", job.WorkflowID(), result.Error)
		metrics.ObserveJob(metrics.OutcomeInvalid)

		return result
	}

	metrics.ObserveJob(metrics.OutcomeSuccess)

	result.AudioKey = w.archive(job, result)

	w.log.Info("Job %s completed (%d bytes)", job.WorkflowID(), len(result.Audio()))

	return result
}

// archive stores the audio when an archive is configured. Failures are logged only.
func (w *NatsWorker) archive(job handler.Job, result handler.Result) string {
	if w.opts.Archive == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	key := job.ID + audioKeyExtension

	err := w.opts.Archive.Upload(ctx, key, result.Audio())
	if err != nil {
		w.log.Warn("Failed to archive audio for job %s: %v", job.WorkflowID(), err)

		return ""
	}

	return key
}

// publishReply marshals and responds with the job result.
func (w *NatsWorker) publishReply(msg *nats.Msg, result handler.Result) error {
	if msg.Reply == "" {
		return nil
	}

	replyData, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish job result: %w", err)
	}

	return nil
}

func parseJob(msg *nats.Msg) (handler.Job, error) {
	var job handler.Job

	err := json.Unmarshal(msg.Data, &job)
	if err != nil {
		return handler.Job{}, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return job, nil
}
