package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/audio"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/metrics"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/upload"
)

// bootstrapRecording starts the first capture after the settle delay. One
// retry is made; the batch timer is armed once a capture is running.
func (o *Orchestrator) bootstrapRecording(ctx context.Context) {
	if err := o.deps.Recorder.Start(ctx); err != nil {
		o.log.Error().Err(err).Dur("retry_in", o.opts.RecorderRetryDelay).Msg("failed to start audio recording")
		o.schedule(func(s *scheduler) {
			s.After(o.opts.RecorderRetryDelay, func(ctx context.Context) {
				if err := o.deps.Recorder.Start(ctx); err != nil {
					o.log.Error().Err(err).Msg("recording retry failed, giving up for this session")
					return
				}
				o.log.Info().Msg("audio recording started on retry")
				o.armBatches()
			})
		})
		return
	}
	o.log.Info().Msg("audio recording started")
	o.armBatches()
}

func (o *Orchestrator) armBatches() {
	o.schedule(func(s *scheduler) {
		s.Every(o.opts.BatchInterval, o.runBatch)
	})
}

// runBatch is the timer cycle. A cycle already in progress wins; this tick is skipped.
func (o *Orchestrator) runBatch(ctx context.Context) {
	if !o.pipeline.TryLock() {
		o.log.Debug().Msg("batch skipped, pipeline busy")
		metrics.BatchCycles.WithLabelValues("timer", "skipped").Inc()
		return
	}
	defer o.pipeline.Unlock()
	_, _ = o.cycle(ctx, "timer", o.uploadWithRetry)
}

// UploadNow is the manual trigger: sync calls, then one batch cycle with a
// single upload attempt.
func (o *Orchestrator) UploadNow(ctx context.Context) (string, error) {
	if o.State() != StateConnected || o.isShutdown() {
		return "", ErrNotConnected
	}
	if !o.pipeline.TryLock() {
		return "", ErrBusy
	}
	defer o.pipeline.Unlock()
	if o.isShutdown() {
		return "", ErrNotConnected
	}

	o.syncCombined(ctx, "manual upload")
	return o.cycle(ctx, "manual", o.uploadOnce)
}

// cycle runs stop, convert, upload and always restarts recording once. The
// caller holds the pipeline lock.
func (o *Orchestrator) cycle(ctx context.Context, trigger string, send func(context.Context, *audio.Blob) (string, error)) (url string, err error) {
	logger := o.log.With().Str("trigger", trigger).Logger()
	defer func() {
		o.restartRecording()
		result := "uploaded"
		switch {
		case errors.Is(err, ErrNoAudio):
			result = "empty"
		case err != nil:
			result = "failed"
		}
		metrics.BatchCycles.WithLabelValues(trigger, result).Inc()
	}()

	blob := o.deps.Recorder.Stop()
	if blob.Size() == 0 {
		logger.Warn().Msg("no audio data recorded, skipping upload")
		return "", ErrNoAudio
	}
	logger.Info().Int("bytes", blob.Size()).Str("mime", blob.MIMEType).Msg("processing audio batch")

	batch := o.convert(ctx, blob)
	url, err = send(ctx, batch)
	if err != nil {
		logger.Error().Err(err).Str("hint", upload.Hint(err, o.deps.Uploader.Bucket())).Msg("audio batch upload failed")
		return "", err
	}
	logger.Info().Str("url", url).Msg("audio batch uploaded")
	if o.hooks.OnBatchUploaded != nil {
		o.hooks.OnBatchUploaded(url)
	}
	return url, nil
}

// convert falls back to the original blob when decoding fails.
func (o *Orchestrator) convert(ctx context.Context, blob *audio.Blob) *audio.Blob {
	if o.deps.Converter == nil {
		return blob
	}
	cctx, cancel := o.opCtx(ctx)
	defer cancel()
	wav, err := o.deps.Converter.ToWAV(cctx, blob)
	if err != nil || wav == nil {
		o.log.Warn().Err(err).Msg("WAV conversion failed, using original blob")
		return blob
	}
	return wav
}

func (o *Orchestrator) uploadOnce(ctx context.Context, b *audio.Blob) (string, error) {
	uctx, cancel := o.opCtx(ctx)
	defer cancel()
	url, err := o.deps.Uploader.Upload(uctx, b)
	if err != nil {
		metrics.UploadAttempts.WithLabelValues("failed").Inc()
		return "", err
	}
	metrics.UploadAttempts.WithLabelValues("ok").Inc()
	metrics.UploadedBytes.Add(float64(b.Size()))
	return url, nil
}

// uploadWithRetry makes UploadAttempts attempts with capped exponential backoff.
func (o *Orchestrator) uploadWithRetry(ctx context.Context, b *audio.Blob) (string, error) {
	backoff := retry.NewExponential(o.opts.UploadBaseDelay)
	backoff = retry.WithCappedDuration(o.opts.UploadMaxDelay, backoff)
	backoff = retry.WithMaxRetries(uint64(o.opts.UploadAttempts-1), backoff)

	var (
		url     string
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		var err error
		url, err = o.uploadOnce(ctx, b)
		if err != nil {
			o.log.Warn().Err(err).Int("attempt", attempt).Int("of", o.opts.UploadAttempts).Msg("upload attempt failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("upload failed after %d attempts: %w", attempt, err)
	}
	return url, nil
}

// restartRecording retries once after RecorderRetryDelay; the next cycle tries
// again otherwise. The capture lives as long as the session, not the trigger.
func (o *Orchestrator) restartRecording() {
	o.mu.Lock()
	sched := o.sched
	o.mu.Unlock()
	if sched == nil || sched.ctx.Err() != nil || o.isShutdown() {
		return
	}
	err := o.deps.Recorder.Start(sched.ctx)
	if err == nil {
		return
	}
	o.log.Error().Err(err).Msg("failed to restart recording")
	o.schedule(func(s *scheduler) {
		s.After(o.opts.RecorderRetryDelay, func(ctx context.Context) {
			// a running cycle restarts the recorder itself
			if !o.pipeline.TryLock() {
				return
			}
			defer o.pipeline.Unlock()
			if o.isShutdown() {
				return
			}
			if err := o.deps.Recorder.Start(ctx); err != nil {
				o.log.Error().Err(err).Msg("recording restart retry failed")
			}
		})
	})
}
