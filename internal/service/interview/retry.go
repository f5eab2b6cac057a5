package interview

import (
	"context"
	"log"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds how often a collaborator call is retried. Only errors the
// Retryable classifier accepts are retried; context errors never are.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Retryable  func(error) bool
}

func (p RetryPolicy) enabled() bool {
	return p.MaxRetries > 0
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	b := retry.NewExponential(base)
	b = retry.WithJitterPercent(10, b)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	return retry.WithMaxRetries(p.MaxRetries, b)
}

func (p RetryPolicy) do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil || ctx.Err() != nil {
			return err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		log.Printf("[retry] %s attempt %d failed: %v", op, attempt, err)
		return retry.RetryableError(err)
	})
}

type retryingTranscriber struct {
	next   Transcriber
	policy RetryPolicy
}

// RetryTranscriber wraps t so failed calls are retried under policy.
func RetryTranscriber(t Transcriber, policy RetryPolicy) Transcriber {
	if !policy.enabled() {
		return t
	}
	return &retryingTranscriber{next: t, policy: policy}
}

func (r *retryingTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	var text string
	err := r.policy.do(ctx, "transcribe", func(ctx context.Context) error {
		var err error
		text, err = r.next.Transcribe(ctx, audio)
		return err
	})
	return text, err
}

type retryingResponder struct {
	next   Responder
	policy RetryPolicy
}

// RetryResponder wraps r so failed calls are retried under policy.
func RetryResponder(r Responder, policy RetryPolicy) Responder {
	if !policy.enabled() {
		return r
	}
	return &retryingResponder{next: r, policy: policy}
}

func (r *retryingResponder) Respond(ctx context.Context, userText string) (string, error) {
	var reply string
	err := r.policy.do(ctx, "respond", func(ctx context.Context) error {
		var err error
		reply, err = r.next.Respond(ctx, userText)
		return err
	})
	return reply, err
}

type retryingSynthesizer struct {
	next   Synthesizer
	policy RetryPolicy
}

// RetrySynthesizer wraps s so failed calls are retried under policy.
func RetrySynthesizer(s Synthesizer, policy RetryPolicy) Synthesizer {
	if !policy.enabled() {
		return s
	}
	return &retryingSynthesizer{next: s, policy: policy}
}

func (r *retryingSynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	var audio []byte
	err := r.policy.do(ctx, "synthesize", func(ctx context.Context) error {
		var err error
		audio, err = r.next.Synthesize(ctx, text, voice)
		return err
	})
	return audio, err
}
