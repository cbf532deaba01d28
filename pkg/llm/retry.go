package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	oneSecond     = 1 * time.Second
	thirtySeconds = 30 * time.Second
)

// fixedSchedule is a backoff.BackOff that steps through an explicit list of
// delays (in seconds) rather than computing them exponentially.
type fixedSchedule struct {
	delays []int64
	next   int
}

func (f *fixedSchedule) NextBackOff() time.Duration {
	if f.next >= len(f.delays) {
		return backoff.Stop
	}
	d := time.Duration(f.delays[f.next]) * time.Second
	f.next++
	return d
}

func (f *fixedSchedule) Reset() {
	f.next = 0
}

// RetryPolicy configures CompleteWithRetry's backoff schedule.
type RetryPolicy struct {
	MaxRetries int
	Base       backoff.BackOff
}

// SkeletonExtractorPolicy is the Skeleton Extractor's retry schedule: up to
// three retries (four attempts in all), exponential backoff base 1s capped
// at 30s (spec §4.D).
func SkeletonExtractorPolicy() RetryPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = oneSecond
	b.MaxInterval = thirtySeconds
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	return RetryPolicy{MaxRetries: 3, Base: b}
}

// ChunkTransportPolicy is the Job Controller's per-chunk transport retry
// schedule: up to three retries after waits of 2s, 5s, 15s (four attempts in
// all, spec §4.I).
func ChunkTransportPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Base: &fixedSchedule{delays: []int64{2, 5, 15}}}
}

// CompleteWithRetry wraps a single Complete call in the given retry policy,
// treating transport errors and ErrEmptyCompletion as retryable.
func CompleteWithRetry(ctx context.Context, client Client, req Request, policy RetryPolicy) (Response, error) {
	var resp Response
	attempts := 0

	operation := func() error {
		attempts++
		var err error
		resp, err = client.Complete(ctx, req)
		if err != nil {
			if attempts >= policy.MaxRetries+1 {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithMaxRetries(policy.Base, uint64(policy.MaxRetries)))
	if err != nil {
		var permErr *backoff.PermanentError
		if errors.As(err, &permErr) {
			return Response{}, permErr.Err
		}
		return Response{}, err
	}
	return resp, nil
}
