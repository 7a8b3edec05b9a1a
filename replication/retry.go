package replication

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/alpacahq/colstore/utils/log"
)

// ErrRetryable is a custom error to retry the logic when returned.
var ErrRetryable = errors.New("retryable replication error")

// maxRetryInterval caps the backoff between two trials.
const maxRetryInterval = time.Minute

type Retryer struct {
	retryFunc    func(ctx context.Context) error
	interval     time.Duration
	backoffCoeff int
	// maxRetries limits the number of retries, 0 means no limit.
	maxRetries int
}

func NewRetryer(retryFunc func(ctx context.Context) error, interval time.Duration, backoffCoeff, maxRetries int,
) *Retryer {
	return &Retryer{
		retryFunc:    retryFunc,
		interval:     interval,
		backoffCoeff: backoffCoeff,
		maxRetries:   maxRetries,
	}
}

// Run tries the Retryer until it succeeds, it returns unretriable error, it runs out of retries,
// or the context is canceled.
func (r *Retryer) Run(ctx context.Context) error {
	const decimal = 10
	for cnt := 0; ; cnt++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "retry stopped")
		}
		err := r.retryFunc(ctx)
		// success
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRetryable) {
			// not retryable error, give up.
			log.Warn("caught a non-retryable error:" + err.Error())
			return err
		}
		if r.maxRetries > 0 && cnt >= r.maxRetries {
			return errors.Wrapf(err, "gave up after %d retries", cnt)
		}

		// retryable error. continue
		interval := retryInterval(r.interval, r.backoffCoeff, cnt)
		log.Warn("caught a retryable error. It will be retried after an interval:" +
			strconv.FormatInt(interval.Milliseconds(), decimal) + "[ms], err=" + err.Error())
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Wrap(ctx.Err(), "retry stopped")
		case <-t.C:
		}
	}
}

func retryInterval(interval time.Duration, backoffCoeff, retryCount int) time.Duration {
	coeff := math.Pow(float64(backoffCoeff), float64(retryCount))
	intervalMilliSec := float64(interval.Milliseconds()) * coeff
	if intervalMilliSec > float64(maxRetryInterval.Milliseconds()) {
		return maxRetryInterval
	}
	return time.Duration(intervalMilliSec) * time.Millisecond
}
