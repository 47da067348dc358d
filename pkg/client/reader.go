package client

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const minLimiterBurst = 32 * 1024

// idleTimeoutReader cancels the request when the body goes quiet for longer than timeout.
// The timer is armed before the request is sent, so it also bounds the wait for headers.
// Read errors other than io.EOF come back as TransportErrors.
type idleTimeoutReader struct {
	ctx     context.Context
	url     string
	body    io.ReadCloser
	timer   *time.Timer
	timeout time.Duration
	expired *atomic.Bool
	cancel  context.CancelFunc
}

// withIdleTimeout derives a request context that is cancelled when the returned timer fires.
// The flag reports whether it fired.
func withIdleTimeout(ctx context.Context, timeout time.Duration) (context.Context, *time.Timer, *atomic.Bool, context.CancelFunc) {
	reqCtx, cancel := context.WithCancel(ctx)
	expired := &atomic.Bool{}
	timer := time.AfterFunc(timeout, func() {
		expired.Store(true)
		cancel()
	})
	return reqCtx, timer, expired, cancel
}

func (r *idleTimeoutReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if n > 0 && !r.expired.Load() {
		r.timer.Reset(r.timeout)
	}
	if err != nil && err != io.EOF {
		if r.expired.Load() {
			err = ErrIdleTimeout
		}
		err = requestError(r.ctx, "read", r.url, err)
	}
	return n, err
}

func (r *idleTimeoutReader) Close() error {
	r.timer.Stop()
	err := r.body.Close()
	r.cancel()
	return err
}

func newLimiter(bytesPerSecond int64) *rate.Limiter {
	burst := int(min(bytesPerSecond, 1<<30))
	burst = max(burst, minLimiterBurst)
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

// rateLimitedReader charges every read against a limiter shared by all segments.
type rateLimitedReader struct {
	ctx     context.Context
	body    io.ReadCloser
	limiter *rate.Limiter
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	if len(p) > r.limiter.Burst() {
		p = p[:r.limiter.Burst()]
	}
	n, err := r.body.Read(p)
	if n > 0 {
		if waitErr := r.limiter.WaitN(r.ctx, n); waitErr != nil && err == nil {
			err = waitErr
		}
	}
	return n, err
}

func (r *rateLimitedReader) Close() error {
	return r.body.Close()
}
