package sender

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	tele "gopkg.in/telebot.v4"

	"github.com/kopakash/loanbot/core/logger"
	"github.com/kopakash/loanbot/core/netutil"
)

const (
	component = "tg.sender"

	queueSize = 256
	// jobBudget bounds one job including its retries.
	jobBudget = 12 * time.Second
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after dispatcher stop.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull indicates the queue is saturated and the job was not accepted.
	ErrQueueFull = errors.New("telegram sender: queue full")

	tokenRe      = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)
	trailingCode = regexp.MustCompile(`\((\d{3})\)\s*$`)

	sendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loanbot",
		Subsystem: "tg",
		Name:      "outbound_calls_total",
		Help:      "Queued Telegram API calls, by action and result.",
	}, []string{"action", "result"})
)

// Options controls the outbound dispatcher. Zero values pick defaults.
type Options struct {
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
}

type job struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

// Dispatcher runs outbound Telegram calls on a small worker pool so handlers
// return before the API answers. Transient failures are retried.
type Dispatcher struct {
	opts Options
	jobs chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	failed atomic.Uint64
}

func NewDispatcher(opts Options) *Dispatcher {
	opts.Workers = max(opts.Workers, 1)
	opts.MaxRetries = max(opts.MaxRetries, 0)
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	d := &Dispatcher{opts: opts, jobs: make(chan job, queueSize)}
	d.wg.Add(opts.Workers)
	for range opts.Workers {
		go func() {
			defer d.wg.Done()
			for j := range d.jobs {
				d.handle(j)
			}
		}()
	}
	return d
}

// Enqueue schedules run without blocking. run may execute more than once.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.jobs <- job{ctx: ctx, action: action, endpoint: endpoint, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// ErrorCount returns the number of jobs that failed for good.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.failed.Load()
}

// Close rejects new jobs, then waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) handle(j job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), jobBudget)
	defer cancel()

	start := time.Now()
	attempts := d.opts.MaxRetries + 1
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = j.run(); err == nil {
			sendsTotal.WithLabelValues(j.action, "ok").Inc()
			logger.Debug(j.ctx, component, "send.ok", j.attrs(
				slog.Int("attempt", attempt),
				slog.Duration("duration", time.Since(start)),
			)...)
			return
		}
		delay, retry := d.backoff(err, attempt)
		if !retry || attempt == attempts {
			break
		}
		logger.Debug(j.ctx, component, "send.retry", j.attrs(
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("err_code", classifyError(err)),
		)...)
		select {
		case <-ctx.Done():
			err = ctx.Err()
			attempt = attempts
		case <-time.After(delay):
		}
	}

	d.failed.Add(1)
	sendsTotal.WithLabelValues(j.action, "fail").Inc()
	logger.Error(j.ctx, component, "send.fail", j.attrs(
		slog.String("err", sanitizeErrorMessage(err)),
		slog.String("err_code", classifyError(err)),
		slog.Int("attempts", attempts),
		slog.Duration("duration", time.Since(start)),
	)...)
}

// backoff honours Telegram's retry_after on flood control; other errors
// back off linearly when they look transient.
func (d *Dispatcher) backoff(err error, attempt int) (time.Duration, bool) {
	linear := d.opts.RetryBackoff * time.Duration(attempt)
	var flood tele.FloodError
	if errors.As(err, &flood) {
		if flood.RetryAfter > 0 {
			return time.Duration(flood.RetryAfter) * time.Second, true
		}
		return linear, true
	}
	return linear, netutil.ShouldRetry(err)
}

func (j job) attrs(extra ...slog.Attr) []slog.Attr {
	out := make([]slog.Attr, 0, 2+len(extra))
	out = append(out, slog.String("action", j.action))
	if j.endpoint != "" {
		out = append(out, slog.String("endpoint", j.endpoint))
	}
	return append(out, extra...)
}

func classifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	switch status := httpStatus(err); {
	case status >= 500:
		return "http_5xx"
	case status >= 400:
		return "http_4xx"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return "dns"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "dial"
	}
	return "unknown"
}

// sanitizeErrorMessage strips bot tokens that telebot embeds in request URLs.
func sanitizeErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}

// httpStatus extracts the Bot API status from telebot errors, falling back
// to the trailing "(NNN)" telebot appends to API error messages.
func httpStatus(err error) int {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return http.StatusTooManyRequests
	}
	var groupErr tele.GroupError
	if errors.As(err, &groupErr) {
		return http.StatusBadRequest
	}
	if m := trailingCode.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code
	}
	return 0
}
