package sender

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func TestDispatcherRetriesTransientErrors(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 3, RetryBackoff: time.Millisecond})

	var calls atomic.Int32
	done := make(chan struct{})
	err := d.Enqueue(context.Background(), "send", "sendMessage", func() error {
		if calls.Add(1) < 3 {
			return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}
		}
		close(done)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not succeed")
	}
	d.Close()
	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, d.ErrorCount())
}

func TestDispatcherCountsPermanentFailure(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 3, RetryBackoff: time.Millisecond})

	var calls atomic.Int32
	require.NoError(t, d.Enqueue(context.Background(), "send", "sendMessage", func() error {
		calls.Add(1)
		return errors.New("telegram: chat not found (400)")
	}))
	d.Close()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), d.ErrorCount())
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	d := NewDispatcher(Options{})
	d.Close()
	err := d.Enqueue(context.Background(), "send", "sendMessage", func() error { return nil })
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestDispatcherReportsFullQueue(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, d.Enqueue(context.Background(), "send", "sendMessage", func() error {
		close(started)
		<-release
		return nil
	}))
	<-started

	noop := func() error { return nil }
	var err error
	for i := 0; i <= queueSize && err == nil; i++ {
		err = d.Enqueue(context.Background(), "send", "sendMessage", noop)
	}
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	d.Close()
	d.Close()
	assert.Zero(t, d.ErrorCount())
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "timeout", classifyError(context.DeadlineExceeded))
	assert.Equal(t, "dial", classifyError(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.Equal(t, "http_4xx", classifyError(errors.New("telegram: bad request (400)")))
	assert.Equal(t, "unknown", classifyError(errors.New("boom")))
	assert.Equal(t, "http_5xx", classifyError(&tele.Error{Code: 502, Description: "bad gateway"}))
	assert.Equal(t, "dns", classifyError(&net.DNSError{Err: "no such host", Name: "api.telegram.org"}))
}

func TestSanitizeErrorMessageRedactsToken(t *testing.T) {
	msg := sanitizeErrorMessage(errors.New("post https://api.telegram.org/bot123456:ABC-def_42/sendMessage: eof"))
	assert.NotContains(t, msg, "123456:ABC")
	assert.Contains(t, msg, "bot<redacted>")
}
