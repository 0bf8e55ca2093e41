package logger

import (
	"bufio"
	"io"
	"sync"
)

// asyncWriter moves log lines off the caller's goroutine. Lines are written
// in arrival order to a single buffered sink; the first sink error sticks.
type asyncWriter struct {
	lines   chan []byte
	flushes chan chan error
	stopped chan struct{}
	close   sync.Once

	out *bufio.Writer

	mu  sync.Mutex
	err error
}

func newAsyncWriter(sink io.Writer) *asyncWriter {
	w := &asyncWriter{
		lines:   make(chan []byte, 256),
		flushes: make(chan chan error),
		stopped: make(chan struct{}),
		out:     bufio.NewWriterSize(sink, 64*1024),
	}
	go w.run()
	return w
}

func (w *asyncWriter) run() {
	defer close(w.stopped)
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				w.fail(w.out.Flush())
				return
			}
			if _, err := w.out.Write(line); err != nil {
				w.fail(err)
				continue
			}
			// Flush eagerly only when nothing else is queued.
			if len(w.lines) == 0 {
				w.fail(w.out.Flush())
			}
		case ack := <-w.flushes:
			ack <- w.out.Flush()
		}
	}
}

// Write queues a copy of p. It blocks when the queue is full.
func (w *asyncWriter) Write(p []byte) error {
	if err := w.failure(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	w.lines <- append([]byte(nil), p...)
	return nil
}

// Flush returns once every line queued before the call reached the sink.
func (w *asyncWriter) Flush() error {
	if err := w.failure(); err != nil {
		return err
	}
	ack := make(chan error, 1)
	w.flushes <- ack
	return <-ack
}

// Close drains the queue and stops the writer.
func (w *asyncWriter) Close() error {
	w.close.Do(func() { close(w.lines) })
	<-w.stopped
	return w.failure()
}

func (w *asyncWriter) failure() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *asyncWriter) fail(err error) {
	if err == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}
