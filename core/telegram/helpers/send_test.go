package helpers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kopakash/loanbot/core/telegram/sender"
)

func TestDispatchInlineWithoutDispatcher(t *testing.T) {
	SetDispatcher(nil)
	called := false
	err := Dispatch(context.Background(), "send.text", "sendMessage", func() error {
		called = true
		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")
	assert.True(t, called)
}

func TestDispatchQueuesOnDispatcher(t *testing.T) {
	d := sender.NewDispatcher(sender.Options{Workers: 1})
	SetDispatcher(d)
	t.Cleanup(func() { SetDispatcher(nil) })

	done := make(chan struct{})
	require.NoError(t, Dispatch(context.Background(), "send.text", "sendMessage", func() error {
		close(done)
		return nil
	}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job not executed")
	}
	d.Close()
}

func TestDispatchFallsBackWhenClosed(t *testing.T) {
	d := sender.NewDispatcher(sender.Options{Workers: 1})
	d.Close()
	SetDispatcher(d)
	t.Cleanup(func() { SetDispatcher(nil) })

	called := false
	require.NoError(t, Dispatch(context.Background(), "send.text", "sendMessage", func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}
