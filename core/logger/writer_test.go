package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{}

func (failingSink) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestAsyncWriterKeepsOrderAndFlushes(t *testing.T) {
	buf := &bytes.Buffer{}
	w := newAsyncWriter(buf)
	require.NoError(t, w.Write([]byte("a\n")))
	require.NoError(t, w.Write([]byte("b\n")))
	require.NoError(t, w.Flush())
	assert.Equal(t, "a\nb\n", buf.String())
	require.NoError(t, w.Close())
}

func TestAsyncWriterSinkErrorSticks(t *testing.T) {
	w := newAsyncWriter(failingSink{})
	require.NoError(t, w.Write([]byte("line\n")))
	err := w.Close()
	require.Error(t, err)
	assert.ErrorContains(t, w.Write([]byte("more\n")), "disk full")
}
