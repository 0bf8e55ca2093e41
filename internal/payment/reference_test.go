package payment

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintIsUniqueAndParsable(t *testing.T) {
	m := mustMinter(t)
	fixed := time.UnixMilli(1_700_000_000_000)
	m.now = func() time.Time { return fixed }

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
		wg   sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref := m.Mint(42)
			mu.Lock()
			seen[ref] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, 50)

	for ref := range seen {
		assert.True(t, strings.HasPrefix(ref, "KOP-42-"))
		uid, err := m.Parse(ref)
		require.NoError(t, err)
		assert.Equal(t, int64(42), uid)
	}
}

func TestParseReferenceRejectsGarbage(t *testing.T) {
	for _, ref := range []string{"", "KOP", "KOP-abc-1", "XYZ-42-1", "KOP-42", "KOP-42-x", "KOP-0-1", "KOP-42-1-2"} {
		_, err := ParseReference("KOP", ref)
		assert.ErrorIs(t, err, ErrUnresolvedReference, ref)
	}
}

func TestNewMinterRejectsBadPrefix(t *testing.T) {
	_, err := NewMinter("")
	require.Error(t, err)
	_, err = NewMinter("K-OP")
	require.Error(t, err)
}
