package payment

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Minter issues external references of the form <prefix>-<userID>-<unixMillis>.
// Timestamps are strictly increasing per Minter, so two references minted in
// the same millisecond still differ.
type Minter struct {
	prefix string
	last   atomic.Int64
	now    func() time.Time
}

// NewMinter returns a Minter for prefix. The prefix must not contain '-'.
func NewMinter(prefix string) (*Minter, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || strings.Contains(prefix, "-") {
		return nil, fmt.Errorf("payment: invalid reference prefix %q", prefix)
	}
	return &Minter{prefix: prefix, now: time.Now}, nil
}

// Prefix returns the configured prefix.
func (m *Minter) Prefix() string { return m.prefix }

// Mint returns a fresh reference for userID.
func (m *Minter) Mint(userID int64) string {
	ts := m.now().UnixMilli()
	for {
		last := m.last.Load()
		if ts <= last {
			ts = last + 1
		}
		if m.last.CompareAndSwap(last, ts) {
			break
		}
	}
	return m.prefix + "-" + strconv.FormatInt(userID, 10) + "-" + strconv.FormatInt(ts, 10)
}

// Parse extracts the user id from a reference minted with this prefix.
func (m *Minter) Parse(ref string) (int64, error) {
	return ParseReference(m.prefix, ref)
}

// ParseReference extracts the user id embedded in ref. Errors wrap
// ErrUnresolvedReference.
func ParseReference(prefix, ref string) (int64, error) {
	parts := strings.Split(strings.TrimSpace(ref), "-")
	if len(parts) != 3 || parts[0] != prefix {
		return 0, fmt.Errorf("%w: %q", ErrUnresolvedReference, ref)
	}
	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: bad user id in %q", ErrUnresolvedReference, ref)
	}
	if _, err := strconv.ParseInt(parts[2], 10, 64); err != nil {
		return 0, fmt.Errorf("%w: bad timestamp in %q", ErrUnresolvedReference, ref)
	}
	return userID, nil
}
