package middleware

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

type fakeContext struct {
	tele.Context
	user   *tele.User
	upd    tele.Update
	values map[string]interface{}
	sent   []interface{}
}

func newFakeContext(userID int64) *fakeContext {
	return &fakeContext{
		user:   &tele.User{ID: userID},
		upd:    tele.Update{ID: 7, Message: &tele.Message{Text: "hi"}},
		values: map[string]interface{}{},
	}
}

func (f *fakeContext) Sender() *tele.User                { return f.user }
func (f *fakeContext) Chat() *tele.Chat                  { return &tele.Chat{ID: f.user.ID} }
func (f *fakeContext) Update() tele.Update               { return f.upd }
func (f *fakeContext) Get(key string) interface{}        { return f.values[key] }
func (f *fakeContext) Set(key string, value interface{}) { f.values[key] = value }
func (f *fakeContext) Send(what interface{}, _ ...interface{}) error {
	f.sent = append(f.sent, what)
	return nil
}

func okHandler(called *bool) tele.HandlerFunc {
	return func(tele.Context) error {
		*called = true
		return nil
	}
}

func TestAdminOnlyMiddleware(t *testing.T) {
	rejected := false
	mw := AdminOnlyMiddleware(AdminOptions{AdminID: 1, OnReject: func(tele.Context) error {
		rejected = true
		return nil
	}})

	called := false
	require.NoError(t, mw(okHandler(&called))(newFakeContext(1)))
	assert.True(t, called)

	called = false
	require.NoError(t, mw(okHandler(&called))(newFakeContext(2)))
	assert.False(t, called)
	assert.True(t, rejected)
}

func TestAdminOnlyMiddlewareRejectsWithoutAdmin(t *testing.T) {
	called := false
	require.NoError(t, AdminOnlyMiddleware(AdminOptions{})(okHandler(&called))(newFakeContext(1)))
	assert.False(t, called)
}

type stepGetter string

func (s stepGetter) CurrentStep(tele.Context) (string, error) { return string(s), nil }

type failingGetter struct{}

func (failingGetter) CurrentStep(tele.Context) (string, error) { return "", errors.New("store down") }

func TestStateMiddleware(t *testing.T) {
	skipped := false
	onSkip := func(tele.Context) error {
		skipped = true
		return nil
	}

	called := false
	mw := State(stepGetter("confirming_details"), onSkip, "confirming_details")
	require.NoError(t, mw(okHandler(&called))(newFakeContext(5)))
	assert.True(t, called)
	assert.False(t, skipped)

	called = false
	mw = State(stepGetter("idle"), onSkip, "confirming_details")
	require.NoError(t, mw(okHandler(&called))(newFakeContext(5)))
	assert.False(t, called)
	assert.True(t, skipped)

	err := State(failingGetter{}, onSkip, "idle")(okHandler(&called))(newFakeContext(5))
	assert.EqualError(t, err, "store down")
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(func(tele.Context) error { panic("boom") })
	err := h(newFakeContext(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRateLimitMiddleware(t *testing.T) {
	limited := 0
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Hour,
		OnLimited: func(tele.Context) error { limited++; return nil },
	})
	calls := 0
	h := mw(func(tele.Context) error { calls++; return nil })

	c := newFakeContext(9)
	require.NoError(t, h(c))
	require.NoError(t, h(c))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, limited)

	require.NoError(t, h(newFakeContext(10)))
	assert.Equal(t, 2, calls)
}

func TestRateLimitMiddlewareExclusions(t *testing.T) {
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Hour,
		Exclude:  map[string]struct{}{"callback": {}},
	})
	calls := 0
	h := mw(func(tele.Context) error { calls++; return nil })

	c := newFakeContext(9)
	c.upd = tele.Update{ID: 8, Callback: &tele.Callback{Data: "\fconfirm_loan"}}
	require.NoError(t, h(c))
	require.NoError(t, h(c))
	assert.Equal(t, 2, calls)
}

func TestMessageMetricsMiddlewareCounts(t *testing.T) {
	c := newFakeContext(4)
	h := MessageMetricsMiddleware(func(ctx tele.Context) error {
		_ = ctx.Send("one")
		return ctx.Send("two", &tele.ReplyMarkup{})
	})
	require.NoError(t, h(c))
	msgs, kb := GetCounters(c)
	assert.Equal(t, 2, msgs)
	assert.True(t, kb)
}
