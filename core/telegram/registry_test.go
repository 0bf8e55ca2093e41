package telegram

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/kopakash/loanbot/core/telegram/commands"
)

func noop(tele.Context) error { return nil }

func TestRegistryCommands(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterCommand("/start", commands.Command{Handler: noop, Description: "Start"})
	reg.RegisterCommand("/stats", commands.Command{Handler: noop, Description: "Stats", AdminOnly: true})
	reg.RegisterCommand("help", commands.Command{Handler: noop, Description: "no slash"})

	assert.Len(t, reg.Commands(), 2)
	visible := reg.ListCommands(true)
	require.Len(t, visible, 1)
	assert.Equal(t, "/start", visible[0].Text)

	key, _, ok := reg.LookupCommand("stats")
	assert.True(t, ok)
	assert.Equal(t, "/stats", key)
}

func TestRegistryCallbacksRejectDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterCallback("confirm_loan", noop))
	require.Error(t, reg.RegisterCallback("confirm_loan", noop))
	require.Error(t, reg.RegisterCallback("", noop))
	assert.Equal(t, []string{"confirm_loan"}, reg.ListCallbacks())
}

type recordingSetter struct {
	got []interface{}
	err error
}

func (r *recordingSetter) SetCommands(opts ...interface{}) error {
	r.got = opts
	return r.err
}

func TestSetupCommandsPublishesVisible(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterCommand("/start", commands.Command{Handler: noop, Description: "Start"})
	reg.RegisterCommand("/stats", commands.Command{Handler: noop, Description: "Stats", AdminOnly: true})

	setter := &recordingSetter{}
	SetupCommands(setter, reg)
	require.Len(t, setter.got, 1)
	cmds, ok := setter.got[0].([]tele.Command)
	require.True(t, ok)
	require.Len(t, cmds, 1)
	assert.Equal(t, "/start", cmds[0].Text)

	SetupCommands(&recordingSetter{err: errors.New("forbidden")}, reg)
}

func TestBuildPoller(t *testing.T) {
	p := BuildPoller(PollerOptions{RunMode: "webhook", Webhook: WebhookOptions{Listen: "0.0.0.0", Port: 8443, URL: "https://bot.example.com"}})
	wh, ok := p.(*tele.Webhook)
	require.True(t, ok)
	assert.Equal(t, "0.0.0.0:8443", wh.Listen)
	assert.Equal(t, DefaultAllowedUpdates, wh.AllowedUpdates)

	p = BuildPoller(PollerOptions{RunMode: "WEBHOOK", Webhook: WebhookOptions{SecretToken: "s3cret"}, AllowedUpdates: []string{"message"}})
	wh, ok = p.(*tele.Webhook)
	require.True(t, ok)
	assert.Equal(t, "s3cret", wh.SecretToken)
	assert.Equal(t, []string{"message"}, wh.AllowedUpdates)

	lp, ok := BuildPoller(PollerOptions{}).(*tele.LongPoller)
	require.True(t, ok)
	assert.Equal(t, "10s", lp.Timeout.String())
	assert.Equal(t, DefaultAllowedUpdates, lp.AllowedUpdates)
}
