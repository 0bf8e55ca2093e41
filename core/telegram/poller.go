package telegram

import (
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/kopakash/loanbot/core/config"

	tele "gopkg.in/telebot.v4"
)

// DefaultAllowedUpdates are the update kinds the bots route; anything else is
// filtered out by Telegram before it reaches the poller.
var DefaultAllowedUpdates = []string{"message", "callback_query"}

// WebhookOptions declares webhook listener settings.
type WebhookOptions struct {
	Listen string
	Port   int
	URL    string
	// SecretToken is echoed by Telegram in X-Telegram-Bot-Api-Secret-Token.
	SecretToken string
}

// PollerOptions configures BuildPoller.
type PollerOptions struct {
	RunMode                string
	LongPollTimeoutSeconds int
	Webhook                WebhookOptions
	// AllowedUpdates overrides DefaultAllowedUpdates.
	AllowedUpdates []string
}

// BuildPoller returns a webhook poller in webhook mode and a long poller otherwise.
func BuildPoller(opts PollerOptions) tele.Poller {
	allowed := opts.AllowedUpdates
	if len(allowed) == 0 {
		allowed = DefaultAllowedUpdates
	}

	if strings.EqualFold(strings.TrimSpace(opts.RunMode), coreconfig.RunModeWebhook) {
		return &tele.Webhook{
			Listen:         fmt.Sprintf("%s:%d", opts.Webhook.Listen, opts.Webhook.Port),
			Endpoint:       &tele.WebhookEndpoint{PublicURL: opts.Webhook.URL},
			SecretToken:    opts.Webhook.SecretToken,
			AllowedUpdates: allowed,
		}
	}

	timeoutSec := opts.LongPollTimeoutSeconds
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	return &tele.LongPoller{
		Timeout:        time.Duration(timeoutSec) * time.Second,
		AllowedUpdates: allowed,
	}
}
