package telegram

import (
	"strings"
	"time"

	coreconfig "github.com/kopakash/loanbot/core/config"
	"github.com/kopakash/loanbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// DefaultMiddlewares builds the bot-wide chain. Metrics wrap the optional
// per-user rate limit, so throttled updates are still counted.
func DefaultMiddlewares(cfg *coreconfig.Config, onLimited tele.HandlerFunc) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
		{Name: "metrics", Use: middleware.MessageMetricsMiddleware},
	}
	if limit, ok := rateLimit(cfg, onLimited); ok {
		mws = append(mws, Middleware{Name: "rate_limit", Use: middleware.RateLimitMiddleware(limit)})
	}
	return append(mws, Middleware{Name: "logger", Use: middleware.LoggerMiddleware})
}

func rateLimit(cfg *coreconfig.Config, onLimited tele.HandlerFunc) (middleware.RateLimitOptions, bool) {
	if cfg == nil || cfg.RateLimit.IntervalMS <= 0 {
		return middleware.RateLimitOptions{}, false
	}
	exclude := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
	for _, kind := range cfg.RateLimit.ExcludeUpdates {
		exclude[strings.ToLower(kind)] = struct{}{}
	}
	return middleware.RateLimitOptions{
		Interval:  time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond,
		Exclude:   exclude,
		OnLimited: onLimited,
	}, true
}
