package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"

	coreconfig "github.com/kopakash/loanbot/core/config"
)

func middlewareNames(mws []Middleware) []string {
	names := make([]string, 0, len(mws))
	for _, m := range mws {
		names = append(names, m.Name)
	}
	return names
}

func TestDefaultMiddlewaresWithoutRateLimit(t *testing.T) {
	assert.Equal(t, []string{"recover", "metrics", "logger"}, middlewareNames(DefaultMiddlewares(nil, nil)))
	assert.Equal(t, []string{"recover", "metrics", "logger"}, middlewareNames(DefaultMiddlewares(&coreconfig.Config{}, nil)))
}

func TestDefaultMiddlewaresRateLimitExcludes(t *testing.T) {
	cfg := &coreconfig.Config{}
	cfg.RateLimit.IntervalMS = 500
	cfg.RateLimit.ExcludeUpdates = []string{"Callback"}

	assert.Equal(t, []string{"recover", "metrics", "rate_limit", "logger"}, middlewareNames(DefaultMiddlewares(cfg, noop)))

	opts, ok := rateLimit(cfg, noop)
	assert.True(t, ok)
	assert.Contains(t, opts.Exclude, "callback")
	assert.NotNil(t, opts.OnLimited)
}
