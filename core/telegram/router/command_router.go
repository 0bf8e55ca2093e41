package router

import (
	"log/slog"
	"sort"

	"github.com/kopakash/loanbot/core/logger"
	tg "github.com/kopakash/loanbot/core/telegram"
	"github.com/kopakash/loanbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	AdminID       int64
	OnAdminReject tele.HandlerFunc
}

// CommandRoutes returns one route per command name and alias. Admin-only
// commands are gated before logging so rejected calls are still recorded.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}

	adminOnly := middleware.AdminOnlyMiddleware(middleware.AdminOptions{
		AdminID:  opts.AdminID,
		OnReject: opts.OnAdminReject,
	})

	names := make([]string, 0, len(reg.Commands()))
	for name := range reg.Commands() {
		names = append(names, name)
	}
	sort.Strings(names)

	var routes []tg.Route
	for _, name := range names {
		def := reg.Commands()[name]
		h := middleware.RecoverMiddleware(def.Handler)
		if def.AdminOnly {
			h = adminOnly(h)
		}
		h = middleware.LoggerMiddleware(h)
		for _, ep := range def.Endpoints(name) {
			routes = append(routes, tg.Route{Endpoint: ep, Handler: h})
		}
	}

	logger.TWire.Info("tg.wire",
		slog.String("event", "complete"),
		slog.Int("commands", len(names)),
		slog.Int("endpoints", len(routes)),
		slog.Int("callbacks", len(reg.ListCallbacks())),
	)

	return routes
}
