// Package logctx decorates slog records with guard and session attributes
// carried in the context, so every log line emitted during a network call or
// timer callback identifies which guard instance and which user it belongs
// to.
package logctx

import (
	"context"
	"log/slog"
)

type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if gd, ok := ctx.Value(guardDataKey{}).(*GuardData); ok {
		r.AddAttrs(slog.Group("guard",
			slog.String("id", gd.GuardID),
			slog.String("state", gd.State),
		))
	}

	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("user_id", sd.UserID),
			slog.String("company", sd.Company),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type guardDataKey struct{}

type GuardData struct {
	GuardID string
	State   string
}

func WithGuardData(ctx context.Context, data *GuardData) context.Context {
	return context.WithValue(ctx, guardDataKey{}, data)
}

type sessionDataKey struct{}

type SessionData struct {
	UserID  string
	Company string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}
