package middleware

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/push21/challengebot/internal/config"
	"github.com/push21/challengebot/internal/domain"
	"github.com/push21/challengebot/internal/service"
)

type ctxKey string

const actorKey ctxKey = "actor"

// GetActor extracts the resolved actor from context.
func GetActor(ctx context.Context) *domain.Actor {
	a, ok := ctx.Value(actorKey).(*domain.Actor)
	if !ok {
		return nil
	}
	return a
}

// ActorLoader resolves the sender's platform identity into a User+Account
// pair and stores it in the request context. The handlers trust this result
// as the authenticated actor.
func ActorLoader(users *service.UserService, cfg interface{ IsAdmin(int64) bool }) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			var from *models.User
			if update.Message != nil {
				from = update.Message.From
			} else if update.CallbackQuery != nil {
				from = &update.CallbackQuery.From
			}
			if from == nil {
				next(ctx, b, update)
				return
			}

			displayName := from.FirstName
			if from.Username != "" {
				displayName = from.Username
			}

			actor, err := users.FindOrCreate(ctx,
				config.PlatformTelegram,
				strconv.FormatInt(from.ID, 10),
				displayName,
				cfg.IsAdmin(from.ID),
			)
			if err != nil {
				slog.Error("resolve actor", "error", err, "platform_id", from.ID)
				next(ctx, b, update)
				return
			}

			next(context.WithValue(ctx, actorKey, actor), b, update)
		}
	}
}
