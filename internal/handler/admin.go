package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/push21/challengebot/internal/domain"
)

func (h *Handler) adminActor(ctx context.Context, b *bot.Bot, update *models.Update) *domain.Actor {
	actor := h.actor(ctx, update)
	if actor == nil {
		return nil
	}
	if !actor.User.IsAdmin {
		h.reply(ctx, b, update, errText(domain.ErrUnauthorized))
		return nil
	}
	return actor
}

// parseTimestamp reads an optional RFC3339 timestamp argument; webhooks may
// carry the real event time, everything else defaults to receipt time.
func parseTimestamp(args []string) time.Time {
	if len(args) == 0 {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, args[0])
	if err != nil {
		return time.Time{}
	}
	return ts
}

// /execute <challenge_id>
func (h *Handler) handleExecute(ctx context.Context, b *bot.Bot, update *models.Update) {
	actor := h.adminActor(ctx, b, update)
	if actor == nil {
		return
	}

	parts := strings.Fields(update.Message.Text)
	if len(parts) != 2 {
		h.reply(ctx, b, update, "Usage: /execute <challenge_id>")
		return
	}
	challengeID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		h.reply(ctx, b, update, "Usage: /execute <challenge_id>")
		return
	}

	challenge, err := h.challenges.Execute(ctx, actor, challengeID)
	if err != nil {
		h.reply(ctx, b, update, errText(err))
		return
	}
	h.reply(ctx, b, update, fmt.Sprintf("▶️ Challenge #%d is now executing (%d/%d sessions).",
		challenge.ID, challenge.SessionsDone, challenge.SessionsTotal))
}

// /gm <challenge_id> <status>
func (h *Handler) handleGM(ctx context.Context, b *bot.Bot, update *models.Update) {
	actor := h.adminActor(ctx, b, update)
	if actor == nil {
		return
	}

	parts := strings.Fields(update.Message.Text)
	if len(parts) != 3 {
		h.reply(ctx, b, update, "Usage: /gm <challenge_id> <status>")
		return
	}
	challengeID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		h.reply(ctx, b, update, "Usage: /gm <challenge_id> <status>")
		return
	}

	challenge, err := h.challenges.SetStatus(ctx, actor, challengeID, domain.ChallengeStatus(parts[2]))
	if err != nil {
		h.reply(ctx, b, update, errText(err))
		return
	}
	h.reply(ctx, b, update, fmt.Sprintf("🔧 Challenge #%d forced to %s.", challenge.ID, challenge.Status))
}

// /live [rfc3339-timestamp]
func (h *Handler) handleLive(ctx context.Context, b *bot.Bot, update *models.Update) {
	actor := h.adminActor(ctx, b, update)
	if actor == nil {
		return
	}

	ts := parseTimestamp(strings.Fields(update.Message.Text)[1:])
	if err := h.streamClock.GoLive(ctx, ts); err != nil {
		h.reply(ctx, b, update, errText(err))
		return
	}
	h.reply(ctx, b, update, "🔴 Broadcast is live.")
}

// /offline [rfc3339-timestamp]
func (h *Handler) handleOffline(ctx context.Context, b *bot.Bot, update *models.Update) {
	actor := h.adminActor(ctx, b, update)
	if actor == nil {
		return
	}

	ts := parseTimestamp(strings.Fields(update.Message.Text)[1:])
	if err := h.streamClock.GoOffline(ctx, ts); err != nil {
		h.reply(ctx, b, update, errText(err))
		return
	}
	h.reply(ctx, b, update, "⚫️ Broadcast ended.")
}

// /maintenance
func (h *Handler) handleMaintenance(ctx context.Context, b *bot.Bot, update *models.Update) {
	actor := h.adminActor(ctx, b, update)
	if actor == nil {
		return
	}

	result, err := h.maintenance.RunDaily(ctx, time.Time{})
	if err != nil {
		h.reply(ctx, b, update, errText(err))
		return
	}
	if result.AlreadyRan {
		h.reply(ctx, b, update, "Maintenance already ran today.")
		return
	}
	h.reply(ctx, b, update, fmt.Sprintf(
		"🧹 Maintenance done. Day %d (broadcast day %d): %d users ticked, %d archived, %d one-offs failed, %d cadence failures.",
		result.RealDay, result.BroadcastDay, result.UsersTicked, result.Archived, result.OneOffsFailed, result.CadenceFailed))
}
