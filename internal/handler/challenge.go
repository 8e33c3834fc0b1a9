package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/push21/challengebot/internal/domain"
	"github.com/push21/challengebot/internal/middleware"
	"github.com/push21/challengebot/internal/service"
)

func (h *Handler) reply(ctx context.Context, b *bot.Bot, update *models.Update, text string) {
	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   text,
	})
}

func (h *Handler) actor(ctx context.Context, update *models.Update) *domain.Actor {
	if update.Message == nil {
		return nil
	}
	return middleware.GetActor(ctx)
}

// /challenge <text>
func (h *Handler) handleSubmit(ctx context.Context, b *bot.Bot, update *models.Update) {
	actor := h.actor(ctx, update)
	if actor == nil {
		return
	}

	body := strings.TrimSpace(strings.TrimPrefix(update.Message.Text, "/challenge"))
	if body == "" {
		h.reply(ctx, b, update, "Usage: /challenge <text>")
		return
	}

	challenge, cost, err := h.challenges.Submit(ctx, actor, body, service.SubmitOptions{})
	if err != nil {
		h.reply(ctx, b, update, errText(err))
		return
	}
	h.reply(ctx, b, update, fmt.Sprintf("✅ Challenge #%d submitted for %d NUMBERS.", challenge.ID, cost))
}

// /recurring <daily|weekly|monthly|N> <sessions-per-period> <text>
func (h *Handler) handleSubmitRecurring(ctx context.Context, b *bot.Bot, update *models.Update) {
	actor := h.actor(ctx, update)
	if actor == nil {
		return
	}

	parts := strings.SplitN(strings.TrimSpace(update.Message.Text), " ", 4)
	if len(parts) < 4 {
		h.reply(ctx, b, update, "Usage: /recurring <daily|weekly|monthly|days> <sessions-per-period> <text>")
		return
	}

	opts := service.SubmitOptions{Recurring: true}
	switch parts[1] {
	case "daily":
		opts.CadenceUnit = domain.CadenceDaily
	case "weekly":
		opts.CadenceUnit = domain.CadenceWeekly
	case "monthly":
		opts.CadenceUnit = domain.CadenceMonthly
	default:
		days, err := strconv.Atoi(parts[1])
		if err != nil || days <= 0 {
			h.reply(ctx, b, update, "❌ Cadence must be daily, weekly, monthly or a number of days.")
			return
		}
		opts.CadenceUnit = domain.CadenceCustom
		opts.CadenceDays = days
	}

	required, err := strconv.Atoi(parts[2])
	if err != nil || required <= 0 {
		h.reply(ctx, b, update, "❌ Sessions per period must be a positive number.")
		return
	}
	opts.RequiredPerPeriod = required
	opts.SessionsTotal = required

	challenge, cost, err := h.challenges.Submit(ctx, actor, parts[3], opts)
	if err != nil {
		h.reply(ctx, b, update, errText(err))
		return
	}
	h.reply(ctx, b, update, fmt.Sprintf("✅ Recurring challenge #%d submitted for %d NUMBERS.", challenge.ID, cost))
}

// /push <challenge_id> <quantity>
func (h *Handler) handlePush(ctx context.Context, b *bot.Bot, update *models.Update) {
	actor := h.actor(ctx, update)
	if actor == nil {
		return
	}

	parts := strings.Fields(update.Message.Text)
	if len(parts) != 3 {
		h.reply(ctx, b, update, "Usage: /push <challenge_id> <quantity>")
		return
	}
	challengeID, err1 := strconv.ParseInt(parts[1], 10, 64)
	quantity, err2 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil {
		h.reply(ctx, b, update, "Usage: /push <challenge_id> <quantity>")
		return
	}

	quote, err := h.quotes.RequestQuote(ctx, actor, challengeID, quantity)
	if err != nil {
		h.reply(ctx, b, update, errText(err))
		return
	}
	h.reply(ctx, b, update, fmt.Sprintf(
		"💰 Pushing challenge #%d ×%d costs %d NUMBERS.\nConfirm within 30s: /confirm\nQuote id: %s",
		challengeID, quantity, quote.Cost, quote.ID))
}

// /confirm [quote_id]
func (h *Handler) handleConfirm(ctx context.Context, b *bot.Bot, update *models.Update) {
	actor := h.actor(ctx, update)
	if actor == nil {
		return
	}

	quoteID := ""
	if parts := strings.Fields(update.Message.Text); len(parts) > 1 {
		quoteID = parts[1]
	}

	result, err := h.quotes.ConfirmQuote(ctx, actor, quoteID)
	if err != nil {
		h.reply(ctx, b, update, errText(err))
		return
	}
	h.reply(ctx, b, update, fmt.Sprintf(
		"✅ Pushed challenge #%d ×%d for %d NUMBERS. Balance: %d.",
		result.Challenge.ID, result.Quantity, result.Cost, result.NewBalance))
}

// /quotes
func (h *Handler) handleQuotes(ctx context.Context, b *bot.Bot, update *models.Update) {
	actor := h.actor(ctx, update)
	if actor == nil {
		return
	}

	open, err := h.quotes.OpenQuotes(ctx, actor)
	if err != nil {
		h.reply(ctx, b, update, errText(err))
		return
	}
	if len(open) == 0 {
		h.reply(ctx, b, update, "No open quotes.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Open quotes:\n")
	for _, q := range open {
		fmt.Fprintf(&sb, "• %s — challenge #%d ×%d, %d NUMBERS\n", q.ID, q.ChallengeID, q.Quantity, q.Cost)
	}
	h.reply(ctx, b, update, sb.String())
}

// /cancel <quote_id>
func (h *Handler) handleCancel(ctx context.Context, b *bot.Bot, update *models.Update) {
	actor := h.actor(ctx, update)
	if actor == nil {
		return
	}

	parts := strings.Fields(update.Message.Text)
	if len(parts) != 2 {
		h.reply(ctx, b, update, "Usage: /cancel <quote_id>")
		return
	}
	if err := h.quotes.CancelQuote(ctx, actor, parts[1]); err != nil {
		h.reply(ctx, b, update, errText(err))
		return
	}
	h.reply(ctx, b, update, "Quote cancelled.")
}

// /digout <challenge_id>
func (h *Handler) handleDigout(ctx context.Context, b *bot.Bot, update *models.Update) {
	actor := h.actor(ctx, update)
	if actor == nil {
		return
	}

	parts := strings.Fields(update.Message.Text)
	if len(parts) != 2 {
		h.reply(ctx, b, update, "Usage: /digout <challenge_id>")
		return
	}
	challengeID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		h.reply(ctx, b, update, "Usage: /digout <challenge_id>")
		return
	}

	challenge, cost, err := h.challenges.Digout(ctx, actor, challengeID)
	if err != nil {
		h.reply(ctx, b, update, errText(err))
		return
	}
	h.reply(ctx, b, update, fmt.Sprintf("⛏ Challenge #%d dug out for %d NUMBERS.", challenge.ID, cost))
}

// /remove <challenge_id> [forfeit|author|all]
func (h *Handler) handleRemove(ctx context.Context, b *bot.Bot, update *models.Update) {
	actor := h.actor(ctx, update)
	if actor == nil {
		return
	}

	parts := strings.Fields(update.Message.Text)
	if len(parts) < 2 {
		h.reply(ctx, b, update, "Usage: /remove <challenge_id> [forfeit|author|all]")
		return
	}
	challengeID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		h.reply(ctx, b, update, "Usage: /remove <challenge_id> [forfeit|author|all]")
		return
	}

	policy := service.RefundForfeit
	if len(parts) > 2 {
		policy = service.RefundPolicy(parts[2])
		if !policy.Valid() {
			h.reply(ctx, b, update, "❌ Policy must be forfeit, author or all.")
			return
		}
	}

	result, err := h.challenges.Remove(ctx, actor, challengeID, policy)
	if err != nil {
		h.reply(ctx, b, update, errText(err))
		return
	}

	msg := fmt.Sprintf("🗑 Challenge #%d removed. Refund pool: %d, refunded: %d, forfeited to sink: %d.",
		challengeID, result.Pool, result.Refunded, result.Forfeited)
	if result.FailedRefunds > 0 {
		msg += fmt.Sprintf(" %d refunds failed.", result.FailedRefunds)
	}
	h.reply(ctx, b, update, msg)
}

// /balance
func (h *Handler) handleBalance(ctx context.Context, b *bot.Bot, update *models.Update) {
	actor := h.actor(ctx, update)
	if actor == nil {
		return
	}
	h.reply(ctx, b, update, fmt.Sprintf("💳 %s: %d NUMBERS.", actor.Account.DisplayName, actor.Account.Balance))
}

// /list [active|archived|in_progress|completed|failed|removed]
func (h *Handler) handleList(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	status := domain.StatusActive
	if parts := strings.Fields(update.Message.Text); len(parts) > 1 {
		status = domain.ChallengeStatus(parts[1])
		if !status.Valid() {
			h.reply(ctx, b, update, "❌ Unknown status.")
			return
		}
	}

	challenges, err := h.challenges.ListByStatus(ctx, status)
	if err != nil {
		h.reply(ctx, b, update, errText(err))
		return
	}
	if len(challenges) == 0 {
		h.reply(ctx, b, update, fmt.Sprintf("No %s challenges.", status))
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Challenges (%s):\n", status)
	for _, c := range challenges {
		fmt.Fprintf(&sb, "• #%d [%d NUMBERS, %d pushes, day %d/21] %s\n",
			c.ID, c.TotalSpent, c.TotalPushes, c.AgeDays, c.Body)
	}
	h.reply(ctx, b, update, sb.String())
}
