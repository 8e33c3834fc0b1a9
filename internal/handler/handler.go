package handler

import (
	"errors"

	"github.com/go-telegram/bot"

	"github.com/push21/challengebot/internal/config"
	"github.com/push21/challengebot/internal/domain"
	"github.com/push21/challengebot/internal/service"
)

// Handler holds all dependencies needed by command handlers.
type Handler struct {
	bot         *bot.Bot
	cfg         *config.Config
	users       *service.UserService
	quotes      *service.QuoteService
	challenges  *service.ChallengeService
	maintenance *service.MaintenanceService
	streamClock *service.StreamClock
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	Bot         *bot.Bot
	Cfg         *config.Config
	Users       *service.UserService
	Quotes      *service.QuoteService
	Challenges  *service.ChallengeService
	Maintenance *service.MaintenanceService
	StreamClock *service.StreamClock
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	return &Handler{
		bot:         deps.Bot,
		cfg:         deps.Cfg,
		users:       deps.Users,
		quotes:      deps.Quotes,
		challenges:  deps.Challenges,
		maintenance: deps.Maintenance,
		streamClock: deps.StreamClock,
	}
}

// Register registers all command handlers on the bot instance.
func (h *Handler) Register() {
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/challenge", bot.MatchTypePrefix, h.handleSubmit)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/recurring", bot.MatchTypePrefix, h.handleSubmitRecurring)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/push", bot.MatchTypePrefix, h.handlePush)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/confirm", bot.MatchTypePrefix, h.handleConfirm)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/quotes", bot.MatchTypePrefix, h.handleQuotes)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/cancel", bot.MatchTypePrefix, h.handleCancel)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/digout", bot.MatchTypePrefix, h.handleDigout)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/remove", bot.MatchTypePrefix, h.handleRemove)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/balance", bot.MatchTypePrefix, h.handleBalance)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/list", bot.MatchTypePrefix, h.handleList)

	// Admin
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/execute", bot.MatchTypePrefix, h.handleExecute)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/gm", bot.MatchTypePrefix, h.handleGM)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/live", bot.MatchTypePrefix, h.handleLive)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/offline", bot.MatchTypePrefix, h.handleOffline)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/maintenance", bot.MatchTypePrefix, h.handleMaintenance)
}

// errText maps engine errors to user-facing replies.
func errText(err error) string {
	switch {
	case errors.Is(err, domain.ErrChallengeNotFound):
		return "❌ Challenge not found."
	case errors.Is(err, domain.ErrQuoteNotFound):
		return "❌ No open quote. Request one with /push first."
	case errors.Is(err, domain.ErrQuoteAmbiguous):
		return "❌ You have several open quotes, confirm with an explicit id: /confirm <quote_id>"
	case errors.Is(err, domain.ErrQuoteExpired):
		return "❌ Quote expired. Request a new one with /push."
	case errors.Is(err, domain.ErrQuoteLocked):
		return "❌ That quote is already being confirmed."
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "❌ Not enough NUMBERS."
	case errors.Is(err, domain.ErrInvalidState):
		return "❌ The challenge is not in a state that allows this."
	case errors.Is(err, domain.ErrAlreadyProcessed):
		return "❌ Already done once, this cannot be repeated."
	case errors.Is(err, domain.ErrUnauthorized):
		return "❌ You are not allowed to do that."
	case errors.Is(err, domain.ErrInvalidAmount):
		return "❌ Invalid amount."
	default:
		return "❌ Something went wrong, try again."
	}
}
