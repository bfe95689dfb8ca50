package trailflow

import (
	"github.com/raykavin/trailflow/core"
	"github.com/raykavin/trailflow/signal"
)

// Option is a functional option for configuring a Bot instance
type Option func(*Bot)

// WithLogger replaces the default logger.
func WithLogger(log core.Logger) Option {
	return func(bot *Bot) {
		bot.log = log
	}
}

// WithStorage sets the lot storage, by default one is opened from the
// storage section of the configuration.
func WithStorage(storage core.LotStorage) Option {
	return func(bot *Bot) {
		bot.storage = storage
	}
}

// WithRevenueRecorder replaces the default CSV revenue log.
func WithRevenueRecorder(recorder core.RevenueRecorder) Option {
	return func(bot *Bot) {
		bot.revenue = recorder
	}
}

// WithNotifier registers a notifier, by default notifications only go
// to the log.
func WithNotifier(notifier core.Notifier) Option {
	return func(bot *Bot) {
		bot.notifier = notifier
	}
}

// WithScorer replaces the default technical indicator scoring function.
func WithScorer(scorer signal.Scorer) Option {
	return func(bot *Bot) {
		bot.scorer = scorer
	}
}
