// Package notification provides implementations for various notification services
package notification

import (
	"fmt"
	"strings"
	"time"

	"slices"

	"github.com/raykavin/trailflow/core"
	tb "gopkg.in/tucnak/telebot.v2"
)

const pollingTimeout = 10 * time.Second

// TelegramSettings identifies the bot token and the users allowed to
// talk to it.
type TelegramSettings struct {
	Token string
	Users []int
}

// StatusFunc renders the live session state for the /status command.
type StatusFunc func() string

// BalanceFunc renders the wallet state for the /balance command.
type BalanceFunc func() (string, error)

// Telegram implements core.NotifierWithStart. Trade announcements go
// out to every authorized user; a small command set lets users poll
// the session state back.
type Telegram struct {
	settings    TelegramSettings
	defaultMenu *tb.ReplyMarkup
	client      *tb.Bot
	log         core.Logger

	statusFn  StatusFunc
	balanceFn BalanceFunc
}

// Option is a function that configures a telegram instance.
type Option func(telegram *Telegram)

// WithStatusHandler wires the /status command.
func WithStatusHandler(fn StatusFunc) Option {
	return func(t *Telegram) { t.statusFn = fn }
}

// WithBalanceHandler wires the /balance command.
func WithBalanceHandler(fn BalanceFunc) Option {
	return func(t *Telegram) { t.balanceFn = fn }
}

// NewTelegram creates and initializes a new Telegram service.
func NewTelegram(settings TelegramSettings, log core.Logger, options ...Option) (*Telegram, error) {
	menu := &tb.ReplyMarkup{ResizeReplyKeyboard: true}
	poller := &tb.LongPoller{Timeout: pollingTimeout}
	userMiddleware := newAuthMiddleware(poller, settings, log)

	client, err := tb.NewBot(tb.Settings{
		ParseMode: tb.ModeMarkdown,
		Token:     settings.Token,
		Poller:    userMiddleware,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	setupKeyboard(menu)
	if err := setupCommands(client); err != nil {
		return nil, fmt.Errorf("failed to set commands: %w", err)
	}

	bot := &Telegram{
		client:      client,
		settings:    settings,
		defaultMenu: menu,
		log:         log,
	}

	for _, option := range options {
		option(bot)
	}

	registerHandlers(client, bot)

	return bot, nil
}

// newAuthMiddleware creates a middleware to validate authorized users
func newAuthMiddleware(poller *tb.LongPoller, settings TelegramSettings, log core.Logger) *tb.MiddlewarePoller {
	return tb.NewMiddlewarePoller(poller, func(u *tb.Update) bool {
		if u.Message == nil || u.Message.Sender == nil {
			log.Error("message or sender is nil ", u)
			return false
		}

		if slices.Contains(settings.Users, int(u.Message.Sender.ID)) {
			return true
		}

		log.Error("unauthorized user ", u.Message.Sender.ID)
		return false
	})
}

// setupKeyboard configures the reply keyboard layout
func setupKeyboard(menu *tb.ReplyMarkup) {
	var (
		statusBtn  = menu.Text("/status")
		balanceBtn = menu.Text("/balance")
		helpBtn    = menu.Text("/help")
	)

	menu.Reply(
		menu.Row(statusBtn, balanceBtn, helpBtn),
	)
}

// setupCommands configures available bot commands
func setupCommands(client *tb.Bot) error {
	return client.SetCommands([]tb.Command{
		{Text: "/help", Description: "Display help instructions"},
		{Text: "/status", Description: "Check trailing status"},
		{Text: "/balance", Description: "Wallet balance"},
	})
}

// registerHandlers registers all command handlers
func registerHandlers(client *tb.Bot, bot *Telegram) {
	client.Handle("/help", bot.HelpHandle)
	client.Handle("/status", bot.StatusHandle)
	client.Handle("/balance", bot.BalanceHandle)
}

// Start begins the Telegram bot and notifies all authorized users
func (t *Telegram) Start() {
	go t.client.Start()
	t.sendMessageWithOptions("Bot initialized.", t.defaultMenu)
}

// Notification methods
// -------------------

// Notify sends a message to all authorized users
func (t *Telegram) Notify(text string) {
	for _, user := range t.settings.Users {
		_, err := t.client.Send(&tb.User{ID: int64(user)}, text)
		if err != nil {
			t.log.WithError(err).Error("failed to send notification")
		}
	}
}

// OnError notifies users about errors
func (t *Telegram) OnError(err error) {
	var sb strings.Builder
	sb.WriteString("🛑 ERROR\n")
	sb.WriteString("-----\n")
	sb.WriteString(err.Error())

	t.Notify(sb.String())
}

// sendMessageWithOptions sends a message to all authorized users with additional options
func (t *Telegram) sendMessageWithOptions(text string, options ...any) {
	for _, user := range t.settings.Users {
		_, err := t.client.Send(&tb.User{ID: int64(user)}, text, options...)
		if err != nil {
			t.log.WithError(err).Error("failed to send notification with options")
		}
	}
}

// sendMessage sends a message to a specific user
func (t *Telegram) sendMessage(to *tb.User, text string, options ...any) {
	_, err := t.client.Send(to, text, options...)
	if err != nil {
		t.log.WithError(err).Error("failed to send message")
	}
}

// Command handlers
// ---------------

// HelpHandle displays available commands
func (t *Telegram) HelpHandle(m *tb.Message) {
	commands, err := t.client.GetCommands()
	if err != nil {
		t.log.WithError(err).Error("failed to get commands")
		t.OnError(err)
		return
	}

	lines := make([]string, 0, len(commands))
	for _, command := range commands {
		lines = append(lines, fmt.Sprintf("/%s - %s", command.Text, command.Description))
	}

	t.sendMessage(m.Sender, strings.Join(lines, "\n"))
}

// StatusHandle displays the current trailing state
func (t *Telegram) StatusHandle(m *tb.Message) {
	if t.statusFn == nil {
		t.sendMessage(m.Sender, "Status not available.")
		return
	}
	t.sendMessage(m.Sender, fmt.Sprintf("Status: `%s`", t.statusFn()))
}

// BalanceHandle shows the wallet balance
func (t *Telegram) BalanceHandle(m *tb.Message) {
	if t.balanceFn == nil {
		t.sendMessage(m.Sender, "Balance not available.")
		return
	}

	message, err := t.balanceFn()
	if err != nil {
		t.log.WithError(err).Error("failed to get balance")
		t.OnError(err)
		return
	}
	t.sendMessage(m.Sender, message)
}
