package telegram

import (
	"context"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"currency-exchange-bot/internal/alerting"
	"currency-exchange-bot/internal/dispatch"
)

// Config configures the Bot API client.
type Config struct {
	Token          string
	APIEndpoint    string
	Debug          bool
	UpdatesTimeout int
	RequestTimeout time.Duration
}

// Bot is the long-polling Telegram client.
type Bot struct {
	api    *tgbotapi.BotAPI
	cfg    Config
	logger zerolog.Logger
}

// HandleFunc receives every converted update.
type HandleFunc func(ctx context.Context, in dispatch.Interaction)

// NewBot authenticates against the Bot API.
func NewBot(cfg Config, logger zerolog.Logger) (*Bot, error) {
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 75 * time.Second
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, errors.Wrap(err, "could not create telegram bot")
	}
	api.Debug = cfg.Debug

	b := &Bot{
		api:    api,
		cfg:    cfg,
		logger: logger.With().Str("component", "telegram").Logger(),
	}
	b.logger.Info().Str("username", api.Self.UserName).Msg("authorized")
	return b, nil
}

// Username is the bot's handle.
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// Run long-polls updates and passes each interaction to handle until ctx is done.
func (b *Bot) Run(ctx context.Context, handle HandleFunc) error {
	u := tgbotapi.NewUpdate(0)
	if b.cfg.UpdatesTimeout > 0 {
		u.Timeout = b.cfg.UpdatesTimeout
	}
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			in, ok := ToInteraction(update)
			if !ok {
				b.logger.Debug().Int("update_id", update.UpdateID).Msg("ignoring update")
				continue
			}
			handle(ctx, in)
		}
	}
}

// Send delivers a text or photo message.
func (b *Bot) Send(ctx context.Context, m alerting.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := toChattable(m)
	if err != nil {
		return err
	}
	_, err = b.api.Send(c)
	return errors.Wrapf(err, "could not send message to chat %d", m.ChatID)
}

// AnswerCallback acknowledges an inline button press; text may be empty.
func (b *Bot) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.api.Request(tgbotapi.NewCallback(callbackID, text))
	return errors.Wrap(err, "could not answer callback")
}

func toChattable(m alerting.Message) (tgbotapi.Chattable, error) {
	parseMode := ""
	if m.Markdown {
		parseMode = tgbotapi.ModeMarkdownV2
	}

	if len(m.Image) > 0 {
		name := m.ImageName
		if name == "" {
			name = "chart.png"
		}
		photo := tgbotapi.NewPhoto(m.ChatID, tgbotapi.FileBytes{Name: name, Bytes: m.Image})
		photo.Caption = m.Text
		photo.ParseMode = parseMode
		photo.ReplyToMessageID = m.ReplyTo
		if m.Keyboard != nil {
			photo.ReplyMarkup = toMarkup(*m.Keyboard)
		}
		return photo, nil
	}

	if strings.TrimSpace(m.Text) == "" {
		return nil, errors.New("empty message")
	}
	msg := tgbotapi.NewMessage(m.ChatID, m.Text)
	msg.ParseMode = parseMode
	msg.DisableWebPagePreview = true
	msg.ReplyToMessageID = m.ReplyTo
	if m.Keyboard != nil {
		msg.ReplyMarkup = toMarkup(*m.Keyboard)
	}
	return msg, nil
}

func toMarkup(k alerting.Keyboard) interface{} {
	switch {
	case len(k.Inline) > 0:
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(k.Inline))
		for _, row := range k.Inline {
			buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
			for _, btn := range row {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Data))
			}
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
		}
		return tgbotapi.NewInlineKeyboardMarkup(rows...)
	case len(k.Reply) > 0:
		rows := make([][]tgbotapi.KeyboardButton, 0, len(k.Reply))
		for _, row := range k.Reply {
			buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
			for _, label := range row {
				buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
			}
			rows = append(rows, tgbotapi.NewKeyboardButtonRow(buttons...))
		}
		markup := tgbotapi.NewReplyKeyboard(rows...)
		markup.ResizeKeyboard = true
		return markup
	case k.Remove:
		return tgbotapi.NewRemoveKeyboard(true)
	default:
		return nil
	}
}

// ToInteraction converts an update into the router's input. Updates without a human
// sender are reported as not ok.
func ToInteraction(u tgbotapi.Update) (dispatch.Interaction, bool) {
	if cq := u.CallbackQuery; cq != nil {
		if cq.From == nil {
			return dispatch.Interaction{}, false
		}
		in := dispatch.Interaction{
			UserID:       cq.From.ID,
			ChatID:       cq.From.ID,
			Username:     cq.From.UserName,
			CallbackID:   cq.ID,
			CallbackData: cq.Data,
		}
		if cq.Message != nil && cq.Message.Chat != nil {
			in.ChatID = cq.Message.Chat.ID
			in.MessageID = cq.Message.MessageID
		}
		return in, true
	}

	m := u.Message
	if m == nil || m.From == nil || m.Chat == nil || m.From.IsBot {
		return dispatch.Interaction{}, false
	}
	return dispatch.Interaction{
		UserID:    m.From.ID,
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		Username:  m.From.UserName,
		Text:      m.Text,
	}, true
}

var _ alerting.Sender = (*Bot)(nil)
