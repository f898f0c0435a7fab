package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"currency-exchange-bot/internal/alerting"
)

type fakeAPI struct {
	mu       sync.Mutex
	requests map[string][]map[string]string
	failSend bool
}

func (f *fakeAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		method := parts[len(parts)-1]

		fields := map[string]string{}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			for k, v := range r.MultipartForm.Value {
				fields[k] = v[0]
			}
			if _, ok := r.MultipartForm.File["photo"]; ok {
				fields["photo"] = "<file>"
			}
		} else {
			_ = r.ParseForm()
			for k, v := range r.PostForm {
				fields[k] = v[0]
			}
		}

		f.mu.Lock()
		if f.requests == nil {
			f.requests = map[string][]map[string]string{}
		}
		f.requests[method] = append(f.requests[method], fields)
		fail := f.failSend
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "getMe":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Rates","username":"rates_bot"}}`))
		case "sendMessage", "sendPhoto":
			if fail {
				_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
				return
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":7,"type":"private"}}}`))
		case "answerCallbackQuery":
			_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		default:
			_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
		}
	}
}

func (f *fakeAPI) last(method string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	reqs := f.requests[method]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

func newTestBot(t *testing.T, api *fakeAPI) *Bot {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	bot, err := NewBot(Config{Token: "token", APIEndpoint: srv.URL + "/bot%s/%s"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewBot: %v", err)
	}
	return bot
}

func TestNewBotReadsIdentity(t *testing.T) {
	bot := newTestBot(t, &fakeAPI{})
	if bot.Username() != "rates_bot" {
		t.Fatalf("username = %q", bot.Username())
	}
}

func TestSendMarkdownWithInlineKeyboard(t *testing.T) {
	api := &fakeAPI{}
	bot := newTestBot(t, api)

	err := bot.Send(context.Background(), alerting.Message{
		ChatID:   7,
		Text:     "*Pick*",
		Markdown: true,
		Keyboard: &alerting.Keyboard{Inline: [][]alerting.Button{{{Text: "EUR", Data: "target:EUR"}}}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	req := api.last("sendMessage")
	if req["chat_id"] != "7" || req["text"] != "*Pick*" || req["parse_mode"] != tgbotapi.ModeMarkdownV2 {
		t.Fatalf("unexpected request %v", req)
	}
	var markup tgbotapi.InlineKeyboardMarkup
	if err := json.Unmarshal([]byte(req["reply_markup"]), &markup); err != nil {
		t.Fatalf("reply_markup: %v", err)
	}
	if len(markup.InlineKeyboard) != 1 || *markup.InlineKeyboard[0][0].CallbackData != "target:EUR" {
		t.Fatalf("unexpected markup %+v", markup)
	}
}

func TestSendPhoto(t *testing.T) {
	api := &fakeAPI{}
	bot := newTestBot(t, api)

	err := bot.Send(context.Background(), alerting.Message{ChatID: 7, Text: "USD", Image: []byte("\x89PNG")})
	if err != nil {
		t.Fatalf("send photo: %v", err)
	}
	req := api.last("sendPhoto")
	if req["photo"] != "<file>" || req["caption"] != "USD" {
		t.Fatalf("unexpected photo request %v", req)
	}
}

func TestSendErrors(t *testing.T) {
	api := &fakeAPI{failSend: true}
	bot := newTestBot(t, api)

	if err := bot.Send(context.Background(), alerting.Message{ChatID: 7, Text: "hi"}); err == nil {
		t.Fatal("API error must be returned")
	}
	if err := bot.Send(context.Background(), alerting.Message{ChatID: 7, Text: "  "}); err == nil {
		t.Fatal("empty text must be rejected")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bot.Send(ctx, alerting.Message{ChatID: 7, Text: "hi"}); err == nil {
		t.Fatal("cancelled context must be rejected")
	}
}

func TestAnswerCallback(t *testing.T) {
	api := &fakeAPI{}
	bot := newTestBot(t, api)
	if err := bot.AnswerCallback(context.Background(), "cb-1", ""); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if req := api.last("answerCallbackQuery"); req["callback_query_id"] != "cb-1" {
		t.Fatalf("unexpected request %v", req)
	}
}

func TestToInteraction(t *testing.T) {
	msg := tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 5,
		From:      &tgbotapi.User{ID: 1, UserName: "ivan"},
		Chat:      &tgbotapi.Chat{ID: 10},
		Text:      "USD",
	}}
	in, ok := ToInteraction(msg)
	if !ok || in.UserID != 1 || in.ChatID != 10 || in.Text != "USD" || in.IsCallback() {
		t.Fatalf("message: %+v %v", in, ok)
	}

	cb := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: 1},
		Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: 10}},
		Data:    "target:EUR",
	}}
	in, ok = ToInteraction(cb)
	if !ok || !in.IsCallback() || in.CallbackData != "target:EUR" || in.MessageID != 9 || in.ChatID != 10 {
		t.Fatalf("callback: %+v %v", in, ok)
	}

	bot := tgbotapi.Update{Message: &tgbotapi.Message{From: &tgbotapi.User{ID: 2, IsBot: true}, Chat: &tgbotapi.Chat{ID: 2}}}
	if _, ok := ToInteraction(bot); ok {
		t.Fatal("messages from bots are ignored")
	}
	if _, ok := ToInteraction(tgbotapi.Update{}); ok {
		t.Fatal("empty update is ignored")
	}
}

func TestToMarkupReplyKeyboard(t *testing.T) {
	markup, ok := toMarkup(alerting.Keyboard{Reply: [][]string{{"USD", "EUR"}, {"Rates"}}}).(tgbotapi.ReplyKeyboardMarkup)
	if !ok || len(markup.Keyboard) != 2 || markup.Keyboard[0][1].Text != "EUR" || !markup.ResizeKeyboard {
		t.Fatalf("unexpected reply keyboard %+v", markup)
	}
	if _, ok := toMarkup(alerting.Keyboard{Remove: true}).(tgbotapi.ReplyKeyboardRemove); !ok {
		t.Fatal("remove keyboard")
	}
}
