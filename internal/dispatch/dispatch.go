// Package dispatch classifies inbound interactions into a single intent.
//
// Classification is one ordered pass. The first rule that matches decides:
//
//  1. callback data: cancel, target:<CUR>, chart:<CUR>, offices:<CUR>
//  2. slash commands, with an optional @botname suffix; unknown commands stop here
//  3. exact reply-keyboard button labels
//  4. an allowed currency code: PickTarget while awaiting a target, else PickSource;
//     an upper-case three-letter code outside the allow-list is UnsupportedCurrency
//  5. any other text while awaiting an amount is an amount attempt
//  6. a bare number is a quick quote in every supported currency
//  7. everything else is Unknown
//
// A currency code typed at the amount prompt restarts the dialogue; a number typed there is
// an amount attempt, never a quick quote.
package dispatch

import (
	"strings"
	"unicode"

	"currency-exchange-bot/internal/currency"
	"currency-exchange-bot/internal/session"
)

// Interaction is one inbound message or callback selection.
type Interaction struct {
	UserID       int64
	ChatID       int64
	MessageID    int
	Username     string
	Text         string
	CallbackID   string
	CallbackData string
}

// IsCallback reports whether the interaction came from an inline button.
func (i Interaction) IsCallback() bool {
	return i.CallbackID != ""
}

// Intent is what the user asked for.
type Intent int

const (
	Unknown Intent = iota
	Start
	Help
	Cancel
	Rates
	Chart
	Offices
	SetAlert
	ListAlerts
	DeleteAlert
	Subscribe
	Unsubscribe
	PickSource
	PickTarget
	EnterAmount
	QuickQuote
	UnsupportedCurrency
)

var intentNames = map[Intent]string{
	Unknown:             "unknown",
	Start:               "start",
	Help:                "help",
	Cancel:              "cancel",
	Rates:               "rates",
	Chart:               "chart",
	Offices:             "offices",
	SetAlert:            "set_alert",
	ListAlerts:          "list_alerts",
	DeleteAlert:         "delete_alert",
	Subscribe:           "subscribe",
	Unsubscribe:         "unsubscribe",
	PickSource:          "pick_source",
	PickTarget:          "pick_target",
	EnterAmount:         "enter_amount",
	QuickQuote:          "quick_quote",
	UnsupportedCurrency: "unsupported_currency",
}

func (i Intent) String() string {
	if name, ok := intentNames[i]; ok {
		return name
	}
	return "unknown"
}

// Classification is the classifier's verdict. Currency is set for intents that carry a
// resolved allowed code; Args carries the raw remainder (command arguments, amount text,
// or the rejected code).
type Classification struct {
	Intent   Intent
	Currency currency.Code
	Args     string
}

// Callback data prefixes.
const (
	CallbackCancel  = "cancel"
	CallbackTarget  = "target:"
	CallbackChart   = "chart:"
	CallbackOffices = "offices:"
)

// Buttons are the reply-keyboard labels matched verbatim.
type Buttons struct {
	Rates       string
	Offices     string
	Chart       string
	Subscribe   string
	Unsubscribe string
	MyAlerts    string
	Cancel      string
}

// DefaultButtons are the untranslated labels.
func DefaultButtons() Buttons {
	return Buttons{
		Rates:       "Exchange rates",
		Offices:     "Best exchange offices",
		Chart:       "Rate chart",
		Subscribe:   "Daily rates",
		Unsubscribe: "Stop daily rates",
		MyAlerts:    "My alerts",
		Cancel:      "Cancel",
	}
}

var commands = map[string]Intent{
	"start":        Start,
	"help":         Help,
	"cancel":       Cancel,
	"rates":        Rates,
	"chart":        Chart,
	"offices":      Offices,
	"alert":        SetAlert,
	"myalerts":     ListAlerts,
	"delete_alert": DeleteAlert,
	"subscribe":    Subscribe,
	"unsubscribe":  Unsubscribe,
}

// Classifier maps interactions to intents.
type Classifier struct {
	currencies currency.Set
	buttons    map[string]Intent
}

// NewClassifier builds a classifier for the allow-list and button labels.
func NewClassifier(currencies currency.Set, b Buttons) *Classifier {
	buttons := make(map[string]Intent, 7)
	for label, intent := range map[string]Intent{
		b.Rates:       Rates,
		b.Offices:     Offices,
		b.Chart:       Chart,
		b.Subscribe:   Subscribe,
		b.Unsubscribe: Unsubscribe,
		b.MyAlerts:    ListAlerts,
		b.Cancel:      Cancel,
	} {
		if label != "" {
			buttons[label] = intent
		}
	}
	return &Classifier{currencies: currencies, buttons: buttons}
}

// Classify returns the intent of in for a user whose dialogue is in state.
func (c *Classifier) Classify(in Interaction, state session.State) Classification {
	if in.IsCallback() {
		return c.classifyCallback(in.CallbackData)
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Classification{Intent: Unknown}
	}

	if strings.HasPrefix(text, "/") {
		return c.classifyCommand(text)
	}

	if intent, ok := c.buttons[text]; ok {
		return Classification{Intent: intent}
	}

	if code, ok := c.currencies.Parse(text); ok {
		if state == session.AwaitingTarget {
			return Classification{Intent: PickTarget, Currency: code}
		}
		return Classification{Intent: PickSource, Currency: code}
	}
	if isUpperCode(text) {
		return Classification{Intent: UnsupportedCurrency, Args: text}
	}

	if state == session.AwaitingAmount {
		return Classification{Intent: EnterAmount, Args: text}
	}

	if currency.LooksLikeNumber(text) {
		return Classification{Intent: QuickQuote, Args: text}
	}

	return Classification{Intent: Unknown, Args: text}
}

func (c *Classifier) classifyCallback(data string) Classification {
	if data == CallbackCancel {
		return Classification{Intent: Cancel}
	}
	for prefix, intent := range map[string]Intent{
		CallbackTarget:  PickTarget,
		CallbackChart:   Chart,
		CallbackOffices: Offices,
	} {
		raw, ok := strings.CutPrefix(data, prefix)
		if !ok {
			continue
		}
		code, allowed := c.currencies.Parse(raw)
		if !allowed {
			return Classification{Intent: UnsupportedCurrency, Args: raw}
		}
		return Classification{Intent: intent, Currency: code}
	}
	return Classification{Intent: Unknown}
}

func (c *Classifier) classifyCommand(text string) Classification {
	name, args, _ := strings.Cut(text[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	args = strings.TrimSpace(args)

	intent, ok := commands[name]
	if !ok {
		return Classification{Intent: Unknown}
	}

	out := Classification{Intent: intent, Args: args}
	if (intent == Chart || intent == Offices) && args != "" {
		if code, ok := c.currencies.Parse(args); ok {
			out.Currency = code
		}
	}
	return out
}

func isUpperCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}
