// Package report renders user-facing MarkdownV2 texts.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"golang.org/x/text/message"

	"currency-exchange-bot/internal/alerts"
	"currency-exchange-bot/internal/currency"
	"currency-exchange-bot/internal/fetcher"
	"currency-exchange-bot/internal/i18n"
	"currency-exchange-bot/internal/session"
)

// Renderer formats reports in the catalogue's language.
type Renderer struct {
	cat       *i18n.Catalog
	printer   *message.Printer
	maxGroups int
	now       func() time.Time
}

// New returns a renderer; cat may be nil.
func New(cat *i18n.Catalog) *Renderer {
	return &Renderer{
		cat:       cat,
		printer:   message.NewPrinter(cat.Tag()),
		maxGroups: 10,
		now:       time.Now,
	}
}

// Text translates msgid and escapes the result.
func (r *Renderer) Text(msgid string, vars ...interface{}) string {
	return Escape(r.cat.T(msgid, vars...))
}

// Label translates a button label without escaping.
func (r *Renderer) Label(msgid string) string {
	return r.cat.T(msgid)
}

func (r *Renderer) header(msgid string, vars ...interface{}) string {
	return Bold(r.cat.T(msgid, vars...))
}

// Number formats a rate with locale-aware separators.
func (r *Renderer) Number(d decimal.Decimal) string {
	places := 2
	if d.Abs().LessThan(decimal.NewFromInt(1)) {
		places = 4
	}
	return r.printer.Sprintf(fmt.Sprintf("%%.%df", places), d.InexactFloat64())
}

// Welcome is the /start greeting.
func (r *Renderer) Welcome(allowed currency.Set) string {
	return r.Text("Hi! I convert between %s. Pick a currency to start, or send a number to see it in every currency.", allowed.String())
}

// Help lists the commands.
func (r *Renderer) Help() string {
	lines := []string{
		r.header("Commands"),
		r.Text("/rates - current exchange rates"),
		r.Text("/chart [CUR] - rate history chart"),
		r.Text("/offices [CUR] - best exchange offices"),
		r.Text("/alert CUR [> or <] PRICE - notify me when the rate crosses PRICE"),
		r.Text("/myalerts - list my alerts"),
		r.Text("/delete_alert N - delete alert number N"),
		r.Text("/subscribe, /unsubscribe - daily rates"),
		r.Text("/cancel - stop the current conversion"),
	}
	return strings.Join(lines, "\n")
}

// AmountPrompt asks for the amount after a source currency was picked.
func (r *Renderer) AmountPrompt(code currency.Code) string {
	return r.Text("Enter the amount in %s.", code)
}

// TargetPrompt asks for the target currency after an amount was accepted.
func (r *Renderer) TargetPrompt(amount decimal.Decimal, code currency.Code) string {
	return r.Text("Convert %s %s into which currency?", amount.StringFixed(2), code)
}

// Conversion renders a finished conversion.
func (r *Renderer) Conversion(c session.Conversion) string {
	return fmt.Sprintf("%s %s \\= *%s %s*",
		Escape(c.Amount.StringFixed(2)), c.Source, Escape(c.Display), c.Target)
}

// QuickQuote renders amount of quote converted into every other allowed currency.
func (r *Renderer) QuickQuote(amount decimal.Decimal, quote currency.Code, table currency.Table, allowed currency.Set) string {
	var b strings.Builder
	b.WriteString(r.header("%s %s is", amount.String(), quote))
	from, ok := table.Rate(quote)
	for _, code := range allowed.Codes() {
		if code == quote {
			continue
		}
		b.WriteString("\n")
		to, known := table.Rate(code)
		if !ok || !known || to.IsZero() {
			b.WriteString(fmt.Sprintf("%s: %s", code, r.Text("n/a")))
			continue
		}
		b.WriteString(fmt.Sprintf("%s: %s", code, Escape(currency.FormatAmount(currency.Convert(amount, from, to)))))
	}
	return b.String()
}

// Rates renders the rate table for the allowed codes, each expressed in base.
func (r *Renderer) Rates(table currency.Table, allowed currency.Set, base currency.Code, asOf time.Time) string {
	var b strings.Builder
	b.WriteString(r.header("Exchange rates, %s per unit", base))
	for _, code := range allowed.Codes() {
		if code == base {
			continue
		}
		b.WriteString("\n")
		rate, ok := table.Rate(code)
		if !ok {
			b.WriteString(fmt.Sprintf("%s: %s", code, r.Text("n/a")))
			continue
		}
		b.WriteString(fmt.Sprintf("%s: %s", code, Escape(r.Number(rate))))
	}
	if !asOf.IsZero() {
		b.WriteString("\n_" + r.Text("as of %s", asOf.Format("2006-01-02 15:04")) + "_")
	}
	return b.String()
}

// DailySummary is the broadcast body.
func (r *Renderer) DailySummary(table currency.Table, allowed currency.Set, base currency.Code, day time.Time) string {
	return r.header("Daily rates for %s", day.Format("2006-01-02")) + "\n" +
		r.Rates(table, allowed, base, time.Time{})
}

// AlertCreated confirms a new alert.
func (r *Renderer) AlertCreated(index int, a alerts.Alert) string {
	return r.Text("Alert #%d set: %s %s %s.", index, a.Currency, a.Direction.Symbol(), a.Target.String())
}

// AlertList renders the user's alerts with 1-based indices.
func (r *Renderer) AlertList(list []alerts.Alert) string {
	if len(list) == 0 {
		return r.Text("You have no alerts.")
	}
	var b strings.Builder
	b.WriteString(r.header("Your alerts"))
	for i, a := range list {
		b.WriteString(fmt.Sprintf("\n%d\\. %s %s %s", i+1, a.Currency, Escape(a.Direction.Symbol()), Escape(a.Target.String())))
	}
	return b.String()
}

// AlertFired notifies the owner of a triggered alert.
func (r *Renderer) AlertFired(f alerts.Fired, base currency.Code) string {
	msgid := "%s is now %s %s, above your target %s."
	if f.Alert.Direction == alerts.Down {
		msgid = "%s is now %s %s, below your target %s."
	}
	return "🔔 " + r.Text(msgid, f.Alert.Currency, r.Number(f.Rate), base, f.Alert.Target.String())
}

// Offices renders a grouped listing for code.
func (r *Renderer) Offices(code currency.Code, records []fetcher.Office, fetchedAt time.Time) string {
	groups := GroupOffices(records)
	if len(groups) == 0 {
		return r.Text("No exchange offices found for %s.", code)
	}
	if len(groups) > r.maxGroups {
		groups = groups[:r.maxGroups]
	}

	var b strings.Builder
	b.WriteString(r.header("Best %s exchange offices", code))
	for i, g := range groups {
		b.WriteString(fmt.Sprintf("\n\n%d\\. %s", i+1, Bold(g.Name)))
		b.WriteString("\n" + r.Text("buy %s, sell %s", r.quote(g.Buy), r.quote(g.Sell)))
		for _, br := range g.Branches {
			label := br.Address
			if label == "" {
				label = g.Name
			}
			b.WriteString("\n• " + Link(label, br.Link))
		}
		if !g.RefreshedAt.IsZero() {
			b.WriteString("\n_" + r.Text("updated %s", humanize.RelTime(g.RefreshedAt, r.now(), "ago", "from now")) + "_")
		}
	}
	if !fetchedAt.IsZero() {
		b.WriteString("\n\n_" + r.Text("fetched %s", humanize.RelTime(fetchedAt, r.now(), "ago", "from now")) + "_")
	}
	return b.String()
}

func (r *Renderer) quote(d decimal.Decimal) string {
	if !d.IsPositive() {
		return "-"
	}
	return r.Number(d)
}

// ChartCaption captions a history chart.
func (r *Renderer) ChartCaption(code currency.Code, base currency.Code, days int) string {
	return r.Text("%s in %s, last %d days", code, base, days)
}
