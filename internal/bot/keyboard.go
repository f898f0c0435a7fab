package bot

import (
	"currency-exchange-bot/internal/alerting"
	"currency-exchange-bot/internal/currency"
	"currency-exchange-bot/internal/dispatch"
	"currency-exchange-bot/internal/report"
)

const buttonsPerRow = 3

// translatedButtons returns the reply-keyboard labels in the renderer's language.
func translatedButtons(r *report.Renderer) dispatch.Buttons {
	def := dispatch.DefaultButtons()
	return dispatch.Buttons{
		Rates:       r.Label(def.Rates),
		Offices:     r.Label(def.Offices),
		Chart:       r.Label(def.Chart),
		Subscribe:   r.Label(def.Subscribe),
		Unsubscribe: r.Label(def.Unsubscribe),
		MyAlerts:    r.Label(def.MyAlerts),
		Cancel:      r.Label(def.Cancel),
	}
}

// mainMenu is the persistent reply keyboard: currencies first, then the report buttons.
func mainMenu(allowed currency.Set, b dispatch.Buttons) *alerting.Keyboard {
	var rows [][]string
	var row []string
	for _, code := range allowed.Codes() {
		row = append(row, string(code))
		if len(row) == buttonsPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows,
		[]string{b.Rates, b.Offices},
		[]string{b.Chart, b.MyAlerts},
		[]string{b.Subscribe, b.Unsubscribe},
	)
	return &alerting.Keyboard{Reply: rows}
}

// currencyPicker lists codes as inline buttons carrying prefix+code; except is left out.
func currencyPicker(codes []currency.Code, prefix string, except currency.Code, cancel string) *alerting.Keyboard {
	var rows [][]alerting.Button
	var row []alerting.Button
	for _, code := range codes {
		if code == except {
			continue
		}
		row = append(row, alerting.Button{Text: string(code), Data: prefix + string(code)})
		if len(row) == buttonsPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	if cancel != "" {
		rows = append(rows, []alerting.Button{{Text: cancel, Data: dispatch.CallbackCancel}})
	}
	return &alerting.Keyboard{Inline: rows}
}

func cancelOnly(label string) *alerting.Keyboard {
	return &alerting.Keyboard{Inline: [][]alerting.Button{{{Text: label, Data: dispatch.CallbackCancel}}}}
}
