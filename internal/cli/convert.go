package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"currency-exchange-bot/internal/app"
	"currency-exchange-bot/internal/currency"
)

var convertRates []string

var convertCmd = &cobra.Command{
	Use:     "convert AMOUNT FROM TO",
	Short:   "Convert an amount between two currencies",
	Example: "  exchangebot convert 100 USD EUR\n  exchangebot convert 100 USD EUR --rate USD=90 --rate EUR=100",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides, err := parseRateOverrides(convertRates)
		if err != nil {
			return err
		}

		opts := app.ConvertOptions{
			Amount:    args[0],
			From:      currency.Code(strings.ToUpper(args[1])),
			To:        currency.Code(strings.ToUpper(args[2])),
			Overrides: overrides,
		}
		_, err = getApp().Convert(cmd.Context(), opts)
		return err
	},
}

// parseRateOverrides reads CODE=RATE pairs into a table.
func parseRateOverrides(raw []string) (currency.Table, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	table := make(currency.Table, len(raw))
	for _, item := range raw {
		code, value, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --rate %q: expected CODE=RATE", item)
		}
		code = strings.ToUpper(strings.TrimSpace(code))
		if len(code) != 3 {
			return nil, fmt.Errorf("invalid --rate %q: bad currency code", item)
		}
		rate, err := currency.ParseDecimal(value)
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("invalid --rate %q: rate must be a positive number", item)
		}
		table[currency.Code(code)] = rate
	}
	return table, nil
}

func init() {
	convertCmd.Flags().StringArrayVar(&convertRates, "rate", nil, "Fixed rate in the base currency, CODE=RATE (repeatable); skips the rate source")
}
