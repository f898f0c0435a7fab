package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"currency-exchange-bot/internal/app"
)

var ratesDate string

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Print the current (or archived) rate table",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.RatesOptions{}
		if ratesDate != "" {
			day, err := time.Parse(time.DateOnly, ratesDate)
			if err != nil {
				return fmt.Errorf("invalid --date value: %w", err)
			}
			opts.Date = &day
		}
		return getApp().Rates(cmd.Context(), opts)
	},
}

func init() {
	ratesCmd.Flags().StringVar(&ratesDate, "date", "", "Archive date (YYYY-MM-DD); defaults to the latest table")
}
