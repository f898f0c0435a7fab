package cli

import (
	"testing"

	"github.com/shopspring/decimal"

	"currency-exchange-bot/internal/currency"
)

func TestParseRateOverrides(t *testing.T) {
	table, err := parseRateOverrides([]string{"usd=90.5", "EUR = 98,1"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if rate, _ := table.Rate(currency.USD); !rate.Equal(decimal.RequireFromString("90.5")) {
		t.Fatalf("USD 期望 90.5, 实际 %s", rate)
	}
	if rate, _ := table.Rate(currency.EUR); !rate.Equal(decimal.RequireFromString("98.1")) {
		t.Fatalf("EUR 期望 98.1, 实际 %s", rate)
	}

	if table, err := parseRateOverrides(nil); err != nil || table != nil {
		t.Fatalf("空输入应返回 nil, 实际 %v %v", table, err)
	}

	for _, bad := range []string{"USD", "US=1", "USD=abc", "USD=0", "USD=-1"} {
		if _, err := parseRateOverrides([]string{bad}); err == nil {
			t.Fatalf("%q 应报错", bad)
		}
	}
}
