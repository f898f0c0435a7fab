package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"currency-exchange-bot/internal/config"
	"currency-exchange-bot/internal/currency"
	"currency-exchange-bot/internal/session"
	"currency-exchange-bot/internal/storage"
)

const dailyPayload = `{
  "Date": "2024-03-01T11:30:00+03:00",
  "Valute": {
    "USD": {"CharCode": "USD", "Nominal": 1, "Value": 90.5},
    "EUR": {"CharCode": "EUR", "Nominal": 1, "Value": 98.25}
  }
}`

func newTestApp(t *testing.T, baseURL string) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{
		App: config.AppConfig{Name: "exchangebot"},
		Currencies: config.CurrenciesConfig{
			Allowed: []string{"RUB", "USD", "EUR"},
			Base:    "RUB",
			Quote:   "USD",
		},
		Rates: config.RatesConfig{
			BaseURL:        baseURL,
			TTL:            time.Minute,
			RequestTimeout: time.Second,
		},
		Chart: config.ChartConfig{Days: 3, Width: 640, Height: 320, MaxPoints: 400},
		I18n:  config.I18nConfig{Lang: "en"},
	}
	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	return a, &out
}

func rateServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		_, _ = w.Write([]byte(dailyPayload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConvertWithOverrides(t *testing.T) {
	a, out := newTestApp(t, "http://127.0.0.1:1")

	conv, err := a.Convert(context.Background(), ConvertOptions{
		Amount: "100",
		From:   currency.USD,
		To:     currency.EUR,
		Overrides: currency.Table{
			currency.USD: decimal.NewFromInt(90),
			currency.EUR: decimal.NewFromInt(100),
		},
	})
	if err != nil {
		t.Fatalf("固定汇率换算不应失败: %v", err)
	}
	if conv.Display != "90.00" {
		t.Fatalf("期望 90.00, 实际 %s", conv.Display)
	}
	if got := out.String(); got != "100.00 USD = 90.00 EUR\n" {
		t.Fatalf("输出不正确: %q", got)
	}
}

func TestConvertFromSource(t *testing.T) {
	srv := rateServer(t, nil)
	a, _ := newTestApp(t, srv.URL)

	conv, err := a.Convert(context.Background(), ConvertOptions{Amount: "2", From: currency.USD, To: currency.RUB})
	if err != nil {
		t.Fatalf("换算失败: %v", err)
	}
	if conv.Display != "181.00" {
		t.Fatalf("期望 181.00, 实际 %s", conv.Display)
	}
}

func TestConvertRejectsBadInput(t *testing.T) {
	a, _ := newTestApp(t, "http://127.0.0.1:1")
	overrides := currency.Table{currency.USD: decimal.NewFromInt(90)}

	_, err := a.Convert(context.Background(), ConvertOptions{Amount: "1", From: "GBP", To: currency.USD, Overrides: overrides})
	if !errors.Is(err, session.ErrUnsupportedCurrency) {
		t.Fatalf("未知货币应报 ErrUnsupportedCurrency, 实际 %v", err)
	}

	_, err = a.Convert(context.Background(), ConvertOptions{Amount: "abc", From: currency.USD, To: currency.RUB, Overrides: overrides})
	if err == nil {
		t.Fatal("非法金额应报错")
	}

	_, err = a.Convert(context.Background(), ConvertOptions{Amount: "1", From: currency.USD, To: currency.USD, Overrides: overrides})
	if !errors.Is(err, session.ErrSameCurrency) {
		t.Fatalf("同币种应报 ErrSameCurrency, 实际 %v", err)
	}
}

func TestRatesPrintsAllowList(t *testing.T) {
	srv := rateServer(t, nil)
	a, out := newTestApp(t, srv.URL)

	if err := a.Rates(context.Background(), RatesOptions{}); err != nil {
		t.Fatalf("Rates 不应报错: %v", err)
	}
	got := out.String()
	for _, want := range []string{"RUB per unit", "USD", "90.5000", "EUR", "98.2500"} {
		if !strings.Contains(got, want) {
			t.Fatalf("输出缺少 %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "RUB  ") {
		t.Fatalf("基准货币不应出现在表格中:\n%s", got)
	}
}

func TestExportWritesCSVWithoutDatabase(t *testing.T) {
	srv := rateServer(t, nil)
	a, _ := newTestApp(t, srv.URL)
	path := filepath.Join(t.TempDir(), "out", "usd.csv")

	if err := a.Export(context.Background(), ExportOptions{Currency: currency.USD, CSVPath: path}); err != nil {
		t.Fatalf("导出失败: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取 CSV 失败: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("期望表头加 3 行, 实际 %d:\n%s", len(lines), data)
	}
	if lines[0] != "day,rate" || !strings.HasSuffix(lines[1], ",90.5") {
		t.Fatalf("CSV 内容不正确:\n%s", data)
	}
}

func TestExportValidation(t *testing.T) {
	a, _ := newTestApp(t, "http://127.0.0.1:1")

	if err := a.Export(context.Background(), ExportOptions{Currency: currency.USD}); err == nil {
		t.Fatal("缺少输出路径应报错")
	}
	if err := a.Export(context.Background(), ExportOptions{Currency: "GBP", CSVPath: "x.csv"}); err == nil {
		t.Fatal("不在白名单内的货币应报错")
	}
}

func TestBackfillDryRunSkipsDatabase(t *testing.T) {
	var hits int32
	srv := rateServer(t, &hits)
	a, _ := newTestApp(t, srv.URL)

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := a.Backfill(context.Background(), BackfillOptions{From: from, To: from.AddDate(0, 0, 2), DryRun: true}); err != nil {
		t.Fatalf("dry-run 回填不应报错: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("应请求 3 天, 实际 %d", got)
	}
}

func TestBackfillRequiresDatabase(t *testing.T) {
	a, _ := newTestApp(t, "http://127.0.0.1:1")
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	err := a.Backfill(context.Background(), BackfillOptions{From: from, To: from})
	if err == nil || !strings.Contains(err.Error(), "database.dsn") {
		t.Fatalf("未配置数据库时应报错, 实际 %v", err)
	}

	err = a.Backfill(context.Background(), BackfillOptions{From: from, To: from.AddDate(0, 0, -1), DryRun: true})
	if err == nil {
		t.Fatal("空区间应报错")
	}
}

func TestArchiveServiceWithoutStore(t *testing.T) {
	a, _ := newTestApp(t, "http://127.0.0.1:1")
	_, err := a.archiveService(nil).Backfill(context.Background(), time.Now(), time.Now(), false)
	if !errors.Is(err, storage.ErrNotConfigured) {
		t.Fatalf("期望 ErrNotConfigured, 实际 %v", err)
	}
}
