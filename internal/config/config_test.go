package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"currency-exchange-bot/internal/currency"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.App.Name != "test" {
		t.Fatalf("app.name 期望 test，实际 %s", cfg.App.Name)
	}
	if cfg.Rates.TTL != 5*time.Minute || cfg.Offices.TTL != 30*time.Minute {
		t.Fatalf("缓存 TTL 默认值错误: %s %s", cfg.Rates.TTL, cfg.Offices.TTL)
	}
	if cfg.Scheduler.Broadcast.Interval != 24*time.Hour || cfg.Scheduler.Broadcast.Offset != 9*time.Hour {
		t.Fatalf("广播调度默认值错误: %+v", cfg.Scheduler.Broadcast)
	}
	if cfg.Scheduler.Alerts.Interval != time.Minute || cfg.Scheduler.Refresh.Interval != 10*time.Minute {
		t.Fatalf("调度默认值错误: %+v", cfg.Scheduler)
	}
	if cfg.Session.IdleTimeout != 0 {
		t.Fatalf("会话过期默认应关闭，实际 %s", cfg.Session.IdleTimeout)
	}

	allowed, err := cfg.AllowedSet()
	if err != nil {
		t.Fatalf("解析币种失败: %v", err)
	}
	if allowed.String() != "USD, EUR, JPY, TRY, RUB" {
		t.Fatalf("默认币种错误: %s", allowed)
	}
	if cfg.BaseCode() != currency.RUB || cfg.QuoteCode() != currency.USD {
		t.Fatalf("基准币种错误: %s %s", cfg.BaseCode(), cfg.QuoteCode())
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"currencies:",
		"  allowed: [USD, EUR, RUB]",
		"throttle:",
		"  interval: 2s",
		"chart:",
		"  days: 14",
	}, "\n"))

	t.Setenv("EXCHANGEBOT_CURRENCIES_ALLOWED", "USD,EUR,RUB,AED")
	t.Setenv("EXCHANGEBOT_TELEGRAM_TOKEN", "secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Throttle.Interval != 2*time.Second {
		t.Fatalf("throttle.interval 期望 2s，实际 %s", cfg.Throttle.Interval)
	}
	if cfg.ResolveDays(0) != 14 || cfg.ResolveDays(30) != 30 {
		t.Fatalf("ResolveDays 错误: %d", cfg.ResolveDays(0))
	}
	allowed, _ := cfg.AllowedSet()
	if !allowed.Contains("AED") {
		t.Fatalf("环境变量应覆盖币种列表，实际 %s", allowed)
	}
	if cfg.Telegram.Token != "secret" {
		t.Fatalf("环境变量应覆盖 token，实际 %q", cfg.Telegram.Token)
	}
	if err := cfg.ValidateBot(); err != nil {
		t.Fatalf("ValidateBot: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"base not allowed": "currencies:\n  base: GBP\n",
		"bad code":         "currencies:\n  allowed: [USDT]\n",
		"zero rates ttl":   "rates:\n  ttl: 0s\n",
		"negative idle":    "session:\n  idle_timeout: -1m\n",
		"zero alerts tick": "scheduler:\n  alerts:\n    interval: 0s\n",
		"chart too short":  "chart:\n  days: 1\n",
		"no heavy workers": "workers:\n  heavy: 0\n",
		"metrics addr":     "metrics:\n  enabled: true\n  addr: \"\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("期望校验失败")
			}
		})
	}
}

func TestValidateBotRequiresToken(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if err := cfg.ValidateBot(); err == nil {
		t.Fatal("缺少 token 时应报错")
	}
}
