package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"currency-exchange-bot/internal/currency"
)

func TestOfficesMissingConfig(t *testing.T) {
	o := NewOffices(OfficesOptions{}, noopLogger())
	if _, err := o.Offices(context.Background(), currency.USD, "izhevsk"); err == nil {
		t.Fatal("未配置 URL 时应报错")
	}

	o = NewOffices(OfficesOptions{BaseURL: "http://localhost"}, noopLogger())
	if _, err := o.Offices(context.Background(), currency.USD, ""); err == nil {
		t.Fatal("缺少地区应报错")
	}
}

func TestOfficesSkipsMalformedItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("currency") != "USD" || r.URL.Query().Get("region") != "izhevsk" {
			t.Fatalf("查询参数不正确: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"name": " Bank A ", "address": "Lenina 1", "link": "https://a", "buy": 91.5, "sell": "92,10", "updated_at": "2024-03-01T10:00:00Z"},
				{"name": "", "address": "nowhere", "buy": 1, "sell": 2},
				{"name": "Bank B", "address": "Pushkina 2", "buy": "n/a", "sell": nil},
				{"name": "Bank C", "address": "Gagarina 3", "buy": 90, "sell": nil, "updated_at": "yesterday"},
			},
		})
	}))
	defer srv.Close()

	o := NewOffices(OfficesOptions{BaseURL: srv.URL, Timeout: time.Second, UserAgent: "test"}, noopLogger())
	offices, err := o.Offices(context.Background(), currency.USD, "izhevsk")
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if len(offices) != 2 {
		t.Fatalf("期望 2 条有效记录, 实际 %d", len(offices))
	}

	a := offices[0]
	if a.Name != "Bank A" || !a.Sell.Equal(decimal.RequireFromString("92.10")) || !a.Buy.Equal(decimal.RequireFromString("91.5")) {
		t.Fatalf("Bank A 解析错误: %+v", a)
	}
	if a.RefreshedAt.IsZero() {
		t.Fatal("updated_at 应被解析")
	}
	if !offices[1].RefreshedAt.IsZero() || !offices[1].Sell.IsZero() {
		t.Fatalf("Bank C 缺失字段应保持零值: %+v", offices[1])
	}
}

func TestOfficesLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"name": "A", "buy": 1, "sell": 2},
				{"name": "B", "buy": 1, "sell": 2},
				{"name": "C", "buy": 1, "sell": 2},
			},
		})
	}))
	defer srv.Close()

	o := NewOffices(OfficesOptions{BaseURL: srv.URL, Limit: 2}, noopLogger())
	offices, err := o.Offices(context.Background(), currency.EUR, "izhevsk")
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if len(offices) != 2 {
		t.Fatalf("Limit 应生效, 实际 %d", len(offices))
	}
}

func TestOfficesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "captcha required"})
	}))
	defer srv.Close()

	o := NewOffices(OfficesOptions{BaseURL: srv.URL}, noopLogger())
	if _, err := o.Offices(context.Background(), currency.USD, "izhevsk"); err == nil {
		t.Fatal("HTTP 403 应返回错误")
	}
}
