package report

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"currency-exchange-bot/internal/fetcher"
)

// Branch is one distinct location of an office chain.
type Branch struct {
	Address string
	Link    string
}

// OfficeGroup aggregates the records sharing a trimmed office name.
type OfficeGroup struct {
	Name        string
	Branches    []Branch
	Buy         decimal.Decimal
	Sell        decimal.Decimal
	RefreshedAt time.Time
}

// GroupOffices groups records by trimmed name in first-seen order. Branches are deduplicated
// by (address, link); the group keeps the highest buy, the lowest sell and the latest refresh.
func GroupOffices(records []fetcher.Office) []OfficeGroup {
	var groups []OfficeGroup
	index := make(map[string]int)
	seen := make(map[string]map[Branch]struct{})

	for _, rec := range records {
		name := strings.TrimSpace(rec.Name)
		if name == "" {
			continue
		}
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			seen[name] = make(map[Branch]struct{})
			groups = append(groups, OfficeGroup{Name: name})
		}
		g := &groups[i]

		branch := Branch{Address: strings.TrimSpace(rec.Address), Link: strings.TrimSpace(rec.Link)}
		if branch != (Branch{}) {
			if _, dup := seen[name][branch]; !dup {
				seen[name][branch] = struct{}{}
				g.Branches = append(g.Branches, branch)
			}
		}

		if rec.Buy.IsPositive() && rec.Buy.GreaterThan(g.Buy) {
			g.Buy = rec.Buy
		}
		if rec.Sell.IsPositive() && (g.Sell.IsZero() || rec.Sell.LessThan(g.Sell)) {
			g.Sell = rec.Sell
		}
		if rec.RefreshedAt.After(g.RefreshedAt) {
			g.RefreshedAt = rec.RefreshedAt
		}
	}
	return groups
}
