package board

import (
	"fmt"
	"sort"
	"time"
)

// Analytics summarizes the completed tickets inside a time range for the
// dashboard view.
type Analytics struct {
	TotalTickets         int         `json:"totalTickets"`
	RushOrders           int         `json:"rushOrders"`
	AvgCompletionSeconds int64       `json:"avgCompletionSeconds"`
	AvgCompletionTime    string      `json:"avgCompletionTime"`
	BusiestHour          string      `json:"busiestHour"`
	TopItems             []ItemCount `json:"topItems"`
}

const topItemLimit = 5

// Summarize computes completion statistics over the locally known orders
// completed within [start, end].
func (e *Engine) Summarize(start, end time.Time) Analytics {
	completed := e.CompletedView(start, end)

	summary := Analytics{TotalTickets: len(completed)}
	var totalCompletion time.Duration
	var timedCount int
	hourly := make(map[int]int)
	itemTotals := make(map[string]int64)

	for _, view := range completed {
		order := view.Order
		if order.IsRush {
			summary.RushOrders++
		}
		if order.CompletedAt != nil {
			totalCompletion += order.CompletedAt.Sub(order.CreatedAt)
			timedCount++
		}
		hourly[order.CreatedAt.Hour()]++
		for _, item := range order.LineItems {
			name := item.Name
			if name == "" {
				name = "Unknown Item"
			}
			itemTotals[name] += item.Quantity
		}
	}

	if timedCount > 0 {
		avg := totalCompletion / time.Duration(timedCount)
		summary.AvgCompletionSeconds = int64(avg / time.Second)
	}
	summary.AvgCompletionTime = fmt.Sprintf("%dm %ds",
		summary.AvgCompletionSeconds/60, summary.AvgCompletionSeconds%60)

	summary.BusiestHour = "N/A"
	busiest := 0
	for hour, count := range hourly {
		if count > busiest || (count == busiest && busiest > 0 && summary.BusiestHour > hourLabel(hour)) {
			busiest = count
			summary.BusiestHour = hourLabel(hour)
		}
	}

	items := make([]ItemCount, 0, len(itemTotals))
	for name, quantity := range itemTotals {
		items = append(items, ItemCount{Name: name, Quantity: quantity})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Quantity != items[j].Quantity {
			return items[i].Quantity > items[j].Quantity
		}
		return items[i].Name < items[j].Name
	})
	if len(items) > topItemLimit {
		items = items[:topItemLimit]
	}
	summary.TopItems = items

	return summary
}

func hourLabel(hour int) string {
	return fmt.Sprintf("%02d:00 - %02d:00", hour, (hour+1)%24)
}
