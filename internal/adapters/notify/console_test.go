package notify_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/updown/internal/adapters/notify"
	"github.com/alejandrodnm/updown/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func settlementEvent(s domain.SettlementSummary) domain.Event {
	return domain.Event{Type: domain.EventSettlement, Settlement: &s}
}

func TestConsole_Settlement(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	c.Broadcast(settlementEvent(domain.SettlementSummary{
		Number:      12,
		Outcome:     domain.Up,
		StartPrice:  dec("100"),
		FinalPrice:  dec("100.25"),
		Wagers:      2,
		Wins:        1,
		Losses:      1,
		TotalStaked: dec("200"),
		TotalPayout: dec("190"),
		HouseProfit: dec("10"),
	}))

	out := buf.String()
	assert.Contains(t, out, "#12 UP 100.00→100.25")
	assert.Contains(t, out, "W:1 L:1 D:0")
	assert.Contains(t, out, "house +10.00")
	assert.NotContains(t, out, "needs review")
}

func TestConsole_SettlementNeedsReview(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	c.Broadcast(settlementEvent(domain.SettlementSummary{
		Number:       3,
		Aborted:      true,
		StartPrice:   dec("100"),
		FinalPrice:   dec("100"),
		HouseProfit:  decimal.Zero,
		NeedsReview:  true,
		ReviewReason: domain.ReviewPriceUnavailable,
	}))

	out := buf.String()
	assert.Contains(t, out, "#3 ABORTED")
	assert.Contains(t, out, "needs review: price_unavailable")
}

func TestConsole_RoundStateOnlyWhenVerbose(t *testing.T) {
	snap := domain.RoundSnapshot{Number: 4, Status: domain.RoundLocked, StartPrice: dec("100"), CurrentPrice: dec("99.5")}
	evt := domain.Event{Type: domain.EventRoundState, Round: &snap}

	var quiet bytes.Buffer
	notify.NewConsoleWriter(&quiet, false).Broadcast(evt)
	assert.Empty(t, quiet.String())

	var loud bytes.Buffer
	notify.NewConsoleWriter(&loud, true).Broadcast(evt)
	assert.Contains(t, loud.String(), "#4 LOCKED price 99.5000")
}

func TestConsole_PriceUpdatesIgnored(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, true)
	c.Broadcast(domain.Event{Type: domain.EventPriceUpdate, Price: &domain.PriceUpdate{Price: dec("1")}})
	assert.Empty(t, buf.String())
}

func TestConsole_PrintReport(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	final := dec("101.5")
	c.PrintReport(
		[]domain.DailyTarget{{
			Date:             time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
			StartBalance:     dec("10000"),
			TargetAmount:     dec("500"),
			AchievedAmount:   dec("125"),
			TotalRounds:      40,
			ProfitableRounds: 22,
		}},
		[]domain.Round{{
			Number:      7,
			StartTime:   time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
			StartPrice:  dec("100"),
			FinalPrice:  &final,
			Status:      domain.RoundCompleted,
			HouseProfit: dec("-12.5"),
		}},
	)

	out := buf.String()
	assert.Contains(t, out, "2026-03-02")
	assert.Contains(t, out, "25.0%")
	assert.Contains(t, out, "101.5000")
	assert.Contains(t, out, "-12.50")
	assert.Contains(t, out, "1 rounds, house -12.50")
}

func TestConsole_PrintReportEmpty(t *testing.T) {
	var buf bytes.Buffer
	notify.NewConsoleWriter(&buf, false).PrintReport(nil, nil)
	assert.Contains(t, buf.String(), "No rounds yet")
}
