package notify

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/updown/internal/domain"
)

// Console implementa ports.Broadcaster escribiendo un resumen por ronda en la terminal.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

// NewConsole crea un notificador que escribe a stdout.
// Con verbose también imprime las transiciones de ronda.
func NewConsole(verbose bool) *Console {
	return &Console{out: os.Stdout, verbose: verbose}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, verbose bool) *Console {
	return &Console{out: w, verbose: verbose}
}

// Broadcast imprime settlements y, en modo verbose, cambios de estado de ronda.
func (c *Console) Broadcast(evt domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch evt.Type {
	case domain.EventSettlement:
		if evt.Settlement != nil {
			c.printSettlement(*evt.Settlement)
		}
	case domain.EventRoundState:
		if c.verbose && evt.Round != nil {
			c.printRoundState(*evt.Round)
		}
	}
}

// printSettlement imprime una línea compacta por ronda liquidada.
func (c *Console) printSettlement(s domain.SettlementSummary) {
	now := time.Now().Format("15:04:05")

	outcome := "DRAW"
	switch {
	case s.Aborted:
		outcome = "ABORTED"
	case s.Outcome != "":
		outcome = string(s.Outcome)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] #%d %s %s→%s | %d wagers W:%d L:%d D:%d | staked $%s | paid $%s | house %s",
		now, s.Number, outcome,
		s.StartPrice.StringFixed(2), s.FinalPrice.StringFixed(2),
		s.Wagers, s.Wins, s.Losses, s.Draws,
		s.TotalStaked.StringFixed(2), s.TotalPayout.StringFixed(2), signed(s.HouseProfit))

	if s.NeedsReview {
		fmt.Fprintf(&sb, "\n  !! needs review: %s", s.ReviewReason)
	}
	fmt.Fprintln(c.out, sb.String())
}

func (c *Console) printRoundState(r domain.RoundSnapshot) {
	fmt.Fprintf(c.out, "[%s] #%d %s price %s (start %s)\n",
		time.Now().Format("15:04:05"), r.Number, r.Status,
		r.CurrentPrice.StringFixed(4), r.StartPrice.StringFixed(4))
}

// PrintReport imprime los objetivos diarios y las últimas rondas.
func (c *Console) PrintReport(dailies []domain.DailyTarget, rounds []domain.Round) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(dailies) == 0 && len(rounds) == 0 {
		fmt.Fprintln(c.out, "\n  No rounds yet. Run the engine first.")
		return
	}

	fmt.Fprintf(c.out, "\n=== DAILY TARGETS ===\n")
	table := tablewriter.NewWriter(c.out)
	table.Header("Date", "Start", "Target", "Achieved", "Progress", "Rounds", "Profitable", "Hit")
	for _, d := range dailies {
		hit := ""
		if d.IsTargetAchieved {
			hit = "yes"
		}
		table.Append(
			d.Date.Format("2006-01-02"),
			d.StartBalance.StringFixed(2),
			d.TargetAmount.StringFixed(2),
			signed(d.AchievedAmount),
			progress(d.AchievedAmount, d.TargetAmount),
			fmt.Sprintf("%d", d.TotalRounds),
			fmt.Sprintf("%d", d.ProfitableRounds),
			hit,
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "\n=== LATEST ROUNDS ===\n")
	table = tablewriter.NewWriter(c.out)
	table.Header("#", "Start", "Start price", "Final price", "Status", "House", "Review")
	var total decimal.Decimal
	for _, r := range rounds {
		final := "-"
		if r.FinalPrice != nil {
			final = r.FinalPrice.StringFixed(4)
		}
		status := string(r.Status)
		if r.Aborted {
			status += " (aborted)"
		}
		table.Append(
			fmt.Sprintf("%d", r.Number),
			r.StartTime.Format("01-02 15:04:05"),
			r.StartPrice.StringFixed(4),
			final,
			status,
			signed(r.HouseProfit),
			r.ReviewReason,
		)
		total = total.Add(r.HouseProfit)
	}
	table.Render()

	fmt.Fprintf(c.out, "  %d rounds, house %s\n\n", len(rounds), signed(total))
}

func signed(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.StringFixed(2)
	}
	return d.StringFixed(2)
}

func progress(achieved, target decimal.Decimal) string {
	if !target.IsPositive() {
		return "-"
	}
	return achieved.Div(target).Mul(decimal.NewFromInt(100)).StringFixed(1) + "%"
}
