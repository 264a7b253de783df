// Package risk scores an address from a window of its recent activity.
package risk

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wnt/chainwatch/internal/models"
)

type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Assessment is the result of scoring an activity window
type Assessment struct {
	Score   int      `json:"score"`
	Level   Level    `json:"level"`
	Reasons []string `json:"reasons"`
}

var (
	one      = decimal.NewFromInt(1)
	half     = decimal.NewFromFloat(0.5)
	five     = decimal.NewFromInt(5)
	ten      = decimal.NewFromInt(10)
	outRatio = decimal.NewFromFloat(0.8)
)

// Score rates records as of now. It is deterministic: input order does not
// matter and nothing outside the arguments is read.
func Score(records []models.ActivityRecord, now time.Time) Assessment {
	if len(records) == 0 {
		return Assessment{Score: 0, Level: LevelLow, Reasons: []string{"no activity"}}
	}

	sorted := make([]models.ActivityRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].Hash < sorted[j].Hash
	})

	reasons := []string{fmt.Sprintf("%d transactions analyzed", len(sorted))}
	total := 0
	for _, signal := range []func([]models.ActivityRecord, time.Time) (int, string){
		velocity,
		spike,
		age,
		pattern,
		flow,
	} {
		if points, reason := signal(sorted, now); points > 0 {
			total += points
			reasons = append(reasons, reason)
		}
	}

	score := int(math.Round(math.Max(0, math.Min(100, float64(total)))))
	return Assessment{Score: score, Level: levelFor(score), Reasons: reasons}
}

func levelFor(score int) Level {
	switch {
	case score >= 70:
		return LevelCritical
	case score >= 50:
		return LevelHigh
	case score >= 25:
		return LevelMedium
	default:
		return LevelLow
	}
}

// meanGap is the average spacing of time-sorted records
func meanGap(sorted []models.ActivityRecord) time.Duration {
	if len(sorted) < 2 {
		return 0
	}
	span := sorted[len(sorted)-1].Timestamp.Sub(sorted[0].Timestamp)
	return span / time.Duration(len(sorted)-1)
}

func velocity(sorted []models.ActivityRecord, _ time.Time) (int, string) {
	n := len(sorted)
	gap := meanGap(sorted)
	switch {
	case n >= 10 && gap < 5*time.Minute:
		return 25, fmt.Sprintf("high transaction velocity: %d transactions, mean gap %s", n, gap.Round(time.Second))
	case n >= 5 && gap < 30*time.Minute:
		return 15, fmt.Sprintf("elevated transaction velocity: %d transactions, mean gap %s", n, gap.Round(time.Second))
	}
	return 0, ""
}

func spike(sorted []models.ActivityRecord, _ time.Time) (int, string) {
	sum := decimal.Zero
	largest := sorted[0].Amount
	for _, r := range sorted {
		sum = sum.Add(r.Amount)
		if r.Amount.GreaterThan(largest) {
			largest = r.Amount
		}
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(sorted))))

	switch {
	case largest.GreaterThan(mean.Mul(ten)) && largest.GreaterThan(one):
		return 20, fmt.Sprintf("amount spike: largest transfer %s is over 10x the mean %s", largest, mean.Round(8))
	case largest.GreaterThan(mean.Mul(five)) && largest.GreaterThan(half):
		return 10, fmt.Sprintf("amount spike: largest transfer %s is over 5x the mean %s", largest, mean.Round(8))
	}
	return 0, ""
}

func age(sorted []models.ActivityRecord, now time.Time) (int, string) {
	n := len(sorted)
	oldest := now.Sub(sorted[0].Timestamp)
	switch {
	case n >= 10 && oldest < 7*24*time.Hour:
		return 20, fmt.Sprintf("new address: %d transactions within the last 7 days", n)
	case n >= 15 && oldest < 30*24*time.Hour:
		return 10, fmt.Sprintf("young address: %d transactions within the last 30 days", n)
	}
	return 0, ""
}

func pattern(sorted []models.ActivityRecord, _ time.Time) (int, string) {
	n := len(sorted)
	if n < 5 {
		return 0, ""
	}
	round := 0
	for _, r := range sorted {
		if r.Amount.Equal(r.Amount.Round(2)) {
			round++
		}
	}
	if float64(round)/float64(n) > 0.7 {
		return 15, fmt.Sprintf("round-number pattern: %d of %d amounts", round, n)
	}
	return 0, ""
}

func flow(sorted []models.ActivityRecord, _ time.Time) (int, string) {
	totalIn, totalOut := decimal.Zero, decimal.Zero
	var in, out int
	for _, r := range sorted {
		if r.Direction == models.DirectionOut {
			out++
			totalOut = totalOut.Add(r.Amount)
		} else {
			in++
			totalIn = totalIn.Add(r.Amount)
		}
	}

	switch {
	case len(sorted) >= 3 && out >= 3 && totalOut.GreaterThan(totalIn.Mul(outRatio)):
		return 20, fmt.Sprintf("pass-through flow: %s out against %s in", totalOut, totalIn)
	case out > 5 && in == 0:
		return 15, fmt.Sprintf("outbound only: %d transfers out, none in", out)
	}
	return 0, ""
}
