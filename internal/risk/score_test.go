package risk

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wnt/chainwatch/internal/models"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func record(i int, ts time.Time, dir models.Direction, amount string) models.ActivityRecord {
	return models.ActivityRecord{
		Hash:      fmt.Sprintf("tx-%02d", i),
		Timestamp: ts,
		Direction: dir,
		Amount:    decimal.RequireFromString(amount),
		Asset:     "ETH",
	}
}

// burst is 12 inbound records starting 3 days ago, 4 minutes apart,
// 10 of them with round amounts
func burst() []models.ActivityRecord {
	start := now.Add(-72 * time.Hour)
	var records []models.ActivityRecord
	for i := 0; i < 12; i++ {
		amount := "1.5"
		if i%6 == 5 {
			amount = "1.23456"
		}
		records = append(records, record(i, start.Add(time.Duration(i)*4*time.Minute), models.DirectionIn, amount))
	}
	return records
}

func TestScore_Empty(t *testing.T) {
	got := Score(nil, now)
	assert.Equal(t, Assessment{Score: 0, Level: LevelLow, Reasons: []string{"no activity"}}, got)

	got = Score([]models.ActivityRecord{}, now)
	assert.Equal(t, 0, got.Score)
	assert.Equal(t, []string{"no activity"}, got.Reasons)
}

func TestScore_BurstOfRoundAmounts(t *testing.T) {
	got := Score(burst(), now)

	assert.Equal(t, 60, got.Score)
	assert.Equal(t, LevelHigh, got.Level)
	require.Len(t, got.Reasons, 4)
	assert.Equal(t, "12 transactions analyzed", got.Reasons[0])
	assert.Contains(t, got.Reasons[1], "high transaction velocity")
	assert.Contains(t, got.Reasons[2], "new address")
	assert.Contains(t, got.Reasons[3], "round-number pattern: 10 of 12")
}

func TestScore_BurstWithPassThroughIsCritical(t *testing.T) {
	records := burst()
	for i := 0; i < 6; i++ {
		records[i].Direction = models.DirectionOut
	}

	got := Score(records, now)
	assert.Equal(t, 80, got.Score)
	assert.Equal(t, LevelCritical, got.Level)
	assert.Contains(t, got.Reasons[len(got.Reasons)-1], "pass-through flow")
}

func TestScore_StableUnderPermutation(t *testing.T) {
	records := burst()
	records[2].Direction = models.DirectionOut
	records[7].Amount = decimal.RequireFromString("40")

	want := Score(records, now)

	reversed := make([]models.ActivityRecord, len(records))
	for i, r := range records {
		reversed[len(records)-1-i] = r
	}
	rotated := append(append([]models.ActivityRecord{}, records[5:]...), records[:5]...)

	assert.Equal(t, want, Score(reversed, now))
	assert.Equal(t, want, Score(rotated, now))
}

func TestScore_Spike(t *testing.T) {
	start := now.Add(-40 * 24 * time.Hour)
	var records []models.ActivityRecord
	for i := 0; i < 10; i++ {
		records = append(records, record(i, start.Add(time.Duration(i)*24*time.Hour), models.DirectionIn, "0.01"))
	}
	records = append(records, record(10, start.Add(10*24*time.Hour), models.DirectionIn, "5"))

	got := Score(records, now)
	// spike 20 + round amounts 15
	assert.Equal(t, 35, got.Score)
	assert.Equal(t, LevelMedium, got.Level)
	assert.Contains(t, got.Reasons[1], "over 10x the mean")
}

func TestScore_SmallerSpike(t *testing.T) {
	start := now.Add(-40 * 24 * time.Hour)
	records := []models.ActivityRecord{
		record(0, start, models.DirectionIn, "0.1"),
		record(1, start.Add(24*time.Hour), models.DirectionIn, "0.1"),
		record(2, start.Add(48*time.Hour), models.DirectionIn, "0.1"),
		record(3, start.Add(72*time.Hour), models.DirectionIn, "0.1"),
		record(4, start.Add(96*time.Hour), models.DirectionIn, "0.1"),
		record(5, start.Add(120*time.Hour), models.DirectionIn, "0.1"),
		record(6, start.Add(144*time.Hour), models.DirectionIn, "2"),
	}

	points, reason := spike(records, now)
	assert.Equal(t, 10, points)
	assert.Contains(t, reason, "over 5x the mean")
}

func TestScore_OutboundOnly(t *testing.T) {
	start := now.Add(-48 * time.Hour)
	var records []models.ActivityRecord
	for i := 0; i < 6; i++ {
		records = append(records, record(i, start.Add(time.Duration(i)*time.Hour), models.DirectionOut, "0"))
	}

	points, reason := flow(records, now)
	assert.Equal(t, 15, points)
	assert.Contains(t, reason, "outbound only")

	got := Score(records, now)
	// outbound only 15 + round amounts 15
	assert.Equal(t, 30, got.Score)
}

func TestVelocity(t *testing.T) {
	start := now.Add(-time.Hour)
	var records []models.ActivityRecord
	for i := 0; i < 5; i++ {
		records = append(records, record(i, start.Add(time.Duration(i)*10*time.Minute), models.DirectionIn, "1"))
	}
	points, _ := velocity(records, now)
	assert.Equal(t, 15, points)

	points, _ = velocity(records[:4], now)
	assert.Equal(t, 0, points)
}

func TestAge(t *testing.T) {
	start := now.Add(-20 * 24 * time.Hour)
	var records []models.ActivityRecord
	for i := 0; i < 15; i++ {
		records = append(records, record(i, start.Add(time.Duration(i)*time.Hour), models.DirectionIn, "1"))
	}
	points, _ := age(records, now)
	assert.Equal(t, 10, points)

	points, _ = age(records[:14], now)
	assert.Equal(t, 0, points)
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		score int
		want  Level
	}{
		{0, LevelLow},
		{24, LevelLow},
		{25, LevelMedium},
		{49, LevelMedium},
		{50, LevelHigh},
		{69, LevelHigh},
		{70, LevelCritical},
		{100, LevelCritical},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.score), func(t *testing.T) {
			assert.Equal(t, tt.want, levelFor(tt.score))
		})
	}
}
