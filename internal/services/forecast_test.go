package services

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/zieduz/jira-dashboard/internal/config"
)

type fakeForecastStore struct {
	rows []DailyVelocity
}

func (f *fakeForecastStore) DailyResolvedVelocity(ctx context.Context, projectID, userID int64, from, to time.Time) ([]DailyVelocity, error) {
	return f.rows, nil
}

func newForecastService(rows []DailyVelocity, now time.Time) *ForecastService {
	cfg := config.Metrics{ForecastHistoryDays: 90}
	svc := NewForecastService(cfg, &fakeForecastStore{rows: rows}, zerolog.Nop())
	svc.now = func() time.Time { return now }
	return svc
}

// linearRows builds n contiguous days ending at now with velocity a + b*index.
func linearRows(now time.Time, n int, a, b float64) []DailyVelocity {
	rows := make([]DailyVelocity, 0, n)
	for i := 0; i < n; i++ {
		day := dateOf(now).AddDate(0, 0, -(n - 1 - i))
		rows = append(rows, DailyVelocity{Day: day, Points: a + b*float64(i), Resolved: 1})
	}
	return rows
}

func TestForecastDegenerateShape(t *testing.T) {
	now := date(2026, 6, 15)
	svc := newForecastService(nil, now)
	fc, err := svc.Forecast(context.Background(), 30, 0, 0)
	if err != nil { t.Fatal(err) }
	if fc.Trend != "unknown" {
		t.Fatalf("trend = %q, want unknown", fc.Trend)
	}
	if fc.ModelAccuracy != 0 {
		t.Fatalf("accuracy = %v, want 0", fc.ModelAccuracy)
	}
	if len(fc.PredictedVelocity) != 30 || len(fc.ConfidenceInterval) != 30 {
		t.Fatalf("got %d/%d points, want 30/30", len(fc.PredictedVelocity), len(fc.ConfidenceInterval))
	}
	for _, p := range fc.PredictedVelocity {
		if p.Velocity != 0 { t.Fatalf("degenerate prediction %+v not zero", p) }
	}
	if fc.PredictedVelocity[0].Date != "2026-06-16" {
		t.Fatalf("first day = %s", fc.PredictedVelocity[0].Date)
	}
	if fc.NextSprintPrediction.Days != 14 || fc.NextSprintPrediction.Velocity != 0 {
		t.Fatalf("sprint prediction = %+v", fc.NextSprintPrediction)
	}
}

func TestForecastTooLittleHistory(t *testing.T) {
	now := date(2026, 6, 15)
	svc := newForecastService(linearRows(now, 5, 3, 0), now)
	fc, err := svc.Forecast(context.Background(), 10, 0, 0)
	if err != nil { t.Fatal(err) }
	if fc.Trend != "unknown" {
		t.Fatalf("5-day history must be degenerate, trend = %q", fc.Trend)
	}
	if fc.NextSprintPrediction.Days != 10 {
		t.Fatalf("sprint days = %d, want daysAhead when below 14", fc.NextSprintPrediction.Days)
	}
}

func TestForecastNoiselessLinearSeries(t *testing.T) {
	now := date(2026, 6, 15)
	svc := newForecastService(linearRows(now, 14, 10, 2), now)
	fc, err := svc.Forecast(context.Background(), 7, 0, 0)
	if err != nil { t.Fatal(err) }

	if math.Abs(fc.ModelAccuracy-1) > 1e-6 {
		t.Fatalf("noiseless fit accuracy = %v, want 1", fc.ModelAccuracy)
	}
	if fc.Trend != "increasing" {
		t.Fatalf("trend = %q, want increasing", fc.Trend)
	}
	// first projected day continues the line: index 14 -> 10 + 2*14 = 38
	if math.Abs(fc.PredictedVelocity[0].Velocity-38) > 1e-6 {
		t.Fatalf("first prediction = %v, want 38", fc.PredictedVelocity[0].Velocity)
	}
	// zero residuals collapse the interval onto the prediction
	ci := fc.ConfidenceInterval[0]
	if math.Abs(ci.Upper-ci.Lower) > 1e-6 {
		t.Fatalf("interval width = %v, want 0", ci.Upper-ci.Lower)
	}
	if fc.NextSprintPrediction.Days != 7 {
		t.Fatalf("sprint days = %d, want 7", fc.NextSprintPrediction.Days)
	}
}

func TestForecastClampsNegativePredictions(t *testing.T) {
	now := date(2026, 6, 15)
	svc := newForecastService(linearRows(now, 14, 26, -2), now)
	fc, err := svc.Forecast(context.Background(), 30, 0, 0)
	if err != nil { t.Fatal(err) }
	if fc.Trend != "decreasing" {
		t.Fatalf("trend = %q, want decreasing", fc.Trend)
	}
	for _, p := range fc.PredictedVelocity {
		if p.Velocity < 0 { t.Fatalf("prediction %+v below zero", p) }
	}
	for _, ci := range fc.ConfidenceInterval {
		if ci.Lower < 0 { t.Fatalf("interval lower bound %+v below zero", ci) }
	}
}

func TestForecastStableTrend(t *testing.T) {
	now := date(2026, 6, 15)
	svc := newForecastService(linearRows(now, 14, 5, 0), now)
	fc, err := svc.Forecast(context.Background(), 14, 0, 0)
	if err != nil { t.Fatal(err) }
	if fc.Trend != "stable" {
		t.Fatalf("trend = %q, want stable", fc.Trend)
	}
	if math.Abs(fc.NextSprintPrediction.Velocity-5*14) > 1e-6 {
		t.Fatalf("sprint velocity = %v, want 70", fc.NextSprintPrediction.Velocity)
	}
}

func TestBuildVelocitySeriesFillsGaps(t *testing.T) {
	now := date(2026, 6, 10)
	rows := []DailyVelocity{
		{Day: date(2026, 6, 1), Points: 3, Resolved: 1},
		{Day: date(2026, 6, 4), Points: 0, Resolved: 2}, // unpointed day falls back to count
	}
	series := buildVelocitySeries(rows, now)
	if len(series) != 10 {
		t.Fatalf("series length = %d, want 10 (Jun 1..10)", len(series))
	}
	if series[0].velocity != 3 {
		t.Fatalf("day 1 velocity = %v", series[0].velocity)
	}
	if series[1].velocity != 0 || series[2].velocity != 0 {
		t.Fatalf("gap days must be zero, got %v/%v", series[1].velocity, series[2].velocity)
	}
	if series[3].velocity != 2 {
		t.Fatalf("unpointed day velocity = %v, want resolved count 2", series[3].velocity)
	}
}

func TestSprintForecast(t *testing.T) {
	now := date(2026, 6, 15)
	svc := newForecastService(linearRows(now, 14, 5, 0), now)
	sf, err := svc.SprintForecast(context.Background(), 14, 0)
	if err != nil { t.Fatal(err) }
	if sf.SprintLengthDays != 14 || len(sf.DailyBreakdown) != 14 {
		t.Fatalf("sprint shape = %+v", sf)
	}
	if math.Abs(sf.PredictedStoryPoints-70) > 1e-6 {
		t.Fatalf("predicted points = %v, want 70", sf.PredictedStoryPoints)
	}
}

func TestMondayWeekday(t *testing.T) {
	// 2026-06-15 is a Monday
	if got := mondayWeekday(date(2026, 6, 15)); got != 0 {
		t.Fatalf("Monday = %d, want 0", got)
	}
	if got := mondayWeekday(date(2026, 6, 21)); got != 6 {
		t.Fatalf("Sunday = %d, want 6", got)
	}
}
