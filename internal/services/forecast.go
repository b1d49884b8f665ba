package services

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/zieduz/jira-dashboard/internal/config"
)

const minHistoryDays = 7

type VelocityPoint struct {
	Date     string  `json:"date"`
	Velocity float64 `json:"velocity"`
}

type ConfidencePoint struct {
	Date  string  `json:"date"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// SprintPrediction.Confidence carries the regression's R², not a statistical
// confidence level. The name predates this implementation and is kept for
// response compatibility.
type SprintPrediction struct {
	Velocity   float64 `json:"velocity"`
	Confidence float64 `json:"confidence"`
	Days       int     `json:"days"`
}

type Forecast struct {
	PredictedVelocity    []VelocityPoint   `json:"predicted_velocity"`
	ConfidenceInterval   []ConfidencePoint `json:"confidence_interval"`
	Trend                string            `json:"trend"`
	NextSprintPrediction SprintPrediction  `json:"next_sprint_prediction"`
	ModelAccuracy        float64           `json:"model_accuracy"`
}

type SprintForecast struct {
	SprintLengthDays     int             `json:"sprint_length_days"`
	PredictedStoryPoints float64         `json:"predicted_story_points"`
	Confidence           float64         `json:"confidence"`
	Trend                string          `json:"trend"`
	DailyBreakdown       []VelocityPoint `json:"daily_breakdown"`
}

// DailyVelocity is one day's resolved work: the story-point sum and the
// resolved-ticket count, both already filtered by the resolved predicate.
type DailyVelocity struct {
	Day      time.Time
	Points   float64
	Resolved int
}

type ForecastStore interface {
	DailyResolvedVelocity(ctx context.Context, projectID, userID int64, from, to time.Time) ([]DailyVelocity, error)
}

type ForecastService struct {
	store       ForecastStore
	historyDays int
	now         func() time.Time
	log         zerolog.Logger
}

func NewForecastService(cfg config.Metrics, store ForecastStore, log zerolog.Logger) *ForecastService {
	return &ForecastService{store: store, historyDays: cfg.ForecastHistoryDays, now: time.Now, log: log}
}

// Forecast projects daily velocity daysAhead days forward with a linear model
// over day-of-week and day-index features, fit on the trailing history window.
func (s *ForecastService) Forecast(ctx context.Context, daysAhead int, projectID, userID int64) (Forecast, error) {
	if daysAhead <= 0 { daysAhead = 30 }
	now := s.now().UTC()
	from := now.AddDate(0, 0, -s.historyDays)

	rows, err := s.store.DailyResolvedVelocity(ctx, projectID, userID, from, now)
	if err != nil { return Forecast{}, err }

	history := buildVelocitySeries(rows, now)
	if len(history) < minHistoryDays {
		return s.defaultForecast(daysAhead, now), nil
	}

	n := len(history)
	firstDay := history[0].day
	lastDay := history[n-1].day

	x := mat.NewDense(n, 3, nil)
	y := mat.NewVecDense(n, nil)
	for i, h := range history {
		x.Set(i, 0, 1)
		x.Set(i, 1, float64(mondayWeekday(h.day)))
		x.Set(i, 2, float64(dayIndex(firstDay, h.day)))
		y.SetVec(i, h.velocity)
	}

	var qr mat.QR
	qr.Factorize(x)
	beta := mat.NewDense(3, 1, nil)
	if err := qr.SolveTo(beta, false, y); err != nil {
		s.log.Warn().Err(err).Msg("forecast: regression solve failed, returning default")
		return s.defaultForecast(daysAhead, now), nil
	}
	predict := func(day time.Time) float64 {
		return beta.At(0, 0) +
			beta.At(1, 0)*float64(mondayWeekday(day)) +
			beta.At(2, 0)*float64(dayIndex(firstDay, day))
	}

	// Fit quality over the history: R² and the population stddev of the
	// residuals (the 95% band is 1.96·stddev under normal residuals).
	var ssRes, ssTot, meanY float64
	for _, h := range history { meanY += h.velocity }
	meanY /= float64(n)
	for _, h := range history {
		r := h.velocity - predict(h.day)
		ssRes += r * r
		d := h.velocity - meanY
		ssTot += d * d
	}
	r2 := 0.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	} else if ssRes == 0 {
		r2 = 1
	}
	band := 1.96 * math.Sqrt(ssRes/float64(n))

	fc := Forecast{
		PredictedVelocity:  make([]VelocityPoint, 0, daysAhead),
		ConfidenceInterval: make([]ConfidencePoint, 0, daysAhead),
		ModelAccuracy:      r2,
	}
	for i := 1; i <= daysAhead; i++ {
		day := lastDay.AddDate(0, 0, i)
		date := day.Format("2006-01-02")
		v := predict(day)
		clamped := math.Max(0, v)
		fc.PredictedVelocity = append(fc.PredictedVelocity, VelocityPoint{Date: date, Velocity: clamped})
		fc.ConfidenceInterval = append(fc.ConfidenceInterval, ConfidencePoint{
			Date:  date,
			Lower: math.Max(0, v-band),
			Upper: v + band,
		})
	}

	fc.Trend = classifyTrend(history)

	sprintDays := daysAhead
	if sprintDays > 14 { sprintDays = 14 }
	sprintVelocity := 0.0
	for _, p := range fc.PredictedVelocity[:sprintDays] { sprintVelocity += p.Velocity }
	fc.NextSprintPrediction = SprintPrediction{Velocity: sprintVelocity, Confidence: r2, Days: sprintDays}
	return fc, nil
}

// SprintForecast reframes the regular forecast as a single-sprint projection.
func (s *ForecastService) SprintForecast(ctx context.Context, sprintLengthDays int, projectID int64) (SprintForecast, error) {
	if sprintLengthDays <= 0 { sprintLengthDays = 14 }
	fc, err := s.Forecast(ctx, sprintLengthDays, projectID, 0)
	if err != nil { return SprintForecast{}, err }
	breakdown := fc.PredictedVelocity
	if len(breakdown) > sprintLengthDays { breakdown = breakdown[:sprintLengthDays] }
	return SprintForecast{
		SprintLengthDays:     sprintLengthDays,
		PredictedStoryPoints: fc.NextSprintPrediction.Velocity,
		Confidence:           fc.NextSprintPrediction.Confidence,
		Trend:                fc.Trend,
		DailyBreakdown:       breakdown,
	}, nil
}

type velocityDay struct {
	day      time.Time
	velocity float64
}

// buildVelocitySeries expands the sparse daily rollup into a contiguous
// series from the earliest resolution day through today. A day's velocity is
// its story-point sum when positive; a day with resolutions but no pointed
// tickets falls back to the resolved count. No resolutions at all yields an
// empty series (which triggers the degenerate forecast).
func buildVelocitySeries(rows []DailyVelocity, now time.Time) []velocityDay {
	if len(rows) == 0 { return nil }
	byDay := make(map[time.Time]DailyVelocity, len(rows))
	first := time.Time{}
	for _, r := range rows {
		d := dateOf(r.Day)
		byDay[d] = r
		if first.IsZero() || d.Before(first) { first = d }
	}
	last := dateOf(now)
	var out []velocityDay
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		v := 0.0
		if r, ok := byDay[d]; ok {
			if r.Points > 0 {
				v = r.Points
			} else {
				v = float64(r.Resolved)
			}
		}
		out = append(out, velocityDay{day: d, velocity: v})
	}
	return out
}

// classifyTrend compares the mean of the most recent seven days against the
// earliest seven: >110% is increasing, <90% decreasing, else stable.
func classifyTrend(history []velocityDay) string {
	head := history
	if len(head) > 7 { head = head[:7] }
	tail := history
	if len(tail) > 7 { tail = tail[len(tail)-7:] }
	older := meanVelocity(head)
	recent := meanVelocity(tail)
	switch {
	case recent > older*1.1:
		return "increasing"
	case recent < older*0.9:
		return "decreasing"
	default:
		return "stable"
	}
}

func meanVelocity(days []velocityDay) float64 {
	if len(days) == 0 { return 0 }
	sum := 0.0
	for _, d := range days { sum += d.velocity }
	return sum / float64(len(days))
}

func (s *ForecastService) defaultForecast(daysAhead int, now time.Time) Forecast {
	fc := Forecast{
		PredictedVelocity:  make([]VelocityPoint, 0, daysAhead),
		ConfidenceInterval: make([]ConfidencePoint, 0, daysAhead),
		Trend:              "unknown",
	}
	sprintDays := daysAhead
	if sprintDays > 14 { sprintDays = 14 }
	fc.NextSprintPrediction = SprintPrediction{Days: sprintDays}
	for i := 1; i <= daysAhead; i++ {
		date := now.AddDate(0, 0, i).Format("2006-01-02")
		fc.PredictedVelocity = append(fc.PredictedVelocity, VelocityPoint{Date: date})
		fc.ConfidenceInterval = append(fc.ConfidenceInterval, ConfidencePoint{Date: date})
	}
	return fc
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// mondayWeekday maps time.Weekday (Sunday=0) onto the Monday=0 numbering the
// model was trained with historically.
func mondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func dayIndex(first, day time.Time) int {
	return int(day.Sub(first).Hours() / 24)
}
