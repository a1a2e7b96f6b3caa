package processor

import (
	"fmt"
	"time"

	"github.com/seanankenbruck/analytics-nlq/internal/catalog"
	"github.com/seanankenbruck/analytics-nlq/internal/errors"
)

// DateLayout is the ISO calendar form used for every date slot and parameter
const DateLayout = "2006-01-02"

// NormalizedTimeRange is a time-range token resolved to concrete calendar dates (UTC, midnight)
type NormalizedTimeRange struct {
	Type      catalog.TimeRangeToken `json:"type"`
	StartDate time.Time              `json:"start_date"`
	EndDate   time.Time              `json:"end_date"`
	IsCustom  bool                   `json:"is_custom"`
}

// Days returns the whole number of days between start and end
func (r NormalizedTimeRange) Days() int {
	return int(r.EndDate.Sub(r.StartDate).Hours() / 24)
}

// StartString returns the ISO start date
func (r NormalizedTimeRange) StartString() string {
	return r.StartDate.Format(DateLayout)
}

// EndString returns the ISO end date
func (r NormalizedTimeRange) EndString() string {
	return r.EndDate.Format(DateLayout)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NormalizeTimeRange resolves token against today. startDate and endDate are
// only consulted for the custom token.
func NormalizeTimeRange(token, startDate, endDate string, now time.Time) (NormalizedTimeRange, *errors.EnhancedError) {
	today := truncateDay(now)
	t := catalog.TimeRangeToken(token)
	r := NormalizedTimeRange{Type: t, EndDate: today}

	switch t {
	case catalog.Last7Days:
		r.StartDate = today.AddDate(0, 0, -7)
	case catalog.Last30Days:
		r.StartDate = today.AddDate(0, 0, -30)
	case catalog.Last90Days:
		r.StartDate = today.AddDate(0, 0, -90)
	case catalog.YearToDate:
		r.StartDate = time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	case catalog.LastQuarter:
		// first month of the current quarter, then step back one quarter
		currentQuarterStart := time.Date(today.Year(), ((today.Month()-1)/3)*3+1, 1, 0, 0, 0, 0, time.UTC)
		r.StartDate = currentQuarterStart.AddDate(0, -3, 0)
		r.EndDate = currentQuarterStart.AddDate(0, 0, -1)
	case catalog.LastYear:
		r.StartDate = time.Date(today.Year()-1, time.January, 1, 0, 0, 0, 0, time.UTC)
		r.EndDate = time.Date(today.Year()-1, time.December, 31, 0, 0, 0, 0, time.UTC)
	case catalog.Custom:
		if startDate == "" || endDate == "" {
			return r, errors.NewInvalidTimeRangeError(token, "custom ranges require both a start and an end date")
		}
		start, err := time.Parse(DateLayout, startDate)
		if err != nil {
			return r, errors.NewInvalidTimeRangeError(token, fmt.Sprintf("start date %q is not a valid YYYY-MM-DD date", startDate))
		}
		end, err := time.Parse(DateLayout, endDate)
		if err != nil {
			return r, errors.NewInvalidTimeRangeError(token, fmt.Sprintf("end date %q is not a valid YYYY-MM-DD date", endDate))
		}
		if start.After(end) {
			return r, errors.NewInvalidTimeRangeError(token, "start date is after end date")
		}
		r.StartDate, r.EndDate, r.IsCustom = start, end, true
	default:
		return r, errors.NewInvalidTimeRangeError(token, "unrecognized time range")
	}

	return r, nil
}
