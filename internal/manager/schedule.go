package manager

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

const maxRetryDelay = time.Hour

// RetryDelay returns the wait before attempt number attempts+1:
// min(2^(attempts-1) * 60s, 1h)
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	seconds := math.Pow(2, float64(attempts-1)) * 60
	if seconds >= maxRetryDelay.Seconds() {
		return maxRetryDelay
	}
	return time.Duration(seconds) * time.Second
}

// ShouldRunSchedule reports whether the schedule may spawn a job at now. The
// active-hours window is evaluated in the schedule's timezone; an end before
// the start wraps past midnight.
func ShouldRunSchedule(schedule *models.SyncSchedule, now time.Time) bool {
	if !schedule.Enabled {
		return false
	}

	if schedule.ActiveHours != nil {
		within, err := withinActiveHours(schedule.ActiveHours, now)
		if err == nil && !within {
			return false
		}
	}

	if schedule.LastRunAt != nil && now.Sub(*schedule.LastRunAt) < schedule.Frequency.Interval() {
		return false
	}
	return true
}

func withinActiveHours(hours *models.ActiveHours, now time.Time) (bool, error) {
	loc := time.UTC
	if hours.Timezone != "" {
		l, err := time.LoadLocation(hours.Timezone)
		if err != nil {
			return false, fmt.Errorf("invalid timezone %q: %w", hours.Timezone, err)
		}
		loc = l
	}

	start, err := parseClock(hours.Start)
	if err != nil {
		return false, err
	}
	end, err := parseClock(hours.End)
	if err != nil {
		return false, err
	}
	if start == end {
		return true, nil
	}

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if start < end {
		return minute >= start && minute < end, nil
	}
	return minute >= start || minute < end, nil
}

// parseClock converts "HH:MM" into minutes after midnight
func parseClock(value string) (int, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hour*60 + minute, nil
}
