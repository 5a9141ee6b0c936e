// Package feedback implements the get_feedback aggregation algorithm: date
// parsing, the 90-day and 30000-row/30000-label caps, and the api_metrics
// summary.
package feedback

import (
	"fmt"
	"sort"
	"time"
)

const (
	dateLayout   = "02/01/2006"
	maxRangeDays = 90
	maxRows      = 30000
	maxLabels    = 30000
	daySeconds   = 86400
)

// ParseRange parses initial/end dd/mm/yyyy strings, extends the end date by
// one day to make it inclusive, and validates the range is well-formed and
// no more than 90 days.
func ParseRange(initialDate, endDate string) (start, endExclusive float64, err error) {
	initial, err := time.Parse(dateLayout, initialDate)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid initial_date %q: %w", initialDate, err)
	}
	end, err := time.Parse(dateLayout, endDate)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end_date %q: %w", endDate, err)
	}

	if initial.After(end) {
		return 0, 0, fmt.Errorf("initial_date is after end_date")
	}

	startSec := float64(initial.Unix())
	endSec := float64(end.Unix()) + daySeconds

	if (endSec-startSec)/daySeconds > maxRangeDays {
		return 0, 0, fmt.Errorf("date range exceeds %d days", maxRangeDays)
	}
	return startSec, endSec, nil
}

// IsSingleDay reports whether initialDate and endDate name the same day.
func IsSingleDay(initialDate, endDate string) bool {
	return initialDate == endDate
}

// CheckCount applies the row-count cap: reject if zero matches, reject if
// over maxRows on a multi-day range, but allow up to maxRows regardless of
// count on a single-day range.
func CheckCount(count int64, singleDay bool) error {
	if count == 0 {
		return fmt.Errorf("no feedback rows found in range")
	}
	if count > maxRows && !singleDay {
		return fmt.Errorf("too many feedback rows (%d); narrow the date window", count)
	}
	return nil
}

// MaxRows is the row-fetch cap shared by both the count check and the fetch.
func MaxRows() int64 { return maxRows }

// Label is one concatenated (prediction, truth) pair drawn from a job's
// response/feedback lists.
type Label struct {
	Pred  any
	Truth any
}

// Aggregate concatenates each job's response/feedback lists into y_pred/
// y_true, stopping before crossing maxLabels total labels. The row-count
// cap above is a separate, weaker check: a single job carrying many labels
// can pass it and still overflow, so the label cap is the real limit.
type Aggregate struct {
	YPred             []any
	YTrue             []any
	QtyComputedLabels int
	JobsConsidered    int
	JobsSkipped       int
}

// AggregateJobs walks jobs (already ordered by datetime desc, already
// capped to MaxRows()) and builds the label arrays. Aggregation stops at
// the first job that would cross maxLabels; every job from there on is
// counted as skipped, even one small enough to fit.
func AggregateJobs(responses, feedbacks [][]any) Aggregate {
	var agg Aggregate
	for i := range responses {
		resp := responses[i]
		fb := feedbacks[i]
		n := len(resp)
		if n > len(fb) {
			n = len(fb)
		}
		if agg.QtyComputedLabels+n > maxLabels {
			agg.JobsSkipped = len(responses) - agg.JobsConsidered
			break
		}
		for j := 0; j < n; j++ {
			agg.YPred = append(agg.YPred, resp[j])
			agg.YTrue = append(agg.YTrue, fb[j])
		}
		agg.QtyComputedLabels += n
		agg.JobsConsidered++
	}
	return agg
}

// LabelTypes returns the distinct label values present in yTrue, sorted when
// every value is comparable (all strings or all numbers), otherwise in
// first-seen order.
func LabelTypes(yTrue []any) []any {
	seen := map[string]bool{}
	var out []any
	for _, v := range yTrue {
		key := fmt.Sprintf("%T|%v", v, v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}

	allStrings, allNumbers := len(out) > 0, len(out) > 0
	for _, v := range out {
		switch v.(type) {
		case string:
			allNumbers = false
		case float64, int, int32, int64:
			allStrings = false
		default:
			allStrings, allNumbers = false, false
		}
	}
	switch {
	case allStrings:
		sort.Slice(out, func(i, j int) bool { return out[i].(string) < out[j].(string) })
	case allNumbers:
		sort.Slice(out, func(i, j int) bool { return asFloat(out[i]) < asFloat(out[j]) })
	}
	return out
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
