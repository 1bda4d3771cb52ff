package attendance

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"schoolops/internal/metrics"
)

// Aggregator computes per-student statistics and per-class summaries over
// the mark store.
type Aggregator struct {
	store  Store
	logger *zap.Logger
}

// NewAggregator creates an aggregator backed by a store.
func NewAggregator(store Store, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: store, logger: logger}
}

// RecordMark inserts a new mark.
func (a *Aggregator) RecordMark(ctx context.Context, mark Mark) error {
	if err := a.store.Insert(ctx, mark); err != nil {
		return err
	}
	metrics.MarksRecorded.Inc()
	a.logger.Info("attendance mark recorded",
		zap.String("student_id", mark.StudentID),
		zap.String("date", mark.Date),
		zap.Int("period", mark.ClassTimeNum),
	)
	return nil
}

// Statistics computes the aggregate view for one student.
// attendance_rate = round(100 * (total - absent) / total), 0 when empty.
func (a *Aggregator) Statistics(ctx context.Context, studentID string) (Statistics, error) {
	marks, err := a.store.MarksByStudent(ctx, studentID)
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{TotalRecords: len(marks)}
	for _, m := range marks {
		if m.IsAbsent {
			stats.AbsentCount++
		}
		if m.IsLate {
			stats.LateCount++
		}
		if m.IsExcused {
			stats.ExcusedCount++
		}
	}
	if stats.TotalRecords > 0 {
		rate := 100 * float64(stats.TotalRecords-stats.AbsentCount) / float64(stats.TotalRecords)
		stats.AttendanceRate = int(math.Round(rate))
	}
	return stats, nil
}

// History returns a student's marks grouped by date.
func (a *Aggregator) History(ctx context.Context, studentID string) ([]DayGroup, error) {
	marks, err := a.store.MarksByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return GroupByDate(marks), nil
}

// GroupByDate groups marks by session date, dates descending; within a date,
// sessions follow ascending period number.
func GroupByDate(history []Mark) []DayGroup {
	byDate := make(map[string][]Mark)
	for _, m := range history {
		byDate[m.Date] = append(byDate[m.Date], m)
	}

	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	// ISO dates sort lexicographically in chronological order.
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	out := make([]DayGroup, 0, len(dates))
	for _, date := range dates {
		marks := byDate[date]
		sort.SliceStable(marks, func(i, j int) bool {
			return marks[i].ClassTimeNum < marks[j].ClassTimeNum
		})
		out = append(out, DayGroup{Date: date, Marks: marks})
	}
	return out
}

// SummaryByClass aggregates per-class counts for one date. The present count
// is derived as total - (absent + excused) rather than trusting a separately
// reported present flag, which can be stale.
func (a *Aggregator) SummaryByClass(ctx context.Context, date string) ([]ClassSummary, error) {
	marks, err := a.store.MarksByDate(ctx, date)
	if err != nil {
		return nil, err
	}

	byClass := make(map[string]*ClassSummary)
	for _, m := range marks {
		summary, ok := byClass[m.ClassName]
		if !ok {
			summary = &ClassSummary{ClassName: m.ClassName}
			byClass[m.ClassName] = summary
		}
		summary.TotalStudents++
		if m.IsAbsent {
			summary.AbsentCount++
		}
		if m.IsLate {
			summary.LateCount++
		}
		if m.IsExcused {
			summary.ExcusedCount++
		}
	}

	out := make([]ClassSummary, 0, len(byClass))
	for _, summary := range byClass {
		summary.PresentCount = summary.TotalStudents - (summary.AbsentCount + summary.ExcusedCount)
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClassName < out[j].ClassName })
	return out, nil
}
