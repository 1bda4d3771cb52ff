package attendance

import (
	"context"
	"testing"

	"schoolops/internal/apperr"
)

func seedMarks(t *testing.T, agg *Aggregator, marks []Mark) {
	t.Helper()
	for _, m := range marks {
		if err := agg.RecordMark(context.Background(), m); err != nil {
			t.Fatalf("seed mark %+v: %v", m, err)
		}
	}
}

func mark(student, date string, period int, class string) Mark {
	return Mark{
		StudentID:    student,
		ClassTimeNum: period,
		ClassName:    class,
		SubjectName:  "Math",
		TeacherName:  "T. Rivera",
		Date:         date,
	}
}

func TestStatisticsRateFormula(t *testing.T) {
	agg := NewAggregator(NewMemoryStore(), nil)
	var marks []Mark
	for i := 1; i <= 10; i++ {
		m := mark("s1", "2024-03-11", i, "5B")
		if i <= 2 {
			m.IsAbsent = true
		}
		marks = append(marks, m)
	}
	seedMarks(t, agg, marks)

	stats, err := agg.Statistics(context.Background(), "s1")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TotalRecords != 10 || stats.AbsentCount != 2 {
		t.Fatalf("expected 10 records / 2 absent, got %+v", stats)
	}
	if stats.AttendanceRate != 80 {
		t.Fatalf("expected rate 80, got %d", stats.AttendanceRate)
	}
}

func TestStatisticsRounding(t *testing.T) {
	agg := NewAggregator(NewMemoryStore(), nil)
	// 2 of 3 attended: 66.67 rounds to 67.
	m1 := mark("s1", "2024-03-11", 1, "5B")
	m2 := mark("s1", "2024-03-11", 2, "5B")
	m3 := mark("s1", "2024-03-11", 3, "5B")
	m3.IsAbsent = true
	seedMarks(t, agg, []Mark{m1, m2, m3})

	stats, err := agg.Statistics(context.Background(), "s1")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.AttendanceRate != 67 {
		t.Fatalf("expected rate 67, got %d", stats.AttendanceRate)
	}
}

func TestStatisticsEmpty(t *testing.T) {
	agg := NewAggregator(NewMemoryStore(), nil)
	stats, err := agg.Statistics(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TotalRecords != 0 || stats.AttendanceRate != 0 {
		t.Fatalf("expected zero stats, got %+v", stats)
	}
}

func TestStatisticsNonExclusiveFlags(t *testing.T) {
	agg := NewAggregator(NewMemoryStore(), nil)
	m := mark("s1", "2024-03-11", 1, "5B")
	m.IsLate = true
	m.IsAbsent = true
	m.IsExcused = true
	seedMarks(t, agg, []Mark{m})

	stats, err := agg.Statistics(context.Background(), "s1")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	// Each flag counts independently; nothing collapses the combination.
	if stats.AbsentCount != 1 || stats.LateCount != 1 || stats.ExcusedCount != 1 {
		t.Fatalf("flags must be counted independently, got %+v", stats)
	}
}

func TestDuplicateMarkRejected(t *testing.T) {
	agg := NewAggregator(NewMemoryStore(), nil)
	m := mark("s1", "2024-03-11", 1, "5B")
	seedMarks(t, agg, []Mark{m})

	err := agg.RecordMark(context.Background(), m)
	if apperr.KindOf(err) != apperr.KindDuplicate {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestMarkValidation(t *testing.T) {
	agg := NewAggregator(NewMemoryStore(), nil)
	bad := mark("s1", "11/03/2024", 1, "5B")
	if err := agg.RecordMark(context.Background(), bad); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for malformed date, got %v", err)
	}
}

func TestGroupByDateOrdering(t *testing.T) {
	history := []Mark{
		mark("s1", "2024-03-11", 3, "5B"),
		mark("s1", "2024-03-12", 1, "5B"),
		mark("s1", "2024-03-11", 1, "5B"),
		mark("s1", "2024-03-12", 2, "5B"),
	}

	groups := GroupByDate(history)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].Date != "2024-03-12" || groups[1].Date != "2024-03-11" {
		t.Fatalf("expected dates descending, got %s then %s", groups[0].Date, groups[1].Date)
	}
	if groups[0].Marks[0].ClassTimeNum != 1 || groups[0].Marks[1].ClassTimeNum != 2 {
		t.Fatalf("expected periods ascending within a date, got %+v", groups[0].Marks)
	}
	if groups[1].Marks[0].ClassTimeNum != 1 || groups[1].Marks[1].ClassTimeNum != 3 {
		t.Fatalf("expected periods ascending within a date, got %+v", groups[1].Marks)
	}
}

func TestSummaryByClassDerivesPresent(t *testing.T) {
	agg := NewAggregator(NewMemoryStore(), nil)

	absent := mark("s2", "2024-03-11", 1, "5B")
	absent.IsAbsent = true
	excused := mark("s3", "2024-03-11", 1, "5B")
	excused.IsExcused = true
	late := mark("s4", "2024-03-11", 1, "5B")
	late.IsLate = true
	other := mark("s5", "2024-03-11", 1, "6A")

	seedMarks(t, agg, []Mark{mark("s1", "2024-03-11", 1, "5B"), absent, excused, late, other})

	summaries, err := agg.SummaryByClass(context.Background(), "2024-03-11")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 classes, got %d", len(summaries))
	}
	fiveB := summaries[0]
	if fiveB.ClassName != "5B" {
		t.Fatalf("expected classes sorted by name, got %s first", fiveB.ClassName)
	}
	if fiveB.TotalStudents != 4 || fiveB.AbsentCount != 1 || fiveB.ExcusedCount != 1 || fiveB.LateCount != 1 {
		t.Fatalf("unexpected tallies: %+v", fiveB)
	}
	// present = total - (absent + excused); the late student still counts as
	// present.
	if fiveB.PresentCount != 2 {
		t.Fatalf("expected derived present 2, got %d", fiveB.PresentCount)
	}
}
