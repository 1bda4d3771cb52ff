package scan

import (
	"context"
	"testing"
	"time"

	"schoolops/internal/apperr"
)

func kindOf(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return "validation"
	case apperr.KindDuplicate:
		return "duplicate"
	default:
		return "other"
	}
}

func newTestService() *Service {
	return NewService(NewMemoryLedger(time.UTC), nil)
}

func mustRecord(t *testing.T, svc *Service, id, student, bus string, typ Type, at time.Time) {
	t.Helper()
	if _, err := svc.RecordScan(context.Background(), Event{
		ID: id, StudentID: student, BusID: bus, Type: typ, ScanTime: at,
	}); err != nil {
		t.Fatalf("record %s: %v", id, err)
	}
}

func rosterIDs(t *testing.T, svc *Service, bus string, day time.Time) []string {
	t.Helper()
	roster, err := svc.CurrentRoster(context.Background(), bus, day)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	ids := make([]string, 0, len(roster))
	for _, entry := range roster {
		ids = append(ids, entry.ID)
	}
	return ids
}

func TestRosterBoardThenExit(t *testing.T) {
	svc := newTestService()
	day := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

	mustRecord(t, svc, "e1", "s1", "bus-1", TypeBoard, day.Add(7*time.Hour))
	mustRecord(t, svc, "e2", "s1", "bus-1", TypeExit, day.Add(7*time.Hour+30*time.Minute))

	if ids := rosterIDs(t, svc, "bus-1", day); len(ids) != 0 {
		t.Fatalf("expected empty roster after exit, got %v", ids)
	}
}

func TestRosterBoardOnly(t *testing.T) {
	svc := newTestService()
	day := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

	mustRecord(t, svc, "e1", "s1", "bus-1", TypeBoard, day.Add(7*time.Hour))

	ids := rosterIDs(t, svc, "bus-1", day)
	if len(ids) != 1 || ids[0] != "s1" {
		t.Fatalf("expected [s1], got %v", ids)
	}
}

func TestRosterOutOfOrderDelivery(t *testing.T) {
	svc := newTestService()
	day := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

	// The exit arrives first; the board arrives late with an earlier
	// timestamp. Timestamp order must decide, not insertion order.
	mustRecord(t, svc, "e2", "s1", "bus-1", TypeExit, day.Add(7*time.Hour+30*time.Minute))
	mustRecord(t, svc, "e1", "s1", "bus-1", TypeBoard, day.Add(7*time.Hour))

	if ids := rosterIDs(t, svc, "bus-1", day); len(ids) != 0 {
		t.Fatalf("late board must not flip student back on bus, got %v", ids)
	}
}

func TestRosterEqualTimestampExitWins(t *testing.T) {
	svc := newTestService()
	day := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	at := day.Add(8 * time.Hour)

	mustRecord(t, svc, "e1", "s1", "bus-1", TypeBoard, at)
	mustRecord(t, svc, "e2", "s1", "bus-1", TypeExit, at)

	if ids := rosterIDs(t, svc, "bus-1", day); len(ids) != 0 {
		t.Fatalf("exit should win a timestamp tie, got %v", ids)
	}
}

func TestDuplicateScanIsIdempotent(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	day := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	evt := Event{ID: "e1", StudentID: "s1", BusID: "bus-1", Type: TypeBoard, ScanTime: day.Add(7 * time.Hour)}

	if _, err := svc.RecordScan(ctx, evt); err != nil {
		t.Fatalf("first record: %v", err)
	}
	stored, err := svc.RecordScan(ctx, evt)
	if err == nil {
		t.Fatalf("expected duplicate error")
	}
	if kind := kindOf(err); kind != "duplicate" {
		t.Fatalf("expected duplicate kind, got %s (%v)", kind, err)
	}
	if stored.ID != "e1" {
		t.Fatalf("expected stored event back, got %+v", stored)
	}

	counts, err := svc.DayCounts(ctx, "bus-1", day)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Boarded != 1 || counts.Exited != 0 {
		t.Fatalf("duplicate must not change counts, got %+v", counts)
	}
	if ids := rosterIDs(t, svc, "bus-1", day); len(ids) != 1 {
		t.Fatalf("duplicate must not change roster, got %v", ids)
	}
}

func TestDuplicateIdentityDifferentID(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	at := time.Date(2024, 3, 11, 7, 0, 0, 0, time.UTC)

	if _, err := svc.RecordScan(ctx, Event{ID: "e1", StudentID: "s1", BusID: "bus-1", Type: TypeBoard, ScanTime: at}); err != nil {
		t.Fatalf("first record: %v", err)
	}
	// Retried submission after a lost ack gets a fresh id but the same
	// identity tuple.
	_, err := svc.RecordScan(ctx, Event{ID: "e9", StudentID: "s1", BusID: "bus-1", Type: TypeBoard, ScanTime: at})
	if kindOf(err) != "duplicate" {
		t.Fatalf("expected duplicate for same identity, got %v", err)
	}
}

func TestRecordScanValidation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	at := time.Date(2024, 3, 11, 7, 0, 0, 0, time.UTC)

	if _, err := svc.RecordScan(ctx, Event{StudentID: "s1", BusID: "b", Type: "teleport", ScanTime: at}); kindOf(err) != "validation" {
		t.Fatalf("expected validation error for bad type, got %v", err)
	}
	if _, err := svc.RecordScan(ctx, Event{BusID: "b", Type: TypeBoard, ScanTime: at}); kindOf(err) != "validation" {
		t.Fatalf("expected validation error for missing student, got %v", err)
	}
	if _, err := svc.RecordScan(ctx, Event{StudentID: "s1", BusID: "b", Type: TypeBoard}); kindOf(err) != "validation" {
		t.Fatalf("expected validation error for zero time, got %v", err)
	}
}

func TestDayCountsAndDayBoundary(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	day := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

	mustRecord(t, svc, "e1", "s1", "bus-1", TypeBoard, day.Add(7*time.Hour))
	mustRecord(t, svc, "e2", "s1", "bus-1", TypeExit, day.Add(8*time.Hour))
	mustRecord(t, svc, "e3", "s2", "bus-1", TypeBoard, day.Add(7*time.Hour))
	// Next calendar day, must not leak into counts.
	mustRecord(t, svc, "e4", "s3", "bus-1", TypeBoard, day.AddDate(0, 0, 1).Add(7*time.Hour))
	// Different bus.
	mustRecord(t, svc, "e5", "s4", "bus-2", TypeBoard, day.Add(7*time.Hour))

	counts, err := svc.DayCounts(ctx, "bus-1", day)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Boarded != 2 || counts.Exited != 1 {
		t.Fatalf("expected 2 boarded / 1 exited, got %+v", counts)
	}
}

func TestRosterEnrichment(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	day := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

	if err := svc.RegisterStudent(ctx, Student{ID: "s1", FullName: "Ada Park", ClassName: "5B"}); err != nil {
		t.Fatalf("register student: %v", err)
	}
	boardAt := day.Add(7 * time.Hour)
	mustRecord(t, svc, "e1", "s1", "bus-1", TypeBoard, boardAt)

	roster, err := svc.CurrentRoster(ctx, "bus-1", day)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if len(roster) != 1 {
		t.Fatalf("expected one entry, got %d", len(roster))
	}
	entry := roster[0]
	if entry.FullName != "Ada Park" || entry.ClassName != "5B" {
		t.Fatalf("expected enriched entry, got %+v", entry)
	}
	if entry.BoardTime == nil || !entry.BoardTime.Equal(boardAt) {
		t.Fatalf("expected board_time %s, got %+v", boardAt, entry.BoardTime)
	}
}
