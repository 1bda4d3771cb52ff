package schedule

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"schoolops/internal/apperr"
)

// Resolver computes the effective weekly schedule from the store.
type Resolver struct {
	store  Store
	logger *zap.Logger
}

// NewResolver creates a resolver backed by a store.
func NewResolver(store Store, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, logger: logger}
}

// isoDay maps a time to Monday=1..Sunday=7.
func isoDay(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// cellDate resolves the concrete date of a weekday within the anchor's week
// by offsetting from the anchor's own day-of-week index.
func cellDate(anchor time.Time, dayID int) string {
	return anchor.AddDate(0, 0, dayID-isoDay(anchor)).Format("2006-01-02")
}

// ForTeacher resolves the effective schedule of one teacher for the week
// containing anchor. A nil anchor resolves without dates, which enables the
// legacy day-of-week substitution fallback.
func (r *Resolver) ForTeacher(ctx context.Context, teacherID string, anchor *time.Time) (Week, error) {
	entries, err := r.store.EntriesByTeacher(ctx, teacherID)
	if err != nil {
		return Week{}, err
	}
	subs, err := r.store.SubstitutionsByTeacher(ctx, teacherID)
	if err != nil {
		return Week{}, err
	}
	return r.resolve(ctx, entries, subs, anchor)
}

// ForClass resolves the effective schedule of one class for the week
// containing anchor.
func (r *Resolver) ForClass(ctx context.Context, className string, anchor *time.Time) (Week, error) {
	entries, err := r.store.EntriesByClass(ctx, className)
	if err != nil {
		return Week{}, err
	}
	subs, err := r.store.SubstitutionsByClass(ctx, className)
	if err != nil {
		return Week{}, err
	}
	return r.resolve(ctx, entries, subs, anchor)
}

// CheckIntegrity reports a DataIntegrity error when more than one
// substitution matches a single (day, period, date) cell for the teacher's
// week. The resolver itself stays deterministic by picking the lowest id;
// this surfaces the underlying data problem to callers that want it.
func (r *Resolver) CheckIntegrity(ctx context.Context, teacherID string, anchor *time.Time) error {
	subs, err := r.store.SubstitutionsByTeacher(ctx, teacherID)
	if err != nil {
		return err
	}
	periods, err := r.periodNumbers(ctx, nil, subs)
	if err != nil {
		return err
	}
	for _, dayID := range dayIDs() {
		for _, period := range periods {
			matched := matchSubstitutions(subs, dayID, period, anchor)
			if len(matched) > 1 {
				return apperr.DataIntegrity("%d substitutions match day %d period %d", len(matched), dayID, period)
			}
		}
	}
	return nil
}

func dayIDs() []int {
	days := Days()
	ids := make([]int, len(days))
	for i, d := range days {
		ids[i] = d.ID
	}
	return ids
}

// periodNumbers returns the period axis of the week grid: configured periods
// when present, otherwise whatever periods the entries and substitutions
// mention.
func (r *Resolver) periodNumbers(ctx context.Context, entries []Entry, subs []Substitution) ([]int, error) {
	configured, err := r.store.Periods(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]struct{})
	var out []int
	add := func(n int) {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	for _, p := range configured {
		add(p.Number)
	}
	for _, e := range entries {
		add(e.Period)
	}
	for _, s := range subs {
		add(s.PeriodXMLID)
	}
	sort.Ints(out)
	return out, nil
}

func (r *Resolver) resolve(ctx context.Context, entries []Entry, subs []Substitution, anchor *time.Time) (Week, error) {
	periods, err := r.periodNumbers(ctx, entries, subs)
	if err != nil {
		return Week{}, err
	}

	type cellKey struct{ day, period int }
	entryAt := make(map[cellKey]Entry)
	for _, e := range entries {
		entryAt[cellKey{e.DayID, e.Period}] = e
	}

	week := Week{}
	if anchor != nil {
		week.Anchor = anchor.Format("2006-01-02")
	}

	for _, dayID := range dayIDs() {
		for _, period := range periods {
			cell := Cell{DayID: dayID, Period: period, Kind: CellEmpty}
			if anchor != nil {
				cell.Date = cellDate(*anchor, dayID)
			}

			if e, ok := entryAt[cellKey{dayID, period}]; ok {
				entry := e
				cell.Entry = &entry
				cell.Kind = CellRegular
			}

			matched := matchSubstitutions(subs, dayID, period, anchor)
			if len(matched) > 0 {
				if len(matched) > 1 {
					r.logger.Warn("multiple substitutions match one cell, picking lowest id",
						zap.Int("day", dayID),
						zap.Int("period", period),
						zap.Int("matches", len(matched)),
					)
				}
				sub := matched[0]
				cell.Substitution = &sub
				if cell.Entry != nil {
					cell.Kind = CellBoth
				} else {
					cell.Kind = CellSubstituted
				}
			}

			week.Cells = append(week.Cells, cell)
		}
	}
	return week, nil
}

// matchSubstitutions returns the substitutions matching a (day, period) cell,
// best rank first, lowest id first within a rank.
//
// With an anchor the cell has a concrete date: an exact assignment_date match
// is canonical, a start/end window containing the date ranks below it, and
// date-less substitutions are hidden entirely so stale overrides keyed only
// by weekday cannot resurface. Without an anchor only the legacy day-of-week
// match applies.
func matchSubstitutions(subs []Substitution, dayID, period int, anchor *time.Time) []Substitution {
	var exact, windowed, legacy []Substitution
	for _, sub := range subs {
		if sub.PeriodXMLID != period {
			continue
		}
		if anchor == nil {
			if sub.AssignmentDate == nil && sub.DayXMLID != nil && *sub.DayXMLID == dayID {
				legacy = append(legacy, sub)
			}
			continue
		}

		date := cellDate(*anchor, dayID)
		switch {
		case sub.AssignmentDate != nil:
			if *sub.AssignmentDate == date {
				exact = append(exact, sub)
			}
		case sub.StartDate != nil && sub.EndDate != nil:
			if *sub.StartDate <= date && date <= *sub.EndDate &&
				(sub.DayXMLID == nil || *sub.DayXMLID == dayID) {
				windowed = append(windowed, sub)
			}
		}
	}

	byID := func(list []Substitution) {
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
	if len(exact) > 0 {
		byID(exact)
		return exact
	}
	if len(windowed) > 0 {
		byID(windowed)
		return windowed
	}
	byID(legacy)
	return legacy
}
