package scheduling

import (
	"sort"
	"time"
)

// Occupied is the set of taken instants for one doctor, keyed by Unix
// milliseconds.
type Occupied map[int64]bool

func NewOccupied(instants ...time.Time) Occupied {
	o := make(Occupied, len(instants))
	for _, t := range instants {
		o.Add(t)
	}
	return o
}

func (o Occupied) Add(t time.Time)      { o[t.UnixMilli()] = true }
func (o Occupied) Has(t time.Time) bool { return o[t.UnixMilli()] }

// SlotQuery is the input to Suggest.
type SlotQuery struct {
	Availability *Availability
	Occupied     Occupied
	// From picks the first calendar day searched.
	From        time.Time
	Now         time.Time
	Location    *time.Location
	HorizonDays int
	Limit       int
}

// Suggest walks HorizonDays calendar days starting on From's date and
// returns up to Limit free instants strictly after Now, in order.
func Suggest(q SlotQuery) []time.Time {
	if q.Availability == nil || q.HorizonDays <= 0 || q.Limit <= 0 {
		return nil
	}
	loc := q.Location
	if loc == nil {
		loc = time.UTC
	}

	byDay := make(map[time.Weekday][]Window)
	for _, w := range q.Availability.Windows {
		if _, _, _, ok := w.bounds(); ok {
			byDay[time.Weekday(w.Weekday)] = append(byDay[time.Weekday(w.Weekday)], w)
		}
	}
	for d := range byDay {
		ws := byDay[d]
		sort.SliceStable(ws, func(i, j int) bool {
			si, _, _, _ := ws[i].bounds()
			sj, _, _, _ := ws[j].bounds()
			return si < sj
		})
	}

	from := q.From.In(loc)
	out := make([]time.Time, 0, q.Limit)
	for i := 0; i < q.HorizonDays; i++ {
		day := time.Date(from.Year(), from.Month(), from.Day()+i, 0, 0, 0, 0, loc)
		for _, w := range byDay[day.Weekday()] {
			start, end, step, _ := w.bounds()
			for m := start; m < end; m += step {
				t := time.Date(day.Year(), day.Month(), day.Day(), 0, m, 0, 0, loc)
				if q.Occupied.Has(t) || !t.After(q.Now) {
					continue
				}
				out = append(out, t.UTC())
				if len(out) == q.Limit {
					return out
				}
			}
		}
	}
	return out
}

// dayRange returns the instants bounding the local calendar day of t.
func dayRange(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
