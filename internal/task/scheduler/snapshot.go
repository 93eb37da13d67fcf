package scheduler

import (
	"sort"
	"time"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	tz := s.cfg.Timezone
	defs := append([]scheduleDef(nil), s.defs...)
	c, loc, sup := s.c, s.loc, s.sup
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	if tz == "" {
		tz = loc.String()
	}

	items := make([]ScheduleInfo, 0, len(defs))
	for _, d := range defs {
		it := ScheduleInfo{ID: d.id, Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		items = append(items, it)
	}

	s.tmu.Lock()
	once := make([]OnceInfo, 0, len(s.once))
	for name, d := range s.once {
		once = append(once, OnceInfo{Name: name, At: d.at, Timeout: d.timeout})
	}
	s.tmu.Unlock()
	sort.Slice(once, func(i, j int) bool { return once[i].At.Before(once[j].At) })

	s.hmu.Lock()
	hist := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()

	return Snapshot{
		Enabled:   enabled,
		Running:   sup != nil,
		Timezone:  tz,
		Schedules: items,
		Once:      once,
		History:   hist,
		Workers:   sup.Counters(),
	}
}
