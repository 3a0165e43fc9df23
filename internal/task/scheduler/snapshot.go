package scheduler

import (
	"sort"
	"time"
)

// Armed lists live timers ordered by due time.
func (s *Service) Armed() []ArmedTask {
	s.tmu.Lock()
	out := make([]ArmedTask, 0, len(s.armed))
	for id, a := range s.armed {
		out = append(out, ArmedTask{ID: id, Kind: a.kind, Handler: a.ref.String(), DueAt: a.dueAt})
	}
	s.tmu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueAt.Before(out[j].DueAt)
	})
	return out
}

// IsArmed reports whether id has a live timer.
func (s *Service) IsArmed(id string) bool {
	s.tmu.Lock()
	_, ok := s.armed[id]
	s.tmu.Unlock()
	return ok
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	tz := s.cfg.Timezone
	jobs := make([]jobDef, len(s.jobs))
	copy(jobs, s.jobs)
	c := s.c
	loc := s.loc
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	if tz == "" {
		tz = loc.String()
	}

	infos := make([]JobInfo, 0, len(jobs))
	for _, d := range jobs {
		it := JobInfo{Name: d.name, Spec: d.spec}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		infos = append(infos, it)
	}

	s.tmu.Lock()
	inflight := keys(s.inflight)
	failed := keys(s.failed)
	s.tmu.Unlock()

	return Snapshot{
		Running:  c != nil,
		Timezone: tz,
		Armed:    s.Armed(),
		InFlight: inflight,
		Failed:   failed,
		Jobs:     infos,
	}
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
