// Package report implements the run report: a stage-indexed set of
// counters carrying no state between runs, persisted as a single JSON
// object keyed by stage name (each value a nested object of counters).
package report

// Report accumulates counters for one pipeline run.
type Report struct {
	stages []stageCounters
}

type stageCounters struct {
	name     string
	counters []counter
}

type counter struct {
	name  string
	value int
}

// New returns an empty report.
func New() *Report {
	return &Report{}
}

func (r *Report) stage(name string) *stageCounters {
	for i := range r.stages {
		if r.stages[i].name == name {
			return &r.stages[i]
		}
	}
	r.stages = append(r.stages, stageCounters{name: name})
	return &r.stages[len(r.stages)-1]
}

// Add increments stage/counter by delta, creating both if absent.
func (r *Report) Add(stage, counterName string, delta int) {
	s := r.stage(stage)
	for i := range s.counters {
		if s.counters[i].name == counterName {
			s.counters[i].value += delta
			return
		}
	}
	s.counters = append(s.counters, counter{name: counterName, value: delta})
}

// Inc increments stage/counter by one.
func (r *Report) Inc(stage, counterName string) {
	r.Add(stage, counterName, 1)
}

// Get returns the current value of stage/counter, or 0 if unset.
func (r *Report) Get(stage, counterName string) int {
	for i := range r.stages {
		if r.stages[i].name != stage {
			continue
		}
		for _, c := range r.stages[i].counters {
			if c.name == counterName {
				return c.value
			}
		}
	}
	return 0
}

// Stages reports every stage name that recorded at least one counter,
// in first-touched order.
func (r *Report) Stages() []string {
	out := make([]string, len(r.stages))
	for i, s := range r.stages {
		out[i] = s.name
	}
	return out
}

// ToMap flattens the report into stage -> counter -> value, suitable
// for json.Marshal into the persisted report format.
func (r *Report) ToMap() map[string]map[string]int {
	out := make(map[string]map[string]int, len(r.stages))
	for _, s := range r.stages {
		m := make(map[string]int, len(s.counters))
		for _, c := range s.counters {
			m[c.name] = c.value
		}
		out[s.name] = m
	}
	return out
}
