package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"
)

const (
	ActiveConnections = "NumActiveConnections"
	AuthFailures      = "NumAuthFailures"
	MessagesRouted    = "NumMessagesRouted"
	RoomsDeleted      = "NumRoomsDeleted"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

// StatsUpdater applies counter updates on a single goroutine and serves
// the counters as JSON on GET /debug/vars.
type StatsUpdater struct {
	vars     *expvar.Map
	updates  chan metricDelta
	done     chan struct{}
	stopOnce sync.Once
}

type metricDelta struct {
	name  string
	delta int64
}

// NewStatsUpdater registers the vars handler on mux. The map is private to
// the updater, so several instances can live in one process.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		vars:    new(expvar.Map).Init(),
		updates: make(chan metricDelta, 512),
		done:    make(chan struct{}),
	}

	start := time.Now()
	su.vars.Set("UptimeMillis", expvar.Func(func() any {
		return time.Since(start).Milliseconds()
	}))

	mux.HandleFunc("GET /debug/vars", su.serveVars)

	return su
}

func (su *StatsUpdater) serveVars(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]json.RawMessage)
	su.vars.Do(func(kv expvar.KeyValue) {
		out[kv.Key] = json.RawMessage(kv.Value.String())
	})

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(out)
}

// Snapshot returns the current value of every registered counter.
func (su *StatsUpdater) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	su.vars.Do(func(kv expvar.KeyValue) {
		if v, ok := kv.Value.(*expvar.Int); ok {
			out[kv.Key] = v.Value()
		}
	})
	return out
}

func (su *StatsUpdater) RegisterMetric(name string) {
	if su.vars.Get(name) != nil {
		return
	}
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Incr(name string) {
	su.add(name, 1)
}

func (su *StatsUpdater) Decr(name string) {
	su.add(name, -1)
}

// add drops the update once the updater is stopped.
func (su *StatsUpdater) add(name string, delta int64) {
	select {
	case <-su.done:
	case su.updates <- metricDelta{name: name, delta: delta}:
	}
}

func (su *StatsUpdater) Run() {
	go su.apply()
}

func (su *StatsUpdater) apply() {
	for {
		select {
		case d := <-su.updates:
			if metric, ok := su.vars.Get(d.name).(*expvar.Int); ok {
				metric.Add(d.delta)
			}
		case <-su.done:
			return
		}
	}
}

func (su *StatsUpdater) Stop() {
	su.stopOnce.Do(func() { close(su.done) })
}
