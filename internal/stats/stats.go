package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Counter names used by the synchronizer.
const (
	DiscoveryPolls = "DiscoveryPolls"
	MessagePolls   = "MessagePolls"
	MessagesMerged = "MessagesMerged"
	RemoteErrors   = "RemoteErrors"
	RoomsExpired   = "RoomsExpired"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

// StatsUpdater exposes client counters over expvar at /debug/vars.
// Updates funnel through a channel so callers never block on expvar
// internals from the sync loop.
type StatsUpdater struct {
	log        zerolog.Logger
	vars       *expvar.Map
	updateChan chan metricsUpdate
	stopChan   chan struct{}
	stopOnce   sync.Once
}

type metricsUpdate struct {
	name  string
	value int
}

func NewStatsUpdater(mux *http.ServeMux, logger zerolog.Logger) *StatsUpdater {
	su := &StatsUpdater{
		log:        logger,
		updateChan: make(chan metricsUpdate, 512),
		stopChan:   make(chan struct{}),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	su.vars = new(expvar.Map).Init()

	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))

	return su
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	data := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		data[kv.Key] = value
	})

	json.NewEncoder(w).Encode(data)
}

func (su *StatsUpdater) updateMetrics() {
	for {
		select {
		case <-su.stopChan:
			return
		case req := <-su.updateChan:
			metric := su.vars.Get(req.name)
			if metric == nil {
				su.log.Warn().Str("metric", req.name).Msg("update for unregistered metric dropped")
				continue
			}
			metric.(*expvar.Int).Add(int64(req.value))
		}
	}
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

// Incr never blocks and stays safe after Stop: the update channel is
// left open and the stop channel case swallows late updates from
// best-effort goroutines that outlive shutdown.
func (su *StatsUpdater) Incr(name string) {
	select {
	case <-su.stopChan:
	case su.updateChan <- metricsUpdate{name: name, value: 1}:
	default:
	}
}

func (su *StatsUpdater) Decr(name string) {
	select {
	case <-su.stopChan:
	case su.updateChan <- metricsUpdate{name: name, value: -1}:
	default:
	}
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

func (su *StatsUpdater) Stop() {
	su.stopOnce.Do(func() {
		close(su.stopChan)
	})
}
