package sinks

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/realtime-status-stream/internal/channel"
	"github.com/JakeFAU/realtime-status-stream/internal/status"
)

const scopeLabel = "scope_id"

// PrometheusSink exports channel health and status traffic via Prometheus. It
// owns collectors for connection lifecycle, reconnect scheduling, and
// per-phase event counters, all partitioned by scope. Managers report through
// the ScopeSink returned by ForScope.
type PrometheusSink struct {
	connects        *prometheus.CounterVec
	disconnects     *prometheus.CounterVec
	transportErrors *prometheus.CounterVec
	connState       *prometheus.GaugeVec

	reconnects     *prometheus.CounterVec
	reconnectDelay *prometheus.HistogramVec
	exhausted      *prometheus.CounterVec

	events         *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	activeEntities *prometheus.GaugeVec

	mu     sync.Mutex
	scopes map[string]*ScopeSink
}

var connectionStates = []channel.ConnectionState{
	channel.StateDisconnected,
	channel.StateConnecting,
	channel.StateConnected,
	channel.StateError,
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "status_channel_connects_total",
			Help: "Total successful channel opens.",
		}, []string{scopeLabel}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "status_channel_disconnects_total",
			Help: "Channel closes partitioned by normal or abnormal closure.",
		}, []string{scopeLabel, "kind"}),
		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "status_channel_errors_total",
			Help: "Transport-level errors reported by the channel.",
		}, []string{scopeLabel}),
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "status_channel_state",
			Help: "1 for the current connection state, 0 otherwise.",
		}, []string{scopeLabel, "state"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "status_channel_reconnects_scheduled_total",
			Help: "Reconnect attempts scheduled after abnormal closes.",
		}, []string{scopeLabel}),
		reconnectDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "status_channel_reconnect_delay_seconds",
			Help:    "Backoff delay chosen for each scheduled reconnect.",
			Buckets: []float64{1, 2, 4, 8, 16, 30},
		}, []string{scopeLabel}),
		exhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "status_channel_reconnects_exhausted_total",
			Help: "Times the reconnect budget ran out.",
		}, []string{scopeLabel}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "status_events_total",
			Help: "Status events accepted, partitioned by phase and status.",
		}, []string{scopeLabel, "phase", "status"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "status_events_dropped_total",
			Help: "Inbound messages discarded as malformed.",
		}, []string{scopeLabel}),
		activeEntities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "status_entities_active",
			Help: "Entities whose most recent publish has started but not finished.",
		}, []string{scopeLabel}),
		scopes: make(map[string]*ScopeSink),
	}
	for _, collector := range []prometheus.Collector{
		s.connects,
		s.disconnects,
		s.transportErrors,
		s.connState,
		s.reconnects,
		s.reconnectDelay,
		s.exhausted,
		s.events,
		s.dropped,
		s.activeEntities,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register status collector: %w", err)
		}
	}
	return s, nil
}

// ForScope returns the sink for scopeID, creating its series on first use.
func (s *PrometheusSink) ForScope(scopeID string) *ScopeSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scope, ok := s.scopes[scopeID]; ok {
		return scope
	}
	scope := &ScopeSink{
		parent:  s,
		scopeID: scopeID,
		tracker: newEntityTracker(),
	}
	s.scopes[scopeID] = scope
	scope.StateChanged(channel.StateDisconnected)
	return scope
}

// Forget drops every series and the entity tracker for scopeID. Later
// notifications from the forgotten ScopeSink are ignored.
func (s *PrometheusSink) Forget(scopeID string) {
	s.mu.Lock()
	scope, ok := s.scopes[scopeID]
	delete(s.scopes, scopeID)
	s.mu.Unlock()
	if !ok {
		return
	}
	scope.closed.Store(true)
	labels := prometheus.Labels{scopeLabel: scopeID}
	s.connects.DeletePartialMatch(labels)
	s.disconnects.DeletePartialMatch(labels)
	s.transportErrors.DeletePartialMatch(labels)
	s.connState.DeletePartialMatch(labels)
	s.reconnects.DeletePartialMatch(labels)
	s.reconnectDelay.DeletePartialMatch(labels)
	s.exhausted.DeletePartialMatch(labels)
	s.events.DeletePartialMatch(labels)
	s.dropped.DeletePartialMatch(labels)
	s.activeEntities.DeletePartialMatch(labels)
}

// ScopeSink reports one scope's channel into its parent PrometheusSink.
type ScopeSink struct {
	parent  *PrometheusSink
	scopeID string
	tracker *entityTracker
	closed  atomic.Bool
}

var (
	_ channel.Listener = (*ScopeSink)(nil)
	_ channel.Observer = (*ScopeSink)(nil)
)

// OnConnect counts a successful open.
func (s *ScopeSink) OnConnect() {
	if s.closed.Load() {
		return
	}
	s.parent.connects.WithLabelValues(s.scopeID).Inc()
}

// OnDisconnect counts a close by kind.
func (s *ScopeSink) OnDisconnect(code int) {
	if s.closed.Load() {
		return
	}
	kind := "abnormal"
	if code == channel.CloseNormal {
		kind = "normal"
	}
	s.parent.disconnects.WithLabelValues(s.scopeID, kind).Inc()
}

// OnError counts a transport failure.
func (s *ScopeSink) OnError(error) {
	if s.closed.Load() {
		return
	}
	s.parent.transportErrors.WithLabelValues(s.scopeID).Inc()
}

// OnStatusUpdate updates event counters and the active-entity gauge.
func (s *ScopeSink) OnStatusUpdate(evt status.Event) {
	if s.closed.Load() {
		return
	}
	s.parent.events.WithLabelValues(s.scopeID, string(evt.Phase), string(evt.Status)).Inc()
	active := s.parent.activeEntities.WithLabelValues(s.scopeID)
	switch {
	case evt.Phase == status.PhasePublishing && evt.Status == status.StatusStarted:
		if s.tracker.start(evt.EntityID) {
			active.Inc()
		}
	case evt.Phase.Terminal():
		if s.tracker.complete(evt.EntityID) {
			active.Dec()
		}
	}
}

// StateChanged flips the state gauge so exactly one label reads 1.
func (s *ScopeSink) StateChanged(state channel.ConnectionState) {
	if s.closed.Load() {
		return
	}
	for _, candidate := range connectionStates {
		value := 0.0
		if candidate == state {
			value = 1
		}
		s.parent.connState.WithLabelValues(s.scopeID, string(candidate)).Set(value)
	}
}

// MessageDropped counts a malformed inbound message.
func (s *ScopeSink) MessageDropped(error) {
	if s.closed.Load() {
		return
	}
	s.parent.dropped.WithLabelValues(s.scopeID).Inc()
}

// ReconnectScheduled records the chosen backoff.
func (s *ScopeSink) ReconnectScheduled(_ int, delay time.Duration) {
	if s.closed.Load() {
		return
	}
	s.parent.reconnects.WithLabelValues(s.scopeID).Inc()
	s.parent.reconnectDelay.WithLabelValues(s.scopeID).Observe(delay.Seconds())
}

// ReconnectExhausted counts a spent reconnect budget.
func (s *ScopeSink) ReconnectExhausted() {
	if s.closed.Load() {
		return
	}
	s.parent.exhausted.WithLabelValues(s.scopeID).Inc()
}

type entityTracker struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newEntityTracker() *entityTracker {
	return &entityTracker{active: make(map[string]struct{})}
}

func (t *entityTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; ok {
		return false
	}
	t.active[id] = struct{}{}
	return true
}

func (t *entityTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; !ok {
		return false
	}
	delete(t.active, id)
	return true
}
