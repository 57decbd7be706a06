// Package metrics records gameplay counters to OpenTelemetry and keeps an
// in-memory copy for the status API.
package metrics

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "habitat/internal/metrics"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Snapshot is the in-memory view served on /api/stats.
type Snapshot struct {
	SessionsCreated   uint64            `json:"sessions_created"`
	SessionsClosed    uint64            `json:"sessions_closed"`
	AreasPlaced       uint64            `json:"areas_placed"`
	IncidentsFired    uint64            `json:"incidents_triggered"`
	IncidentsResolved uint64            `json:"incidents_resolved"`
	MissionsCompleted uint64            `json:"missions_completed"`
	Rejections        map[string]uint64 `json:"rejections"`
}

// Recorder counts gameplay activity. A nil *Recorder discards everything.
type Recorder struct {
	mu   sync.Mutex
	snap Snapshot

	sessions  metric.Int64Counter
	areas     metric.Int64Counter
	incidents metric.Int64Counter
	missions  metric.Int64Counter
	rejected  metric.Int64Counter
}

// NewRecorder registers the counters on the global meter provider.
func NewRecorder() (*Recorder, error) {
	m := meter()
	r := &Recorder{snap: Snapshot{Rejections: map[string]uint64{}}}

	var err error
	if r.sessions, err = m.Int64Counter("habitat.sessions", metric.WithDescription("Sessions opened and closed")); err != nil {
		return nil, fmt.Errorf("creating sessions counter: %w", err)
	}
	if r.areas, err = m.Int64Counter("habitat.areas.placed", metric.WithDescription("Areas placed on habitat grids")); err != nil {
		return nil, fmt.Errorf("creating areas counter: %w", err)
	}
	if r.incidents, err = m.Int64Counter("habitat.incidents", metric.WithDescription("Incidents triggered and resolved")); err != nil {
		return nil, fmt.Errorf("creating incidents counter: %w", err)
	}
	if r.missions, err = m.Int64Counter("habitat.missions.completed", metric.WithDescription("Missions completed")); err != nil {
		return nil, fmt.Errorf("creating missions counter: %w", err)
	}
	if r.rejected, err = m.Int64Counter("habitat.commands.rejected", metric.WithDescription("Commands rejected by reason")); err != nil {
		return nil, fmt.Errorf("creating rejections counter: %w", err)
	}
	return r, nil
}

// ObserveSessions registers a gauge reporting live sessions through fn.
func (r *Recorder) ObserveSessions(fn func() int64) error {
	if r == nil {
		return nil
	}
	gauge, err := meter().Int64ObservableGauge("habitat.sessions.active",
		metric.WithDescription("Live sessions"))
	if err != nil {
		return fmt.Errorf("creating sessions gauge: %w", err)
	}
	_, err = meter().RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, fn())
		return nil
	}, gauge)
	if err != nil {
		return fmt.Errorf("registering sessions callback: %w", err)
	}
	return nil
}

func (r *Recorder) SessionCreated() {
	if r == nil {
		return
	}
	r.sessions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("state", "created")))
	r.mu.Lock()
	r.snap.SessionsCreated++
	r.mu.Unlock()
}

func (r *Recorder) SessionClosed() {
	if r == nil {
		return
	}
	r.sessions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("state", "closed")))
	r.mu.Lock()
	r.snap.SessionsClosed++
	r.mu.Unlock()
}

func (r *Recorder) AreaPlaced(areaType string) {
	if r == nil {
		return
	}
	r.areas.Add(context.Background(), 1, metric.WithAttributes(attribute.String("area", areaType)))
	r.mu.Lock()
	r.snap.AreasPlaced++
	r.mu.Unlock()
}

func (r *Recorder) IncidentTriggered(eventType string) {
	if r == nil {
		return
	}
	r.incidents.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", eventType), attribute.String("state", "triggered")))
	r.mu.Lock()
	r.snap.IncidentsFired++
	r.mu.Unlock()
}

func (r *Recorder) IncidentResolved(eventType string, manual bool) {
	if r == nil {
		return
	}
	r.incidents.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", eventType), attribute.String("state", "resolved"), attribute.Bool("manual", manual)))
	r.mu.Lock()
	r.snap.IncidentsResolved++
	r.mu.Unlock()
}

func (r *Recorder) MissionCompleted(missionID string) {
	if r == nil {
		return
	}
	r.missions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("mission", missionID)))
	r.mu.Lock()
	r.snap.MissionsCompleted++
	r.mu.Unlock()
}

func (r *Recorder) Rejected(command, reason string) {
	if r == nil {
		return
	}
	r.rejected.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("command", command), attribute.String("reason", reason)))
	r.mu.Lock()
	r.snap.Rejections[reason]++
	r.mu.Unlock()
}

// Snapshot returns a copy of the in-memory counters.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{Rejections: map[string]uint64{}}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.snap
	out.Rejections = make(map[string]uint64, len(r.snap.Rejections))
	for k, v := range r.snap.Rejections {
		out.Rejections[k] = v
	}
	return out
}
