// Package apptest provides in-memory Monitoring and StatusPage fakes for tests.
package apptest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/d9705996/statusbridge/internal/app"
)

var errInjected = errors.New("injected failure")

// Monitoring is an in-memory app.Monitoring.
type Monitoring struct {
	mu          sync.Mutex
	VersionErr  error
	Triggers    map[string]app.Trigger
	Events      map[string]*app.Event
	Tree        []app.MonitoringEntity
	TreeErr     error
	FailTrigger map[string]bool
	FailEvent   map[string]bool
	Calls       map[string]int
}

// NewMonitoring returns an empty, reachable fake.
func NewMonitoring() *Monitoring {
	return &Monitoring{
		Triggers:    map[string]app.Trigger{},
		Events:      map[string]*app.Event{},
		FailTrigger: map[string]bool{},
		FailEvent:   map[string]bool{},
		Calls:       map[string]int{},
	}
}

func (m *Monitoring) count(op string) {
	m.Calls[op]++
}

// SetTrigger stores t.
func (m *Monitoring) SetTrigger(t app.Trigger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Triggers[t.ID] = t
}

// SetEvent stores the latest event for triggerID; nil removes it.
func (m *Monitoring) SetEvent(triggerID string, ev *app.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev == nil {
		delete(m.Events, triggerID)
		return
	}
	m.Events[triggerID] = ev
}

// SetReachable toggles the Version probe.
func (m *Monitoring) SetReachable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.VersionErr = nil
		return
	}
	m.VersionErr = app.Remote("apiinfo.version", errInjected)
}

// CallCount returns how many times op was invoked.
func (m *Monitoring) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[op]
}

func (m *Monitoring) Version(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("version")
	if m.VersionErr != nil {
		return "", m.VersionErr
	}
	return "7.0.0", nil
}

func (m *Monitoring) Trigger(_ context.Context, id string) (app.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("trigger")
	if m.FailTrigger[id] {
		return app.Trigger{}, app.Remote("trigger.get", errInjected)
	}
	t, ok := m.Triggers[id]
	if !ok {
		return app.Trigger{}, app.Remote("trigger.get", fmt.Errorf("trigger %s: %w", id, app.ErrNotFound))
	}
	return t, nil
}

func (m *Monitoring) LatestEvent(_ context.Context, triggerID string) (*app.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("event")
	if m.FailEvent[triggerID] {
		return nil, app.Remote("event.get", errInjected)
	}
	ev, ok := m.Events[triggerID]
	if !ok {
		return nil, nil
	}
	cp := *ev
	return &cp, nil
}

func (m *Monitoring) ServiceTree(_ context.Context, _ string) ([]app.MonitoringEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("tree")
	if m.TreeErr != nil {
		return nil, m.TreeErr
	}
	return m.Tree, nil
}

// StatusPage is an in-memory app.StatusPage that counts writes.
type StatusPage struct {
	mu         sync.Mutex
	nextID     int
	Components map[int]app.Component
	Groups     map[int]app.ComponentGroup
	Incidents  map[int]app.Incident
	Writes     map[string]int
	FailWrites bool
	Now        func() time.Time
}

// NewStatusPage returns an empty fake.
func NewStatusPage() *StatusPage {
	return &StatusPage{
		Components: map[int]app.Component{},
		Groups:     map[int]app.ComponentGroup{},
		Incidents:  map[int]app.Incident{},
		Writes:     map[string]int{},
		Now:        time.Now,
	}
}

func (s *StatusPage) id() int {
	s.nextID++
	return s.nextID
}

func (s *StatusPage) write(op string) error {
	if s.FailWrites {
		return app.Remote(op, errInjected)
	}
	s.Writes[op]++
	return nil
}

// TotalWrites sums every write operation.
func (s *StatusPage) TotalWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.Writes {
		n += c
	}
	return n
}

// WriteCount returns the number of op writes.
func (s *StatusPage) WriteCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Writes[op]
}

// AddComponent seeds a component and returns it with its id.
func (s *StatusPage) AddComponent(c app.Component) app.Component {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id()
	s.Components[c.ID] = c
	return c
}

// AddIncident seeds an incident and returns it with its id.
func (s *StatusPage) AddIncident(inc app.Incident) app.Incident {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc.ID = s.id()
	s.Incidents[inc.ID] = inc
	return inc
}

// ComponentByID returns the stored component.
func (s *StatusPage) ComponentByID(id int) app.Component {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Components[id]
}

// IncidentsFor returns every incident of a component, in id order.
func (s *StatusPage) IncidentsFor(componentID int) []app.Incident {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []app.Incident
	for id := 1; id <= s.nextID; id++ {
		if inc, ok := s.Incidents[id]; ok && inc.ComponentID == componentID {
			out = append(out, inc)
		}
	}
	return out
}

func (s *StatusPage) Component(_ context.Context, id int) (app.Component, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Components[id]
	if !ok {
		return app.Component{}, app.Remote("components.get", app.ErrNotFound)
	}
	return c, nil
}

func (s *StatusPage) FindComponentsByName(_ context.Context, name string) ([]app.Component, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []app.Component
	for id := 1; id <= s.nextID; id++ {
		if c, ok := s.Components[id]; ok && c.Name == name {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *StatusPage) FindComponentGroupByName(_ context.Context, name string) (*app.ComponentGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := 1; id <= s.nextID; id++ {
		if g, ok := s.Groups[id]; ok && g.Name == name {
			return &g, nil
		}
	}
	return nil, nil
}

func (s *StatusPage) CreateComponent(_ context.Context, f app.ComponentFields) (app.Component, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write("component.create"); err != nil {
		return app.Component{}, err
	}
	c := app.Component{ID: s.id(), Name: f.Name, Description: f.Description, Link: f.Link, GroupID: f.GroupID, Status: f.Status}
	s.Components[c.ID] = c
	return c, nil
}

func (s *StatusPage) UpdateComponent(_ context.Context, id int, u app.ComponentUpdate) (app.Component, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Components[id]
	if !ok {
		return app.Component{}, app.Remote("components.update", app.ErrNotFound)
	}
	if err := s.write("component.update"); err != nil {
		return app.Component{}, err
	}
	c = u.Apply(c)
	s.Components[id] = c
	return c, nil
}

func (s *StatusPage) CreateComponentGroup(_ context.Context, name string) (app.ComponentGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write("group.create"); err != nil {
		return app.ComponentGroup{}, err
	}
	g := app.ComponentGroup{ID: s.id(), Name: name}
	s.Groups[g.ID] = g
	return g, nil
}

func (s *StatusPage) FindUnresolvedIncident(_ context.Context, componentID int) (*app.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := 1; id <= s.nextID; id++ {
		if inc, ok := s.Incidents[id]; ok && inc.ComponentID == componentID && inc.Unresolved() {
			return &inc, nil
		}
	}
	return nil, nil
}

func (s *StatusPage) CreateIncident(_ context.Context, f app.IncidentFields) (app.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write("incident.create"); err != nil {
		return app.Incident{}, err
	}
	now := s.Now()
	inc := app.Incident{
		ID:          s.id(),
		ComponentID: f.ComponentID,
		Name:        f.Name,
		Status:      f.Status,
		Message:     f.Message,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.Incidents[inc.ID] = inc
	return inc, nil
}

func (s *StatusPage) UpdateIncident(_ context.Context, id int, u app.IncidentUpdate) (app.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.Incidents[id]
	if !ok {
		return app.Incident{}, app.Remote("incidents.update", app.ErrNotFound)
	}
	if err := s.write("incident.update"); err != nil {
		return app.Incident{}, err
	}
	inc = u.Apply(inc)
	inc.UpdatedAt = s.Now()
	s.Incidents[id] = inc
	return inc, nil
}

// Recorder collects journal actions.
type Recorder struct {
	mu      sync.Mutex
	Actions []app.Action
}

func (r *Recorder) Record(_ context.Context, a app.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Actions = append(r.Actions, a)
	return nil
}

// Kinds returns the recorded action kinds in order.
func (r *Recorder) Kinds() []app.ActionKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]app.ActionKind, 0, len(r.Actions))
	for _, a := range r.Actions {
		out = append(out, a.Kind)
	}
	return out
}
