package app

import "context"

// Monitoring is the read side: the monitoring source.
type Monitoring interface {
	// Version doubles as the reachability probe.
	Version(ctx context.Context) (string, error)
	Trigger(ctx context.Context, id string) (Trigger, error)
	// LatestEvent returns nil, nil when the trigger has no problem event.
	LatestEvent(ctx context.Context, triggerID string) (*Event, error)
	// ServiceTree returns the two-level tree below root (the whole tree when
	// root is empty). ErrRootNotFound reports a missing named root.
	ServiceTree(ctx context.Context, root string) ([]MonitoringEntity, error)
}

// StatusPage is the write side: the status-page system.
type StatusPage interface {
	Component(ctx context.Context, id int) (Component, error)
	FindComponentsByName(ctx context.Context, name string) ([]Component, error)
	// FindComponentGroupByName returns nil, nil when no group matches.
	FindComponentGroupByName(ctx context.Context, name string) (*ComponentGroup, error)
	CreateComponent(ctx context.Context, f ComponentFields) (Component, error)
	// UpdateComponent reads the current record, applies u and writes it back.
	UpdateComponent(ctx context.Context, id int, u ComponentUpdate) (Component, error)
	CreateComponentGroup(ctx context.Context, name string) (ComponentGroup, error)
	// FindUnresolvedIncident returns nil, nil when the component has no
	// unresolved incident.
	FindUnresolvedIncident(ctx context.Context, componentID int) (*Incident, error)
	CreateIncident(ctx context.Context, f IncidentFields) (Incident, error)
	UpdateIncident(ctx context.Context, id int, u IncidentUpdate) (Incident, error)
}

// Recorder receives journal records of status-page mutations.
type Recorder interface {
	Record(ctx context.Context, a Action) error
}
