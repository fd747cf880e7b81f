// Package app holds the domain types shared by the topology synchronizer,
// the incident engine and the watcher, plus the client interfaces they
// consume.
package app

import "time"

// Severity is a monitoring severity / trigger priority.
type Severity int

const (
	SeverityOK            Severity = -1
	SeverityNotClassified Severity = 0
	SeverityInformation   Severity = 1
	SeverityWarning       Severity = 2
	SeverityAverage       Severity = 3
	SeverityHigh          Severity = 4
	SeverityDisaster      Severity = 5
)

// ComponentStatus is the status of a status-page component.
type ComponentStatus int

const (
	ComponentOperational       ComponentStatus = 1
	ComponentPerformanceIssues ComponentStatus = 2
	ComponentPartialOutage     ComponentStatus = 3
	ComponentMajorOutage       ComponentStatus = 4
	ComponentUnknown           ComponentStatus = 5
)

func (s ComponentStatus) String() string {
	switch s {
	case ComponentOperational:
		return "operational"
	case ComponentPerformanceIssues:
		return "performance_issues"
	case ComponentPartialOutage:
		return "partial_outage"
	case ComponentMajorOutage:
		return "major_outage"
	default:
		return "unknown"
	}
}

// IncidentStatus is the status of a status-page incident.
type IncidentStatus int

const (
	IncidentReported      IncidentStatus = 0
	IncidentInvestigating IncidentStatus = 1
	IncidentIdentified    IncidentStatus = 2
	IncidentWatching      IncidentStatus = 3
	IncidentFixed         IncidentStatus = 4
)

func (s IncidentStatus) String() string {
	switch s {
	case IncidentReported:
		return "reported"
	case IncidentInvestigating:
		return "investigating"
	case IncidentIdentified:
		return "identified"
	case IncidentWatching:
		return "watching"
	case IncidentFixed:
		return "fixed"
	default:
		return "unknown"
	}
}

// TriggerValue is the problem state of a trigger.
type TriggerValue int

const (
	TriggerInactive TriggerValue = 0
	TriggerActive   TriggerValue = 1
)

// ResolvedMarker flags an incident message as resolved. Resolving templates
// are expected to contain it.
const ResolvedMarker = "__Resolved__"

// ProblemTag is a tag filter attached to a monitoring service.
type ProblemTag struct {
	Tag   string
	Value string
}

// MonitoringEntity is a node of the monitoring service tree.
type MonitoringEntity struct {
	ID          string
	Name        string
	Children    []MonitoringEntity
	TriggerID   *string // nil when the service carries no trigger reference at all
	ProblemTags []ProblemTag
	Severity    Severity
}

// Trigger is a monitoring condition.
type Trigger struct {
	ID          string
	Description string
	Comments    string
	URL         string
	Value       TriggerValue
	Priority    Severity
}

// Acknowledgment is an operator note attached to an event.
type Acknowledgment struct {
	Author  string
	Message string
	Clock   time.Time
}

// Event is an occurrence of a trigger going into problem state.
type Event struct {
	TriggerID       string
	Clock           time.Time
	Acknowledged    bool
	Acknowledgments []Acknowledgment
}

// ComponentGroup groups components on the status page.
type ComponentGroup struct {
	ID   int
	Name string
}

// Component is a status-page component. GroupID is 0 for ungrouped components.
type Component struct {
	ID          int
	Name        string
	Description string
	Link        string
	GroupID     int
	Status      ComponentStatus
}

// ComponentFields are the fields used to create a component.
type ComponentFields struct {
	Name        string
	Description string
	Link        string
	GroupID     int
	Status      ComponentStatus
}

// Incident is a status-page incident bound to one component.
type Incident struct {
	ID          int
	ComponentID int
	Name        string
	Status      IncidentStatus
	Message     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Unresolved reports whether the incident still counts as open.
func (i Incident) Unresolved() bool {
	return i.Status != IncidentFixed && !containsMarker(i.Message)
}

// IncidentFields are the fields used to open an incident.
type IncidentFields struct {
	Name            string
	Message         string
	Status          IncidentStatus
	ComponentID     int
	ComponentStatus ComponentStatus
}

// ActionKind names a mutation applied to the status page.
type ActionKind string

const (
	ActionIncidentOpened   ActionKind = "incident_opened"
	ActionIncidentUpdated  ActionKind = "incident_updated"
	ActionIncidentResolved ActionKind = "incident_resolved"
	ActionComponentStatus  ActionKind = "component_status"
	ActionComponentCreated ActionKind = "component_created"
	ActionGroupCreated     ActionKind = "group_created"
)

// Action is a journal record of one status-page mutation.
type Action struct {
	Kind        ActionKind
	ComponentID int
	IncidentID  int
	TriggerID   string
	Detail      string
	At          time.Time
}
