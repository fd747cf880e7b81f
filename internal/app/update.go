package app

// ComponentUpdate is a partial component update. Nil fields are left
// untouched when merged against the current record.
type ComponentUpdate struct {
	Name        *string
	Description *string
	Link        *string
	GroupID     *int
	Status      *ComponentStatus
}

// Apply merges u onto c and returns the result.
func (u ComponentUpdate) Apply(c Component) Component {
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Description != nil {
		c.Description = *u.Description
	}
	if u.Link != nil {
		c.Link = *u.Link
	}
	if u.GroupID != nil {
		c.GroupID = *u.GroupID
	}
	if u.Status != nil {
		c.Status = *u.Status
	}
	return c
}

// SetStatus is shorthand for a status-only component update.
func SetStatus(s ComponentStatus) ComponentUpdate {
	return ComponentUpdate{Status: &s}
}

// IncidentUpdate is a partial incident update. ComponentStatus is carried
// along so callers can mirror it onto the incident's component.
type IncidentUpdate struct {
	Name            *string
	Message         *string
	Status          *IncidentStatus
	ComponentStatus *ComponentStatus
}

// Apply merges u onto inc and returns the result.
func (u IncidentUpdate) Apply(inc Incident) Incident {
	if u.Name != nil {
		inc.Name = *u.Name
	}
	if u.Message != nil {
		inc.Message = *u.Message
	}
	if u.Status != nil {
		inc.Status = *u.Status
	}
	return inc
}

// IsEmpty reports whether u changes nothing.
func (u IncidentUpdate) IsEmpty() bool {
	return u.Name == nil && u.Message == nil && u.Status == nil && u.ComponentStatus == nil
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
