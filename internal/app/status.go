package app

import "strings"

var severityToComponent = map[Severity]ComponentStatus{
	SeverityOK:            ComponentOperational,
	SeverityNotClassified: ComponentUnknown,
	SeverityInformation:   ComponentOperational,
	SeverityWarning:       ComponentPerformanceIssues,
	SeverityAverage:       ComponentPartialOutage,
	SeverityHigh:          ComponentMajorOutage,
	SeverityDisaster:      ComponentMajorOutage,
}

// MapSeverity converts a monitoring severity into a component status.
// Unknown severities map to ComponentUnknown.
func MapSeverity(s Severity) ComponentStatus {
	if cs, ok := severityToComponent[s]; ok {
		return cs
	}
	return ComponentUnknown
}

// ComponentStatusForPriority is the component status applied while a trigger
// of the given priority is in problem state. Anything below Average is
// reported as a performance issue.
func ComponentStatusForPriority(p Severity) ComponentStatus {
	switch {
	case p >= SeverityHigh:
		return MapSeverity(SeverityHigh)
	case p == SeverityAverage:
		return MapSeverity(SeverityAverage)
	default:
		return MapSeverity(SeverityWarning)
	}
}

func containsMarker(msg string) bool {
	return strings.Contains(msg, ResolvedMarker)
}
