package app_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/d9705996/statusbridge/internal/app"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapSeverity(t *testing.T) {
	cases := map[app.Severity]app.ComponentStatus{
		app.SeverityOK:            app.ComponentOperational,
		app.SeverityNotClassified: app.ComponentUnknown,
		app.SeverityInformation:   app.ComponentOperational,
		app.SeverityWarning:       app.ComponentPerformanceIssues,
		app.SeverityAverage:       app.ComponentPartialOutage,
		app.SeverityHigh:          app.ComponentMajorOutage,
		app.SeverityDisaster:      app.ComponentMajorOutage,
		app.Severity(42):          app.ComponentUnknown,
	}
	for in, want := range cases {
		t.Run(fmt.Sprintf("severity_%d", in), func(t *testing.T) {
			assert.Equal(t, want, app.MapSeverity(in))
			assert.Equal(t, want, app.MapSeverity(in), "must be deterministic")
		})
	}
}

func TestComponentStatusForPriority(t *testing.T) {
	assert.Equal(t, app.ComponentMajorOutage, app.ComponentStatusForPriority(app.SeverityDisaster))
	assert.Equal(t, app.ComponentMajorOutage, app.ComponentStatusForPriority(app.SeverityHigh))
	assert.Equal(t, app.ComponentMajorOutage, app.ComponentStatusForPriority(app.Severity(9)))
	assert.Equal(t, app.ComponentPartialOutage, app.ComponentStatusForPriority(app.SeverityAverage))
	assert.Equal(t, app.ComponentPerformanceIssues, app.ComponentStatusForPriority(app.SeverityWarning))
	assert.Equal(t, app.ComponentPerformanceIssues, app.ComponentStatusForPriority(app.SeverityInformation))
	assert.Equal(t, app.ComponentPerformanceIssues, app.ComponentStatusForPriority(app.SeverityNotClassified))
}

func TestMapping_EqualAndImmutable(t *testing.T) {
	entries := []app.MappingEntry{
		{TriggerID: "100", ComponentID: 1, ComponentName: "api"},
		{ServiceID: "7", ComponentID: 2, ComponentName: "db", GroupID: 3, GroupName: "core"},
	}
	m1 := app.NewMapping(entries)
	m2 := app.NewMapping(entries)
	assert.True(t, m1.Equal(m2))
	assert.Equal(t, 1, m1.Watched())

	entries[0].ComponentID = 99
	assert.Equal(t, 1, m1.Entries()[0].ComponentID, "snapshot must not alias caller slice")

	got := m1.Entries()
	got[1].GroupName = "changed"
	assert.True(t, m1.Equal(m2), "Entries must return a copy")

	reordered := app.NewMapping([]app.MappingEntry{entries[1], entries[0]})
	assert.False(t, m2.Equal(reordered))
	assert.True(t, app.Mapping{}.Empty())
}

func TestIncident_Unresolved(t *testing.T) {
	assert.True(t, app.Incident{Status: app.IncidentInvestigating, Message: "down"}.Unresolved())
	assert.False(t, app.Incident{Status: app.IncidentFixed, Message: "down"}.Unresolved())
	assert.False(t, app.Incident{Status: app.IncidentIdentified, Message: "__Resolved__ down"}.Unresolved())
}

func TestComponentUpdate_Apply(t *testing.T) {
	c := app.Component{ID: 1, Name: "api", Link: "http://x", Status: app.ComponentMajorOutage}
	got := app.SetStatus(app.ComponentOperational).Apply(c)
	assert.Equal(t, app.ComponentOperational, got.Status)
	assert.Equal(t, "http://x", got.Link)
	assert.Equal(t, "api", got.Name)
}

func TestIncidentUpdate_Apply(t *testing.T) {
	inc := app.Incident{ID: 5, Name: "n", Message: "m", Status: app.IncidentInvestigating}
	u := app.IncidentUpdate{Message: app.Ptr("m2"), Status: app.Ptr(app.IncidentIdentified)}
	got := u.Apply(inc)
	assert.Equal(t, "m2", got.Message)
	assert.Equal(t, app.IncidentIdentified, got.Status)
	assert.Equal(t, "n", got.Name)
	assert.False(t, u.IsEmpty())
	assert.True(t, app.IncidentUpdate{}.IsEmpty())
}

func TestErrorTaxonomy(t *testing.T) {
	remote := app.Remote("trigger.get", errors.New("boom"))
	require.Error(t, remote)
	assert.ErrorIs(t, remote, app.ErrTransientRemote)
	assert.Nil(t, app.Remote("noop", nil))

	cfg := &app.ConfigurationError{Reason: "root missing", Err: app.ErrRootNotFound}
	assert.ErrorIs(t, cfg, app.ErrConfiguration)
	assert.ErrorIs(t, cfg, app.ErrRootNotFound)

	wrapped := fmt.Errorf("sync: %w", &app.PartialDataError{EntityID: "1", Reason: app.ReasonZeroTrigger})
	assert.ErrorIs(t, wrapped, app.ErrPartialData)
	var pd *app.PartialDataError
	require.ErrorAs(t, wrapped, &pd)
	assert.Equal(t, app.ReasonZeroTrigger, pd.Reason)

	assert.ErrorIs(t, &app.UnexpectedError{Value: "panic"}, app.ErrUnexpected)
}
