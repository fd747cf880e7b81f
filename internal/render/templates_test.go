package render_test

import (
	"testing"
	"time"

	"github.com/d9705996/statusbridge/internal/app"
	"github.com/d9705996/statusbridge/internal/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcknowledgement_DefaultLegacyTemplate(t *testing.T) {
	tmpl, err := render.New(render.Sources{}, time.UTC)
	require.NoError(t, err)

	got, err := tmpl.Acknowledgement(app.Acknowledgment{
		Author:  "Jane Doe",
		Message: "looking into it",
		Clock:   time.Date(2024, time.March, 5, 14, 7, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "looking into it\n\n###### Mar 05, 14:07 by Jane Doe\n\n______\n", got)
}

func TestInvestigating_GoTemplateWithSprig(t *testing.T) {
	tmpl, err := render.New(render.Sources{
		Investigating: "{{ .group | upper }}/{{ .component }} at {{ .time }}: {{ .trigger_name }} ({{ .trigger_description }})",
	}, time.UTC)
	require.NoError(t, err)
	require.True(t, tmpl.HasInvestigating())

	got, err := tmpl.Investigating(render.InvestigatingData{
		Group:     "core",
		Component: "api",
		EventTime: time.Date(2024, time.January, 2, 3, 4, 0, 0, time.UTC),
		Trigger:   app.Trigger{Description: "API down", Comments: "check lb"},
	})
	require.NoError(t, err)
	assert.Equal(t, "CORE/api at Jan 02, 03:04: API down (check lb)", got)
}

func TestResolving_EmptyTemplateRendersNothing(t *testing.T) {
	tmpl, err := render.New(render.Sources{}, nil)
	require.NoError(t, err)
	got, err := tmpl.Resolving(time.Now())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.False(t, tmpl.HasInvestigating())
}

func TestResolving_LegacyPlaceholder(t *testing.T) {
	tmpl, err := render.New(render.Sources{Resolving: "__Resolved__ at {time}\n\n"}, time.UTC)
	require.NoError(t, err)
	got, err := tmpl.Resolving(time.Date(2024, time.December, 31, 23, 59, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "__Resolved__ at Dec 31, 23:59\n\n", got)
}

func TestFormatTime_Location(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	tmpl, err := render.New(render.Sources{}, loc)
	require.NoError(t, err)
	assert.Equal(t, "Jun 01, 12:00", tmpl.FormatTime(time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)))
	assert.Empty(t, tmpl.FormatTime(time.Time{}))
}

func TestNew_InvalidTemplate(t *testing.T) {
	_, err := render.New(render.Sources{Investigating: "{{ .group "}, time.UTC)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "investigating")
}

func TestResolving_LegacyEscapedBraces(t *testing.T) {
	tmpl, err := render.New(render.Sources{Resolving: "{{fixed}} at {time} {{{time}}}"}, time.UTC)
	require.NoError(t, err)
	got, err := tmpl.Resolving(time.Date(2024, time.May, 10, 12, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "{fixed} at May 10, 12:30 {May 10, 12:30}", got)
}

func TestNew_TemplateSyntaxDetection(t *testing.T) {
	ts := time.Date(2024, time.May, 10, 12, 30, 0, 0, time.UTC)
	cases := map[string]struct {
		src  string
		want string
	}{
		"field":          {src: "{{.time}}", want: "May 10, 12:30"},
		"spaced":         {src: "{{ .time }}", want: "May 10, 12:30"},
		"trim":           {src: "x {{- .time}}", want: "xMay 10, 12:30"},
		"function call":  {src: "{{upper .time}}", want: "MAY 10, 12:30"},
		"comment":        {src: "{{/* note */}}at {time}", want: "at {time}"},
		"legacy literal": {src: "{{json}} {time}", want: "{json} May 10, 12:30"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			tmpl, err := render.New(render.Sources{Resolving: tc.src}, time.UTC)
			require.NoError(t, err)
			got, err := tmpl.Resolving(ts)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
