// Package render turns acknowledgment, investigating and resolving message
// templates into incident text.
//
// Templates are text/template sources with the sprig function map. Older
// configurations written with single-brace placeholders ("{author}") are
// accepted too. A source is read as text/template when it holds an action
// such as "{{.author}}", "{{ .author }}", "{{- ...", "{{$x}}", "{{/* */}}"
// or a call with arguments ("{{upper .author}}"). Anything else is a legacy
// source, where "{{" and "}}" are escaped literal braces.
package render

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/d9705996/statusbridge/internal/app"
)

// TimeLayout is the layout used for every timestamp rendered into a message.
const TimeLayout = "Jan 02, 15:04"

// DefaultAcknowledgement is used when no acknowledgement template is configured.
const DefaultAcknowledgement = "{message}\n\n###### {ack_time} by {author}\n\n______\n"

var (
	goAction    = regexp.MustCompile(`\{\{(?:[-.$\s]|/\*|[A-Za-z_]\w*\s)`)
	legacyToken = regexp.MustCompile(`\{\{|\}\}|\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)
)

// Templates holds the parsed message templates. A nil template renders as "".
type Templates struct {
	ack           *template.Template
	investigating *template.Template
	resolving     *template.Template
	loc           *time.Location
}

// Sources are the raw template strings.
type Sources struct {
	Acknowledgement string `yaml:"acknowledgement"`
	Investigating   string `yaml:"investigating"`
	Resolving       string `yaml:"resolving"`
}

// New parses src. loc is used for every rendered time; nil means time.Local.
func New(src Sources, loc *time.Location) (*Templates, error) {
	if loc == nil {
		loc = time.Local
	}
	if src.Acknowledgement == "" {
		src.Acknowledgement = DefaultAcknowledgement
	}
	t := &Templates{loc: loc}
	var err error
	if t.ack, err = parse("acknowledgement", src.Acknowledgement); err != nil {
		return nil, err
	}
	if t.investigating, err = parse("investigating", src.Investigating); err != nil {
		return nil, err
	}
	if t.resolving, err = parse("resolving", src.Resolving); err != nil {
		return nil, err
	}
	return t, nil
}

func parse(name, src string) (*template.Template, error) {
	if src == "" {
		return nil, nil
	}
	if !goAction.MatchString(src) {
		src = fromLegacy(src)
	}
	tmpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=zero").
		Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", name, err)
	}
	return tmpl, nil
}

// fromLegacy rewrites a single-brace source into text/template syntax.
func fromLegacy(src string) string {
	return legacyToken.ReplaceAllStringFunc(src, func(tok string) string {
		switch tok {
		case "{{":
			return `{{"{"}}`
		case "}}":
			return `{{"}"}}`
		}
		return "{{." + strings.Trim(tok, "{}") + "}}"
	})
}

// FormatTime formats ts in the configured location.
func (t *Templates) FormatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.In(t.loc).Format(TimeLayout)
}

// HasInvestigating reports whether an investigating template is configured.
func (t *Templates) HasInvestigating() bool { return t.investigating != nil }

// Acknowledgement renders one acknowledgment block.
func (t *Templates) Acknowledgement(a app.Acknowledgment) (string, error) {
	return execute(t.ack, map[string]string{
		"message":  a.Message,
		"ack_time": t.FormatTime(a.Clock),
		"author":   a.Author,
	})
}

// InvestigatingData feeds the investigating template.
type InvestigatingData struct {
	Group     string
	Component string
	EventTime time.Time
	Trigger   app.Trigger
}

// Investigating renders the investigating template, or "" when none is set.
// trigger_description carries the trigger comments and trigger_name the
// trigger description, matching how operators write these templates.
func (t *Templates) Investigating(d InvestigatingData) (string, error) {
	return execute(t.investigating, map[string]string{
		"group":               d.Group,
		"component":           d.Component,
		"time":                t.FormatTime(d.EventTime),
		"trigger_description": d.Trigger.Comments,
		"trigger_name":        d.Trigger.Description,
	})
}

// Resolving renders the resolving template for a resolution at ts.
func (t *Templates) Resolving(ts time.Time) (string, error) {
	return execute(t.resolving, map[string]string{"time": t.FormatTime(ts)})
}

func execute(tmpl *template.Template, data map[string]string) (string, error) {
	if tmpl == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
