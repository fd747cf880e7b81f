// Package cachet is an app.StatusPage backed by the Cachet REST API.
package cachet

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/d9705996/statusbridge/internal/api/jsonapi"
	"github.com/d9705996/statusbridge/internal/app"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/d9705996/statusbridge/internal/cachet"

// maxPages bounds every paginated scan.
const maxPages = 1000

// Config configures a Client.
type Config struct {
	URL                string
	Token              string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Client talks to a Cachet instance. It is safe for concurrent use.
type Client struct {
	base   string
	token  string
	http   *http.Client
	log    *slog.Logger
	tracer trace.Tracer
}

// New creates a Client. The API lives under cfg.URL + "/api/".
func New(cfg Config, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
	}
	return &Client{
		base:   strings.TrimRight(cfg.URL, "/") + "/api/",
		token:  cfg.Token,
		http:   &http.Client{Timeout: timeout, Transport: transport},
		log:    log.With("component", "cachet"),
		tracer: otel.Tracer(instrumentation),
	}
}

// ---- wire types -----------------------------------------------------------

// status accepts both a bare number and Cachet's {"value": n, "human": ...}.
type status int

func (s *status) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '{' {
		var v struct {
			Value json.Number `json:"value"`
		}
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		b = []byte(v.Value)
	}
	b = bytes.Trim(b, `"`)
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return fmt.Errorf("status %q: %w", b, err)
	}
	*s = status(n)
	return nil
}

type componentAttrs struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Link        string     `json:"link"`
	Status      status     `json:"status"`
	GroupID     jsonapi.ID `json:"component_group_id"`
}

type groupAttrs struct {
	Name string `json:"name"`
}

type incidentAttrs struct {
	Name        string     `json:"name"`
	Message     string     `json:"message"`
	Status      status     `json:"status"`
	ComponentID jsonapi.ID `json:"component_id"`
	CreatedAt   string     `json:"created_at"`
	UpdatedAt   string     `json:"updated_at"`
}

func toComponent(r jsonapi.Resource) (app.Component, error) {
	var a componentAttrs
	if err := r.DecodeAttributes(&a); err != nil {
		return app.Component{}, err
	}
	c := app.Component{
		ID:          r.ID.Int(),
		Name:        a.Name,
		Description: a.Description,
		Link:        a.Link,
		GroupID:     a.GroupID.Int(),
		Status:      app.ComponentStatus(a.Status),
	}
	if g := r.Related("group"); g != nil {
		c.GroupID = g.ID.Int()
	}
	return c, nil
}

func toGroup(r jsonapi.Resource) (app.ComponentGroup, error) {
	var a groupAttrs
	if err := r.DecodeAttributes(&a); err != nil {
		return app.ComponentGroup{}, err
	}
	return app.ComponentGroup{ID: r.ID.Int(), Name: a.Name}, nil
}

func toIncident(r jsonapi.Resource) (app.Incident, error) {
	var a incidentAttrs
	if err := r.DecodeAttributes(&a); err != nil {
		return app.Incident{}, err
	}
	inc := app.Incident{
		ID:          r.ID.Int(),
		ComponentID: a.ComponentID.Int(),
		Name:        a.Name,
		Status:      app.IncidentStatus(a.Status),
		Message:     a.Message,
	}
	inc.CreatedAt, _ = time.Parse(time.RFC3339Nano, a.CreatedAt)
	inc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, a.UpdatedAt)
	if c := r.Related("component"); c != nil && inc.ComponentID == 0 {
		inc.ComponentID = c.ID.Int()
	}
	return inc, nil
}

// ---- transport ------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (jsonapi.Response, error) {
	op := method + " " + path
	ctx, span := c.tracer.Start(ctx, "cachet "+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	resp, err := c.roundTrip(ctx, method, path, query, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return jsonapi.Response{}, app.Remote(op, err)
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body any) (jsonapi.Response, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return jsonapi.Response{}, fmt.Errorf("encode body: %w", err)
		}
		c.log.Debug("request", "method", method, "url", u, "body", string(payload))
		reader = bytes.NewReader(payload)
	} else {
		c.log.Debug("request", "method", method, "url", u)
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return jsonapi.Response{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return jsonapi.Response{}, err
	}
	defer resp.Body.Close()
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	doc, decodeErr := jsonapi.Decode(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := http.StatusText(resp.StatusCode)
		if decodeErr == nil && len(doc.Errors) > 0 {
			detail = doc.ErrorSummary()
		}
		err := fmt.Errorf("http %d: %s", resp.StatusCode, detail)
		if resp.StatusCode == http.StatusNotFound {
			err = fmt.Errorf("%w: %w", app.ErrNotFound, err)
		}
		return jsonapi.Response{}, err
	}
	if decodeErr != nil {
		return jsonapi.Response{}, decodeErr
	}
	return doc, nil
}

// pages calls fn with every page of a collection until fn returns false, a
// page is empty, or more reports that no further page exists.
func (c *Client) pages(ctx context.Context, path string, extra url.Values, more func(jsonapi.Response) bool, fn func([]jsonapi.Resource) (bool, error)) error {
	for page := 1; page <= maxPages; page++ {
		q := url.Values{"page": {strconv.Itoa(page)}}
		for k, v := range extra {
			q[k] = v
		}
		doc, err := c.do(ctx, http.MethodGet, path, q, nil)
		if err != nil {
			return err
		}
		items, err := doc.Many()
		if err != nil {
			return app.Remote("GET "+path, err)
		}
		cont, err := fn(items)
		if err != nil || !cont {
			return err
		}
		if len(items) == 0 || !more(doc) {
			return nil
		}
	}
	c.log.Warn("pagination limit reached", "path", path, "pages", maxPages)
	return nil
}

func hasCurrentPage(doc jsonapi.Response) bool { return doc.HasMeta("current_page") }
func hasTo(doc jsonapi.Response) bool          { return doc.HasMeta("to") }

// ---- app.StatusPage -------------------------------------------------------

// Version returns the Cachet version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	doc, err := c.do(ctx, http.MethodGet, "version", nil, nil)
	if err != nil {
		return "", err
	}
	var v string
	if err := json.Unmarshal(doc.Data, &v); err != nil {
		return "", app.Remote("GET version", fmt.Errorf("decode version: %w", err))
	}
	return v, nil
}

func (c *Client) Component(ctx context.Context, id int) (app.Component, error) {
	path := "components/" + strconv.Itoa(id)
	doc, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return app.Component{}, err
	}
	res, err := doc.One()
	if err != nil {
		return app.Component{}, app.Remote("GET "+path, err)
	}
	comp, err := toComponent(res)
	return comp, app.Remote("GET "+path, err)
}

func (c *Client) FindComponentsByName(ctx context.Context, name string) ([]app.Component, error) {
	var found []app.Component
	err := c.pages(ctx, "components", url.Values{"include": {"group"}}, hasCurrentPage, func(items []jsonapi.Resource) (bool, error) {
		for _, r := range items {
			comp, err := toComponent(r)
			if err != nil {
				return false, app.Remote("GET components", err)
			}
			if comp.Name == name {
				found = append(found, comp)
			}
		}
		return true, nil
	})
	return found, err
}

func (c *Client) FindComponentGroupByName(ctx context.Context, name string) (*app.ComponentGroup, error) {
	var found *app.ComponentGroup
	err := c.pages(ctx, "component-groups", nil, hasCurrentPage, func(items []jsonapi.Resource) (bool, error) {
		for _, r := range items {
			g, err := toGroup(r)
			if err != nil {
				return false, app.Remote("GET component-groups", err)
			}
			if g.Name == name {
				found = &g
				return false, nil
			}
		}
		return true, nil
	})
	return found, err
}

type componentPayload struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Link        string `json:"link,omitempty"`
	Status      int    `json:"status"`
	GroupID     int    `json:"component_group_id"`
	Visible     bool   `json:"visible"`
	Enabled     bool   `json:"enabled"`
}

func (c *Client) CreateComponent(ctx context.Context, f app.ComponentFields) (app.Component, error) {
	st := f.Status
	if st == 0 {
		st = app.ComponentOperational
	}
	return c.writeComponent(ctx, http.MethodPost, "components", componentPayload{
		Name:        f.Name,
		Description: strings.TrimSpace(f.Description),
		Link:        strings.TrimSpace(f.Link),
		Status:      int(st),
		GroupID:     f.GroupID,
		Visible:     true,
		Enabled:     true,
	})
}

// UpdateComponent reads the component, merges u and writes it back.
func (c *Client) UpdateComponent(ctx context.Context, id int, u app.ComponentUpdate) (app.Component, error) {
	current, err := c.Component(ctx, id)
	if err != nil {
		return app.Component{}, err
	}
	next := u.Apply(current)
	comp, err := c.writeComponent(ctx, http.MethodPut, "components/"+strconv.Itoa(id), componentPayload{
		Name:        next.Name,
		Description: next.Description,
		Link:        next.Link,
		Status:      int(next.Status),
		GroupID:     next.GroupID,
		Visible:     true,
		Enabled:     true,
	})
	if err != nil {
		return app.Component{}, err
	}
	c.log.Info("component updated", "component", comp.Name, "component_id", id, "status", comp.Status.String())
	return comp, nil
}

func (c *Client) writeComponent(ctx context.Context, method, path string, p componentPayload) (app.Component, error) {
	doc, err := c.do(ctx, method, path, nil, p)
	if err != nil {
		return app.Component{}, err
	}
	res, err := doc.One()
	if err != nil {
		return app.Component{}, app.Remote(method+" "+path, err)
	}
	comp, err := toComponent(res)
	if err != nil {
		return app.Component{}, app.Remote(method+" "+path, err)
	}
	if comp.GroupID == 0 {
		comp.GroupID = p.GroupID
	}
	return comp, nil
}

func (c *Client) CreateComponentGroup(ctx context.Context, name string) (app.ComponentGroup, error) {
	doc, err := c.do(ctx, http.MethodPost, "component-groups", nil, map[string]any{
		"name":      name,
		"collapsed": 2,
		"visible":   true,
	})
	if err != nil {
		return app.ComponentGroup{}, err
	}
	res, err := doc.One()
	if err != nil {
		return app.ComponentGroup{}, app.Remote("POST component-groups", err)
	}
	g, err := toGroup(res)
	if err != nil {
		return app.ComponentGroup{}, app.Remote("POST component-groups", err)
	}
	if g.Name == "" {
		g.Name = name
	}
	return g, nil
}

// FindUnresolvedIncident scans incident pages for the first unresolved
// incident of componentID.
func (c *Client) FindUnresolvedIncident(ctx context.Context, componentID int) (*app.Incident, error) {
	var found *app.Incident
	err := c.pages(ctx, "incidents", nil, hasTo, func(items []jsonapi.Resource) (bool, error) {
		for _, r := range items {
			inc, err := toIncident(r)
			if err != nil {
				return false, app.Remote("GET incidents", err)
			}
			if inc.ComponentID == componentID && inc.Unresolved() {
				found = &inc
				return false, nil
			}
		}
		return true, nil
	})
	return found, err
}

type incidentPayload struct {
	Name            string `json:"name,omitempty"`
	Message         string `json:"message,omitempty"`
	Status          int    `json:"status"`
	ComponentID     int    `json:"component_id,omitempty"`
	ComponentStatus int    `json:"component_status,omitempty"`
	Visible         bool   `json:"visible"`
	Notify          bool   `json:"notify"`
}

func (c *Client) CreateIncident(ctx context.Context, f app.IncidentFields) (app.Incident, error) {
	doc, err := c.do(ctx, http.MethodPost, "incidents", nil, incidentPayload{
		Name:            f.Name,
		Message:         f.Message,
		Status:          int(f.Status),
		ComponentID:     f.ComponentID,
		ComponentStatus: int(f.ComponentStatus),
		Visible:         true,
		Notify:          true,
	})
	if err != nil {
		return app.Incident{}, err
	}
	inc, err := decodeIncident(doc, "POST incidents")
	if err != nil {
		return app.Incident{}, err
	}
	if inc.ComponentID == 0 {
		inc.ComponentID = f.ComponentID
	}
	return inc, nil
}

// UpdateIncident reads the incident, merges u and writes it back.
func (c *Client) UpdateIncident(ctx context.Context, id int, u app.IncidentUpdate) (app.Incident, error) {
	path := "incidents/" + strconv.Itoa(id)
	doc, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return app.Incident{}, err
	}
	current, err := decodeIncident(doc, "GET "+path)
	if err != nil {
		return app.Incident{}, err
	}
	next := u.Apply(current)

	p := incidentPayload{
		Name:        next.Name,
		Message:     next.Message,
		Status:      int(next.Status),
		ComponentID: next.ComponentID,
		Visible:     true,
	}
	if u.ComponentStatus != nil {
		p.ComponentStatus = int(*u.ComponentStatus)
	}
	doc, err = c.do(ctx, http.MethodPut, path, nil, p)
	if err != nil {
		return app.Incident{}, err
	}
	inc, err := decodeIncident(doc, "PUT "+path)
	if err != nil {
		return app.Incident{}, err
	}
	c.log.Info("incident updated", "incident_id", id, "status", inc.Status.String())
	return inc, nil
}

func decodeIncident(doc jsonapi.Response, op string) (app.Incident, error) {
	res, err := doc.One()
	if err != nil {
		return app.Incident{}, app.Remote(op, err)
	}
	inc, err := toIncident(res)
	if err != nil {
		return app.Incident{}, app.Remote(op, err)
	}
	return inc, nil
}
