// Package zabbix is an app.Monitoring backed by the Zabbix JSON-RPC API.
package zabbix

import (
	"bytes"
	"cmp"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/d9705996/statusbridge/internal/app"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/d9705996/statusbridge/internal/zabbix"

// ErrNotAuthenticated is returned when neither a token nor credentials are set.
var ErrNotAuthenticated = errors.New("zabbix: no token or credentials configured")

// Config configures a Client. Token takes precedence over User/Password.
type Config struct {
	URL                string
	User               string
	Password           string
	Token              string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Client talks to the Zabbix API. It is safe for concurrent use.
type Client struct {
	endpoint string
	user     string
	password string
	http     *http.Client
	log      *slog.Logger
	tracer   trace.Tracer
	nextID   atomic.Int64

	mu   sync.Mutex
	auth string
}

// New creates a Client. cfg.URL may point at the frontend root or directly
// at api_jsonrpc.php.
func New(cfg Config, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
	}
	endpoint := strings.TrimRight(cfg.URL, "/")
	if !strings.HasSuffix(endpoint, ".php") {
		endpoint += "/api_jsonrpc.php"
	}
	return &Client{
		endpoint: endpoint,
		user:     cfg.User,
		password: cfg.Password,
		auth:     cfg.Token,
		http:     &http.Client{Timeout: timeout, Transport: transport},
		log:      log.With("component", "zabbix"),
		tracer:   otel.Tracer(instrumentation),
	}
}

// RPCError is an error object returned by the API.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s %s", e.Code, e.Message, e.Data)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Login obtains a session when no API token is configured.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.auth != "" {
		return nil
	}
	if c.user == "" {
		return ErrNotAuthenticated
	}
	var session string
	err := c.call(ctx, "user.login", map[string]string{"username": c.user, "password": c.password}, "", &session)
	if err != nil {
		return err
	}
	c.auth = session
	c.log.Info("logged in", "user", c.user)
	return nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	auth := c.auth
	c.mu.Unlock()
	if auth != "" {
		return auth, nil
	}
	if err := c.Login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth, nil
}

// invoke runs an authenticated method.
func (c *Client) invoke(ctx context.Context, method string, params, out any) error {
	auth, err := c.token(ctx)
	if err != nil {
		return app.Remote(method, err)
	}
	return c.call(ctx, method, params, auth, out)
}

func (c *Client) call(ctx context.Context, method string, params any, auth string, out any) error {
	ctx, span := c.tracer.Start(ctx, "zabbix "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rpc.method", method)))
	defer span.End()

	if err := c.roundTrip(ctx, method, params, auth, out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return app.Remote(method, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method string, params any, auth string, out any) error {
	payload, err := json.Marshal(request{JSONRPC: "2.0", Method: method, Params: params, ID: c.nextID.Add(1)})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json-rpc")
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	c.log.Debug("request", "method", method)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d", resp.StatusCode)
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if r.Error != nil {
		return r.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(r.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// ---- app.Monitoring -------------------------------------------------------

// Version returns the API version. It needs no authentication and doubles as
// the reachability probe.
func (c *Client) Version(ctx context.Context) (string, error) {
	var v string
	if err := c.call(ctx, "apiinfo.version", []any{}, "", &v); err != nil {
		return "", err
	}
	return v, nil
}

type triggerDTO struct {
	TriggerID   string `json:"triggerid"`
	Description string `json:"description"`
	Comments    string `json:"comments"`
	URL         string `json:"url"`
	Value       string `json:"value"`
	Priority    string `json:"priority"`
}

func (c *Client) Trigger(ctx context.Context, id string) (app.Trigger, error) {
	var triggers []triggerDTO
	err := c.invoke(ctx, "trigger.get", map[string]any{
		"triggerids":        id,
		"output":            "extend",
		"expandComment":     true,
		"expandDescription": true,
	}, &triggers)
	if err != nil {
		return app.Trigger{}, err
	}
	if len(triggers) == 0 {
		return app.Trigger{}, app.Remote("trigger.get", fmt.Errorf("trigger %s: %w", id, app.ErrNotFound))
	}
	t := triggers[0]
	return app.Trigger{
		ID:          t.TriggerID,
		Description: t.Description,
		Comments:    t.Comments,
		URL:         t.URL,
		Value:       app.TriggerValue(atoi(t.Value, 0)),
		Priority:    app.Severity(atoi(t.Priority, 0)),
	}, nil
}

type ackDTO struct {
	Clock    string `json:"clock"`
	Message  string `json:"message"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Username string `json:"username"`
	Alias    string `json:"alias"`
}

type eventDTO struct {
	EventID      string   `json:"eventid"`
	ObjectID     string   `json:"objectid"`
	Clock        string   `json:"clock"`
	Acknowledged string   `json:"acknowledged"`
	Acknowledges []ackDTO `json:"acknowledges"`
}

// LatestEvent returns the most recent problem event of a trigger, or nil.
func (c *Client) LatestEvent(ctx context.Context, triggerID string) (*app.Event, error) {
	var events []eventDTO
	err := c.invoke(ctx, "event.get", map[string]any{
		"objectids":           triggerID,
		"object":              0,
		"value":               1,
		"output":              "extend",
		"select_acknowledges": "extend",
	}, &events)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	latest := slices.MaxFunc(events, func(a, b eventDTO) int {
		return cmp.Or(
			cmp.Compare(atoi(a.Clock, 0), atoi(b.Clock, 0)),
			cmp.Compare(atoi(a.EventID, 0), atoi(b.EventID, 0)),
		)
	})

	ev := &app.Event{
		TriggerID:    triggerID,
		Clock:        unix(latest.Clock),
		Acknowledged: latest.Acknowledged == "1",
	}
	for _, a := range latest.Acknowledges {
		ev.Acknowledgments = append(ev.Acknowledgments, app.Acknowledgment{
			Author:  author(a),
			Message: a.Message,
			Clock:   unix(a.Clock),
		})
	}
	return ev, nil
}

func author(a ackDTO) string {
	if name := strings.TrimSpace(a.Name + " " + a.Surname); name != "" {
		return name
	}
	return cmp.Or(a.Username, a.Alias)
}

type childRefDTO struct {
	ServiceID string `json:"serviceid"`
}

type problemTagDTO struct {
	Tag   string `json:"tag"`
	Value string `json:"value"`
}

type serviceDTO struct {
	ServiceID   string          `json:"serviceid"`
	Name        string          `json:"name"`
	Status      string          `json:"status"`
	TriggerID   *string         `json:"triggerid"`
	Children    []childRefDTO   `json:"children"`
	ProblemTags []problemTagDTO `json:"problem_tags"`
}

func (s serviceDTO) entity() app.MonitoringEntity {
	e := app.MonitoringEntity{
		ID:        s.ServiceID,
		Name:      s.Name,
		TriggerID: s.TriggerID,
		Severity:  app.Severity(atoi(s.Status, int(app.SeverityOK))),
	}
	for _, t := range s.ProblemTags {
		e.ProblemTags = append(e.ProblemTags, app.ProblemTag{Tag: t.Tag, Value: t.Value})
	}
	return e
}

func (c *Client) services(ctx context.Context, params map[string]any) ([]serviceDTO, error) {
	params["output"] = "extend"
	params["selectChildren"] = "extend"
	params["selectProblemTags"] = "extend"
	var out []serviceDTO
	if err := c.invoke(ctx, "service.get", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func childIDs(s serviceDTO) []string {
	ids := make([]string, 0, len(s.Children))
	for _, ch := range s.Children {
		ids = append(ids, ch.ServiceID)
	}
	return ids
}

// ServiceTree returns the two-level service tree under root. With a root
// name the root itself is omitted and its children are the top level. With
// an empty root every service is considered. Top-level services with
// children carry their children expanded one level; services already listed
// as someone's child are not repeated at the top level. The result keeps the
// order Zabbix lists the services in.
func (c *Client) ServiceTree(ctx context.Context, root string) ([]app.MonitoringEntity, error) {
	var top []serviceDTO
	if root != "" {
		roots, err := c.services(ctx, map[string]any{"filter": map[string]any{"name": root}})
		if err != nil {
			return nil, err
		}
		if len(roots) == 0 {
			return nil, fmt.Errorf("%q: %w", root, app.ErrRootNotFound)
		}
		ids := childIDs(roots[0])
		if len(ids) == 0 {
			return nil, nil
		}
		if top, err = c.services(ctx, map[string]any{"serviceids": ids}); err != nil {
			return nil, err
		}
	} else {
		var err error
		if top, err = c.services(ctx, map[string]any{"selectParents": "extend"}); err != nil {
			return nil, err
		}
	}

	known := map[string]bool{}
	for _, svc := range top {
		for _, id := range childIDs(svc) {
			known[id] = true
		}
	}
	var tree []app.MonitoringEntity
	for _, svc := range top {
		if len(svc.Children) == 0 {
			if !known[svc.ServiceID] {
				tree = append(tree, svc.entity())
			}
			continue
		}
		children, err := c.services(ctx, map[string]any{"serviceids": childIDs(svc)})
		if err != nil {
			return nil, err
		}
		e := svc.entity()
		for _, ch := range children {
			e.Children = append(e.Children, ch.entity())
		}
		tree = append(tree, e)
	}
	return tree, nil
}

func atoi(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

func unix(s string) time.Time {
	n := atoi(s, 0)
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(int64(n), 0)
}
