// Package jsonapi provides lightweight JSON:API 1.1 envelope types, rendering
// helpers for the admin API and decoding helpers for the status-page client.
package jsonapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

const contentType = "application/vnd.api+json"

// ---- Document types -------------------------------------------------------

// Document is a JSON:API single-resource document.
type Document struct {
	Data     any    `json:"data"`
	Included []any  `json:"included,omitempty"`
	Meta     Meta   `json:"meta,omitempty"`
	Links    *Links `json:"links,omitempty"`
}

// ListDocument is a JSON:API collection document.
type ListDocument struct {
	Data     []any       `json:"data"`
	Included []any       `json:"included,omitempty"`
	Meta     Meta        `json:"meta,omitempty"`
	Links    *Links      `json:"links,omitempty"`
	Paging   *Pagination `json:"page,omitempty"`
}

// ResourceObject is the canonical JSON:API resource object.
type ResourceObject struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    any                     `json:"attributes,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
	Links         *Links                  `json:"links,omitempty"`
	Meta          Meta                    `json:"meta,omitempty"`
}

// Relationship represents a JSON:API relationship object.
type Relationship struct {
	Data  any    `json:"data,omitempty"`
	Links *Links `json:"links,omitempty"`
}

// Links holds JSON:API link objects.
type Links struct {
	Self    string `json:"self,omitempty"`
	Related string `json:"related,omitempty"`
	First   string `json:"first,omitempty"`
	Last    string `json:"last,omitempty"`
	Prev    string `json:"prev,omitempty"`
	Next    string `json:"next,omitempty"`
}

// Meta is a free-form map of non-standard meta-information.
type Meta map[string]any

// Pagination holds JSON:API cursor-based pagination info.
type Pagination struct {
	Cursor   string `json:"cursor,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
	Total    int    `json:"total,omitempty"`
}

// ---- Error types ----------------------------------------------------------

// ErrorDocument is a JSON:API error response document.
type ErrorDocument struct {
	Errors []ErrorObject `json:"errors"`
}

// ErrorObject represents a single JSON:API error.
type ErrorObject struct {
	Status string       `json:"status,omitempty"`
	Code   string       `json:"code,omitempty"`
	Title  string       `json:"title,omitempty"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
}

// ErrorSource identifies the source of a JSON:API error.
type ErrorSource struct {
	Pointer   string `json:"pointer,omitempty"`
	Parameter string `json:"parameter,omitempty"`
}

// ---- Render helpers -------------------------------------------------------

// Render writes a JSON:API document to w with the given HTTP status code.
func Render(w http.ResponseWriter, status int, doc any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(doc)
}

// RenderOne writes a single-resource document.
func RenderOne(w http.ResponseWriter, status int, data any) {
	Render(w, status, Document{Data: data})
}

// RenderList writes a collection document.
func RenderList(w http.ResponseWriter, status int, data []any, pagination *Pagination) {
	if data == nil {
		data = []any{}
	}
	Render(w, status, ListDocument{Data: data, Paging: pagination})
}

// RenderError writes a single JSON:API error.
func RenderError(w http.ResponseWriter, status int, code, title, detail string) {
	RenderErrors(w, status, []ErrorObject{
		{
			Status: http.StatusText(status),
			Code:   code,
			Title:  title,
			Detail: detail,
		},
	})
}

// RenderErrors writes multiple JSON:API errors.
func RenderErrors(w http.ResponseWriter, status int, errs []ErrorObject) {
	Render(w, status, ErrorDocument{Errors: errs})
}

// ---- Decoding -------------------------------------------------------------

// ErrNoData is returned when a response document carries no primary data.
var ErrNoData = errors.New("jsonapi: document has no data")

// ID is a resource identifier that accepts both JSON strings and numbers.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("jsonapi: id %s: %w", b, err)
	}
	*id = ID(n.String())
	return nil
}

// Int returns the id as an int, or 0 when it is not numeric.
func (id ID) Int() int {
	n, err := strconv.Atoi(string(id))
	if err != nil {
		return 0
	}
	return n
}

// Identifier is a resource identifier object.
type Identifier struct {
	Type string `json:"type"`
	ID   ID     `json:"id"`
}

// RawRelationship is a decoded to-one relationship.
type RawRelationship struct {
	Data *Identifier `json:"data"`
}

// Resource is a decoded resource object with raw attributes.
type Resource struct {
	Type          string                     `json:"type"`
	ID            ID                         `json:"id"`
	Attributes    json.RawMessage            `json:"attributes"`
	Relationships map[string]RawRelationship `json:"relationships,omitempty"`
}

// DecodeAttributes unmarshals the attributes into v.
func (r Resource) DecodeAttributes(v any) error {
	if len(r.Attributes) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Attributes, v); err != nil {
		return fmt.Errorf("jsonapi: %s %s attributes: %w", r.Type, r.ID, err)
	}
	return nil
}

// Related returns the identifier of a to-one relationship, or nil.
func (r Resource) Related(name string) *Identifier {
	rel, ok := r.Relationships[name]
	if !ok {
		return nil
	}
	return rel.Data
}

// Response is a decoded top-level document whose primary data is either a
// single resource or a collection.
type Response struct {
	Data   json.RawMessage `json:"data"`
	Meta   Meta            `json:"meta,omitempty"`
	Errors []ErrorObject   `json:"errors,omitempty"`
}

// Decode reads a Response from r.
func Decode(r io.Reader) (Response, error) {
	var doc Response
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Response{}, fmt.Errorf("jsonapi: decode document: %w", err)
	}
	return doc, nil
}

// One returns the single primary resource.
func (d Response) One() (Resource, error) {
	if len(d.Data) == 0 || bytes.Equal(d.Data, []byte("null")) {
		return Resource{}, ErrNoData
	}
	var res Resource
	if err := json.Unmarshal(d.Data, &res); err != nil {
		return Resource{}, fmt.Errorf("jsonapi: decode resource: %w", err)
	}
	return res, nil
}

// Many returns the primary resource collection. Missing data is an empty
// collection.
func (d Response) Many() ([]Resource, error) {
	if len(d.Data) == 0 || bytes.Equal(d.Data, []byte("null")) {
		return nil, nil
	}
	var res []Resource
	if err := json.Unmarshal(d.Data, &res); err != nil {
		return nil, fmt.Errorf("jsonapi: decode collection: %w", err)
	}
	return res, nil
}

// HasMeta reports whether meta contains key with a non-null value.
func (d Response) HasMeta(key string) bool {
	v, ok := d.Meta[key]
	return ok && v != nil
}

// ErrorSummary joins the error titles and details of a failed response.
func (d Response) ErrorSummary() string {
	var buf bytes.Buffer
	for i, e := range d.Errors {
		if i > 0 {
			buf.WriteString("; ")
		}
		buf.WriteString(e.Title)
		if e.Detail != "" {
			if e.Title != "" {
				buf.WriteString(": ")
			}
			buf.WriteString(e.Detail)
		}
	}
	return buf.String()
}
