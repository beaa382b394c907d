package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Template is a form definition (JSON Schema plus UI hints) the front-end
// renders and submits through the form route.
type Template struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Labels      []string        `json:"labels"`
	Schema      json.RawMessage `json:"schema"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ListTemplates returns templates, most recently updated first.
func (s *Store) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.query(ctx, `SELECT id, name, description, labels, schema_json, created_at, updated_at
		FROM templates ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	defer rows.Close()

	templates := []Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func (s *Store) GetTemplate(ctx context.Context, id string) (Template, error) {
	row := s.queryRow(ctx, `SELECT id, name, description, labels, schema_json, created_at, updated_at
		FROM templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, fmt.Errorf("template %q: %w", id, ErrNotFound)
	}
	return t, err
}

// CreateTemplate stores t under a fresh id. Name and a JSON object schema
// are required.
func (s *Store) CreateTemplate(ctx context.Context, t Template) (Template, error) {
	if strings.TrimSpace(t.Name) == "" {
		return Template{}, fmt.Errorf("%w: template name is required", ErrInvalid)
	}
	if !isJSONObject(t.Schema) {
		return Template{}, fmt.Errorf("%w: template schema must be a JSON object", ErrInvalid)
	}
	if t.Labels == nil {
		t.Labels = []string{}
	}
	labels, err := json.Marshal(t.Labels)
	if err != nil {
		return Template{}, fmt.Errorf("encoding labels: %w", err)
	}

	t.ID = uuid.NewString()
	now := s.timestamp()
	if _, err := s.exec(ctx, `INSERT INTO templates (id, name, description, labels, schema_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Description, string(labels), string(t.Schema), now, now); err != nil {
		return Template{}, fmt.Errorf("creating template: %w", err)
	}
	return s.GetTemplate(ctx, t.ID)
}

func scanTemplate(r rowScanner) (Template, error) {
	var (
		t                    Template
		labels, schema       string
		createdAt, updatedAt string
	)
	if err := r.Scan(&t.ID, &t.Name, &t.Description, &labels, &schema, &createdAt, &updatedAt); err != nil {
		return Template{}, err
	}
	if err := json.Unmarshal([]byte(labels), &t.Labels); err != nil {
		return Template{}, fmt.Errorf("decoding labels of template %s: %w", t.ID, err)
	}
	t.Schema = json.RawMessage(schema)

	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return Template{}, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Template{}, err
	}
	return t, nil
}

func isJSONObject(raw json.RawMessage) bool {
	var obj map[string]json.RawMessage
	return len(raw) > 0 && json.Unmarshal(raw, &obj) == nil && obj != nil
}
