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

// Input types of a Run.
const (
	InputText = "text"
	InputForm = "form"
)

// maxRunList caps ListRuns.
const maxRunList = 100

// Run records one completed request: what was asked, of which model, and
// what came back.
type Run struct {
	ID           string          `json:"id"`
	TemplateID   string          `json:"template_id,omitempty"`
	Model        string          `json:"model"`
	ModelVariant string          `json:"model_variant,omitempty"`
	SystemPrompt string          `json:"system_prompt,omitempty"`
	InputType    string          `json:"input_type"`
	InputText    string          `json:"input_text,omitempty"`
	InputForm    json.RawMessage `json:"input_form,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func validateRun(r Run) error {
	if strings.TrimSpace(r.Model) == "" {
		return fmt.Errorf("%w: run model is required", ErrInvalid)
	}
	switch r.InputType {
	case InputText, InputForm:
	default:
		return fmt.Errorf("%w: input_type must be %q or %q", ErrInvalid, InputText, InputForm)
	}
	if len(r.InputForm) > 0 && !isJSONObject(r.InputForm) {
		return fmt.Errorf("%w: input_form must be a JSON object", ErrInvalid)
	}
	if len(r.Output) > 0 && !json.Valid(r.Output) {
		return fmt.Errorf("%w: output must be valid JSON", ErrInvalid)
	}
	return nil
}

// CreateRun stores r under a fresh id.
func (s *Store) CreateRun(ctx context.Context, r Run) (Run, error) {
	if err := validateRun(r); err != nil {
		return Run{}, err
	}

	r.ID = uuid.NewString()
	if _, err := s.exec(ctx, `INSERT INTO runs
		(id, template_id, model, model_variant, system_prompt, input_type, input_text, input_form, output, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TemplateID, r.Model, r.ModelVariant, r.SystemPrompt, r.InputType,
		r.InputText, string(r.InputForm), string(r.Output), s.timestamp()); err != nil {
		return Run{}, fmt.Errorf("creating run: %w", err)
	}
	return s.GetRun(ctx, r.ID)
}

func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.queryRow(ctx, `SELECT id, template_id, model, model_variant, system_prompt, input_type,
		input_text, input_form, output, created_at FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %q: %w", id, ErrNotFound)
	}
	return r, err
}

// ListRuns returns the newest runs first, at most 100.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.query(ctx, fmt.Sprintf(`SELECT id, template_id, model, model_variant, system_prompt, input_type,
		input_text, input_form, output, created_at FROM runs ORDER BY created_at DESC, id DESC LIMIT %d`, maxRunList))
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r                  Run
		form, out, created string
	)
	if err := row.Scan(&r.ID, &r.TemplateID, &r.Model, &r.ModelVariant, &r.SystemPrompt, &r.InputType,
		&r.InputText, &form, &out, &created); err != nil {
		return Run{}, err
	}
	if form != "" {
		r.InputForm = json.RawMessage(form)
	}
	if out != "" {
		r.Output = json.RawMessage(out)
	}
	var err error
	if r.CreatedAt, err = parseTime(created); err != nil {
		return Run{}, err
	}
	return r, nil
}
