package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Prompt is a named system prompt.
type Prompt struct {
	Key         string    `json:"key"`
	Content     string    `json:"content"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func validatePrompt(p Prompt) error {
	if strings.TrimSpace(p.Key) == "" {
		return fmt.Errorf("%w: prompt key is required", ErrInvalid)
	}
	if strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("%w: prompt content is required", ErrInvalid)
	}
	return nil
}

// ListPrompts returns every prompt ordered by key.
func (s *Store) ListPrompts(ctx context.Context) ([]Prompt, error) {
	rows, err := s.query(ctx, `SELECT prompt_key, content, description, created_at, updated_at
		FROM prompts ORDER BY prompt_key`)
	if err != nil {
		return nil, fmt.Errorf("listing prompts: %w", err)
	}
	defer rows.Close()

	prompts := []Prompt{}
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// GetPrompt returns the prompt stored under key, or ErrNotFound.
func (s *Store) GetPrompt(ctx context.Context, key string) (Prompt, error) {
	row := s.queryRow(ctx, `SELECT prompt_key, content, description, created_at, updated_at
		FROM prompts WHERE prompt_key = ?`, key)
	p, err := scanPrompt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Prompt{}, fmt.Errorf("prompt %q: %w", key, ErrNotFound)
	}
	return p, err
}

// CreatePrompt inserts p. An existing key is ErrConflict.
func (s *Store) CreatePrompt(ctx context.Context, p Prompt) (Prompt, error) {
	if err := validatePrompt(p); err != nil {
		return Prompt{}, err
	}

	now := s.timestamp()
	res, err := s.exec(ctx, `INSERT INTO prompts (prompt_key, content, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT (prompt_key) DO NOTHING`,
		p.Key, p.Content, p.Description, now, now)
	if err != nil {
		return Prompt{}, fmt.Errorf("creating prompt: %w", err)
	}
	if err := affectedOne(res, fmt.Errorf("prompt %q: %w", p.Key, ErrConflict)); err != nil {
		return Prompt{}, err
	}
	return s.GetPrompt(ctx, p.Key)
}

// UpdatePrompt replaces the content and description of an existing prompt.
func (s *Store) UpdatePrompt(ctx context.Context, p Prompt) (Prompt, error) {
	if err := validatePrompt(p); err != nil {
		return Prompt{}, err
	}

	res, err := s.exec(ctx, `UPDATE prompts SET content = ?, description = ?, updated_at = ?
		WHERE prompt_key = ?`,
		p.Content, p.Description, s.timestamp(), p.Key)
	if err != nil {
		return Prompt{}, fmt.Errorf("updating prompt: %w", err)
	}
	if err := affectedOne(res, fmt.Errorf("prompt %q: %w", p.Key, ErrNotFound)); err != nil {
		return Prompt{}, err
	}
	return s.GetPrompt(ctx, p.Key)
}

// DeletePrompt removes the prompt stored under key.
func (s *Store) DeletePrompt(ctx context.Context, key string) error {
	res, err := s.exec(ctx, `DELETE FROM prompts WHERE prompt_key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting prompt: %w", err)
	}
	return affectedOne(res, fmt.Errorf("prompt %q: %w", key, ErrNotFound))
}

// SeedPrompts inserts every key that is not stored yet and leaves existing
// ones untouched. It returns how many prompts were added.
func (s *Store) SeedPrompts(ctx context.Context, prompts map[string]string) (int, error) {
	now := s.timestamp()
	added := 0
	for key, content := range prompts {
		res, err := s.exec(ctx, `INSERT INTO prompts (prompt_key, content, description, created_at, updated_at)
			VALUES (?, ?, '', ?, ?) ON CONFLICT (prompt_key) DO NOTHING`,
			key, content, now, now)
		if err != nil {
			return added, fmt.Errorf("seeding prompt %q: %w", key, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrompt(r rowScanner) (Prompt, error) {
	var (
		p                Prompt
		created, updated string
	)
	if err := r.Scan(&p.Key, &p.Content, &p.Description, &created, &updated); err != nil {
		return Prompt{}, err
	}
	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return Prompt{}, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return Prompt{}, err
	}
	return p, nil
}
