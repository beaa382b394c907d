// Package router picks which upstream provider serves a request and holds
// the adapters built at start-up.
package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/howard-nolan/aihub/internal/provider"
)

// ErrNotConfigured is returned by Registry.Get for a kind with no adapter.
var ErrNotConfigured = errors.New("provider not configured")

// Select maps the loosely-typed hints a front-end sends onto a provider
// kind. Matching is case-insensitive substring matching:
//
//   - a hint containing "gpt", "openai" or "o1" selects OpenAI;
//   - otherwise a hint containing "gemini" selects Gemini;
//   - anything else, including "grok" and garbage, selects Grok.
//
// The provider hint wins whenever it is non-empty. The version hint is only
// consulted when the provider hint is empty. Select never fails: unknown
// strings silently fall back to Grok.
func Select(providerHint, versionHint string) provider.Kind {
	if providerHint != "" {
		return classify(providerHint)
	}
	if versionHint != "" {
		return classify(versionHint)
	}
	return provider.KindGrok
}

func classify(hint string) provider.Kind {
	h := strings.ToLower(hint)
	switch {
	case strings.Contains(h, "gpt"), strings.Contains(h, "openai"), strings.Contains(h, "o1"):
		return provider.KindOpenAI
	case strings.Contains(h, "gemini"):
		return provider.KindGemini
	default:
		return provider.KindGrok
	}
}

// ModelFor returns versionHint when it names a concrete model served by
// kind, and "" otherwise, in which case the adapter's default model is used.
// A bare provider name ("openai") or a model of another provider is not
// forwarded, since the upstream would reject it.
func ModelFor(kind provider.Kind, versionHint string) string {
	v := strings.TrimSpace(versionHint)
	if v == "" {
		return ""
	}
	if _, err := provider.ParseKind(v); err == nil {
		return ""
	}

	switch kind {
	case provider.KindGrok:
		if strings.Contains(strings.ToLower(v), "grok") {
			return v
		}
	case provider.KindOpenAI, provider.KindGemini:
		if classify(v) == kind {
			return v
		}
	}
	return ""
}

// Registry maps a provider kind to the adapter that serves it. It is built
// once at start-up and only read afterwards.
type Registry struct {
	providers map[provider.Kind]provider.Provider
}

// NewRegistry registers every given adapter under its own Kind.
func NewRegistry(providers ...provider.Provider) *Registry {
	r := &Registry{providers: make(map[provider.Kind]provider.Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Kind()] = p
	}
	return r
}

// Get returns the adapter for kind.
func (r *Registry) Get(kind provider.Kind) (provider.Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, kind)
	}
	return p, nil
}

// Kinds returns the configured kinds in the canonical provider order.
func (r *Registry) Kinds() []provider.Kind {
	var kinds []provider.Kind
	for _, k := range provider.Kinds {
		if _, ok := r.providers[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
