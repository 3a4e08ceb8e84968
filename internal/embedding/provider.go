// Package embedding abstracts the text-embedding provider used by semantic
// search. Providers may be unavailable; registration and search degrade
// rather than fail when no vectors can be produced.
package embedding

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the provider cannot serve embeddings.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Provider produces a fixed-dimensional vector from text.
type Provider interface {
	// Embed returns the embedding for text, or ErrUnavailable.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Available reports whether Embed is expected to succeed.
	Available() bool
}

// NullProvider is the provider used when no embedding backend is configured.
type NullProvider struct{}

// NewNullProvider creates a NullProvider.
func NewNullProvider() *NullProvider { return &NullProvider{} }

// Embed implements Provider.
func (*NullProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrUnavailable
}

// Available implements Provider.
func (*NullProvider) Available() bool { return false }
