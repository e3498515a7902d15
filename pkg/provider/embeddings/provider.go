// Package embeddings defines the text-embedding interface used by the
// short-term memory's semantic re-ranking.
package embeddings

import "context"

// Provider converts texts to dense vectors.
type Provider interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the vector length produced by this provider.
	Dimensions() int
}
