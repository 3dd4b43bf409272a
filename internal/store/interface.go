// Package store defines the blob storage boundary for the learning engine.
// The engine only depends on this narrow (namespace, key) -> blob contract;
// durable backends and the in-memory test double are interchangeable.
package store

import "context"

// Namespaces used by the engine. Keys within a namespace are opaque to the
// store; the engine composes them from feature/species identifiers.
const (
	NamespacePatterns    = "patterns"
	NamespaceRejections  = "rejections"
	NamespaceCorrections = "corrections"
	NamespaceStats       = "species_stats"
	NamespaceAssessments = "assessments"
	NamespaceDeltas      = "quality_deltas"
	NamespaceReviews     = "reviews"
)

// Store is the persistence contract for the learning subsystem.
//
// Put either succeeds durably or returns an error; implementations must not
// acknowledge writes they may drop. Get reports absence via ok=false, not an
// error. List returns keys in lexicographic order so that callers iterating
// a namespace see a deterministic sequence.
type Store interface {
	Put(ctx context.Context, namespace, key string, blob []byte) error
	Get(ctx context.Context, namespace, key string) (blob []byte, ok bool, err error)
	Delete(ctx context.Context, namespace, key string) error
	List(ctx context.Context, namespace, prefix string) ([]string, error)
}
