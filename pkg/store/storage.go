package store

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/ontograph/pkg/graph"
)

// ErrNotFound is returned when no ontology with the requested name is stored.
var ErrNotFound = errors.New("ontology not found")

// OntologySummary describes a stored ontology without its nodes and edges.
type OntologySummary struct {
	Name        string    `json:"name"`
	Version     string    `json:"version,omitempty"`
	Description string    `json:"description,omitempty"`
	License     string    `json:"license,omitempty"`
	RunID       string    `json:"run_id"`
	Nodes       int       `json:"nodes"`
	Edges       int       `json:"edges"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OntologyStorage persists frozen ontologies keyed by their metadata name.
// Saving an ontology replaces any previous version with the same name.
type OntologyStorage interface {
	SaveOntology(ctx context.Context, runID string, o *graph.Ontology) error
	LoadOntology(ctx context.Context, name string) (*graph.Ontology, error)
	ListOntologies(ctx context.Context) ([]OntologySummary, error)
	DeleteOntology(ctx context.Context, name string) error
}

// GraphSink receives finished ontologies for export into an external graph
// database. Sinks are write only.
type GraphSink interface {
	UpsertOntology(ctx context.Context, o *graph.Ontology) error
	Close(ctx context.Context) error
}
