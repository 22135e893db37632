package util

import (
	"context"
	"sync"

	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// OntologyLoader reads a stored ontology by name.
type OntologyLoader interface {
	LoadOntology(ctx context.Context, name string) (*graph.Ontology, error)
}

// OntologyCache keeps the closures of loaded ontologies in memory. Concurrent
// misses for the same name share one load.
type OntologyCache struct {
	loader OntologyLoader
	client *graph.GraphClient

	mu      sync.RWMutex
	entries map[string]*graph.Closure
	group   singleflight.Group
}

func NewOntologyCache(loader OntologyLoader, client *graph.GraphClient) *OntologyCache {
	return &OntologyCache{
		loader:  loader,
		client:  client,
		entries: make(map[string]*graph.Closure),
	}
}

// Get returns the closure of name, loading it on first use.
func (c *OntologyCache) Get(ctx context.Context, name string) (*graph.Closure, error) {
	c.mu.RLock()
	if cl, ok := c.entries[name]; ok {
		c.mu.RUnlock()
		return cl, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.group.Do(name, func() (any, error) {
		c.mu.RLock()
		if cl, ok := c.entries[name]; ok {
			c.mu.RUnlock()
			return cl, nil
		}
		c.mu.RUnlock()

		// The load is shared, so it must not die with the first caller.
		o, err := c.loader.LoadOntology(context.WithoutCancel(ctx), name)
		if err != nil {
			return nil, err
		}
		cl, err := c.client.Closure(context.WithoutCancel(ctx), o)
		if err != nil {
			return nil, err
		}
		logger.Debug("[Cache] Loaded ontology", "name", name, "nodes", o.Len())

		c.mu.Lock()
		c.entries[name] = cl
		c.mu.Unlock()
		return cl, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*graph.Closure), nil
}

// Evict drops name so that the next Get reloads it.
func (c *OntologyCache) Evict(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
	c.group.Forget(name)
}

// Len returns the number of cached ontologies.
func (c *OntologyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
