package definition

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ErrNotFound is returned when a workflow type is unknown or inactive.
var ErrNotFound = errors.New("workflow definition not found")

// Store is the persistence surface the cache needs. Implemented by the
// Postgres store; tests use an in-memory fake.
type Store interface {
	UpsertDefinition(def *Definition) error
	ListDefinitions() ([]*Definition, error)
}

// Cache holds the active workflow definitions in memory. Reload replaces
// the whole map at once, so readers never observe a partially-updated
// catalog.
type Cache struct {
	store Store

	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewCache creates an empty cache backed by the given store.
func NewCache(store Store) *Cache {
	return &Cache{
		store: store,
		defs:  make(map[string]*Definition),
	}
}

// Install loads every definition from dir, upserts each into the store and
// reloads the cache. Called once at startup and again when the watcher sees
// the directory change.
func (c *Cache) Install(dir string) error {
	defs, err := LoadDir(dir)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := c.store.UpsertDefinition(def); err != nil {
			log.Printf("[Definition] Warning: failed to upsert %s: %v", def.Type, err)
		}
	}
	return c.Reload()
}

// Reload fetches all definitions from the store and swaps the in-memory map
// in one step.
func (c *Cache) Reload() error {
	defs, err := c.store.ListDefinitions()
	if err != nil {
		return err
	}
	fresh := make(map[string]*Definition, len(defs))
	for _, def := range defs {
		fresh[def.Type] = def
	}

	c.mu.Lock()
	c.defs = fresh
	c.mu.Unlock()

	log.Printf("[Definition] Cache reloaded: %d definitions", len(fresh))
	return nil
}

// Get returns the active definition for a workflow type. Inactive and
// unknown types both report ErrNotFound; callers treat them identically.
func (c *Cache) Get(workflowType string) (*Definition, error) {
	c.mu.RLock()
	def, ok := c.defs[workflowType]
	c.mu.RUnlock()
	if !ok || !def.Active {
		return nil, ErrNotFound
	}
	return def, nil
}

// All returns every cached definition, active or not.
func (c *Cache) All() []*Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Definition, 0, len(c.defs))
	for _, def := range c.defs {
		out = append(out, def)
	}
	return out
}

// Watch reinstalls the definition directory whenever a file in it changes.
// Blocks until ctx is cancelled; run it in its own goroutine.
func (c *Cache) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}
	log.Printf("[Definition] Watching %s for changes", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.Printf("[Definition] Change detected (%s), reinstalling", event.Name)
			if err := c.Install(dir); err != nil {
				log.Printf("[Definition] Reinstall failed: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[Definition] Watcher error: %v", err)
		}
	}
}
