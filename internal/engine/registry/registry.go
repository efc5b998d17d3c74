// Package registry owns the set of loaded collections, keyed by
// collection id and indexed by namespace, and resolves import aliases.
package registry

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/document"
)

// ImportResolutionError reports an import alias that could not be bound
// to any loaded collection by either the explicit path map or the
// namespace fallback.
type ImportResolutionError struct {
	CollectionID string
	Alias        string
	Path         string
}

func (e *ImportResolutionError) Error() string {
	return fmt.Sprintf("registry: collection %q: alias %q (path %q) does not resolve to any loaded collection", e.CollectionID, e.Alias, e.Path)
}

// Collection is one loaded document plus its registry bookkeeping.
type Collection struct {
	ID        string
	Document  *document.Document
	Preloaded bool

	// aliases maps import alias to a concrete collection id once
	// ResolveImports has bound it. Unbound aliases fall back to a
	// namespace scan at lookup time.
	aliases map[string]string
}

// Namespace returns the collection's declared namespace.
func (c *Collection) Namespace() string {
	return c.Document.Metadata.Namespace
}

// Registry is an explicit, constructible collection store. Multiple
// independent registries can coexist; there is no process-wide state.
//
// Mutation (Load/Unload/ResolveImports) is the caller's to serialize
// against in-flight rolls; the registry does no internal locking.
type Registry struct {
	collections map[string]*Collection
	byNamespace map[string]string // namespace -> collection id
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		collections: make(map[string]*Collection),
		byNamespace: make(map[string]string),
	}
}

// Load inserts or replaces a collection. An empty id gets a generated
// one. Returns the id under which the collection is stored.
//
// Precondition: doc must be non-nil.
func (r *Registry) Load(doc *document.Document, id string, preloaded bool) string {
	if doc == nil {
		panic("registry: Load precondition violated: doc must be non-nil")
	}
	if id == "" {
		id = uuid.NewString()
	}
	if old, ok := r.collections[id]; ok {
		delete(r.byNamespace, old.Namespace())
	}
	c := &Collection{ID: id, Document: doc, Preloaded: preloaded, aliases: make(map[string]string)}
	r.collections[id] = c
	if ns := c.Namespace(); ns != "" {
		r.byNamespace[ns] = id
	}
	return id
}

// Unload removes a collection, reporting whether it was loaded. Per-call
// instance caches die with their roll, so no cache invalidation is
// needed here beyond dropping the indexes.
func (r *Registry) Unload(id string) bool {
	c, ok := r.collections[id]
	if !ok {
		return false
	}
	delete(r.collections, id)
	if r.byNamespace[c.Namespace()] == id {
		delete(r.byNamespace, c.Namespace())
	}
	// Drop alias bindings in other collections that point at the
	// unloaded id; they revert to the namespace fallback.
	for _, other := range r.collections {
		for alias, target := range other.aliases {
			if target == id {
				delete(other.aliases, alias)
			}
		}
	}
	return true
}

// Get returns the collection with the given id.
func (r *Registry) Get(id string) (*Collection, bool) {
	c, ok := r.collections[id]
	return c, ok
}

// ByNamespace returns the collection declaring the given namespace.
func (r *Registry) ByNamespace(ns string) (*Collection, bool) {
	id, ok := r.byNamespace[ns]
	if !ok {
		return nil, false
	}
	return r.collections[id], true
}

// List returns all loaded collections sorted by id.
func (r *Registry) List() []*Collection {
	out := make([]*Collection, 0, len(r.collections))
	for _, c := range r.collections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ResolveImports walks every loaded document's imports and binds each
// alias to a concrete collection id: an explicit id from pathToID wins,
// then a loaded collection whose namespace equals the import path.
// Aliases that bind to nothing stay unbound; evaluation retries them via
// the namespace fallback and fails there if the target never loads.
func (r *Registry) ResolveImports(pathToID map[string]string) {
	for _, c := range r.collections {
		for _, imp := range c.Document.Imports {
			if id, ok := pathToID[imp.Path]; ok {
				if _, loaded := r.collections[id]; loaded {
					c.aliases[imp.Alias] = id
					continue
				}
			}
			if target, ok := r.byNamespace[imp.Path]; ok {
				c.aliases[imp.Alias] = target
			}
		}
	}
}

// ResolveAlias resolves an import alias of the given collection to its
// target collection. An explicit binding from ResolveImports is
// preferred; otherwise the alias's declared path is treated as a
// namespace and matched against loaded collections directly. Both routes
// must produce the same target for the same loaded set.
//
// Postcondition: returns the target collection, or *ImportResolutionError.
func (r *Registry) ResolveAlias(from *Collection, alias string) (*Collection, error) {
	if id, ok := from.aliases[alias]; ok {
		if c, loaded := r.collections[id]; loaded {
			return c, nil
		}
	}

	imp, ok := from.Document.Import(alias)
	if !ok {
		return nil, &ImportResolutionError{CollectionID: from.ID, Alias: alias}
	}
	if c, found := r.ByNamespace(imp.Path); found {
		return c, nil
	}
	return nil, &ImportResolutionError{CollectionID: from.ID, Alias: alias, Path: imp.Path}
}
