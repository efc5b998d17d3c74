package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/document"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/registry"
)

func doc(ns string, imports ...document.ImportBinding) *document.Document {
	return &document.Document{
		Metadata: document.Metadata{Name: ns, Namespace: ns},
		Imports:  imports,
	}
}

func TestLoad_GeneratesIDWhenEmpty(t *testing.T) {
	r := registry.New()
	id := r.Load(doc("a.b"), "", false)
	assert.NotEmpty(t, id)
	_, ok := r.Get(id)
	assert.True(t, ok)
}

func TestLoad_NilDocPanics(t *testing.T) {
	assert.Panics(t, func() { registry.New().Load(nil, "x", false) })
}

func TestLoad_ReplaceRebindsNamespace(t *testing.T) {
	r := registry.New()
	r.Load(doc("old.ns"), "c1", false)
	r.Load(doc("new.ns"), "c1", false)

	_, ok := r.ByNamespace("old.ns")
	assert.False(t, ok, "replaced collection's namespace must be unindexed")
	c, ok := r.ByNamespace("new.ns")
	require.True(t, ok)
	assert.Equal(t, "c1", c.ID)
}

func TestUnload_RemovesIndexes(t *testing.T) {
	r := registry.New()
	r.Load(doc("a.b"), "c1", true)
	assert.True(t, r.Unload("c1"))

	_, ok := r.Get("c1")
	assert.False(t, ok)
	_, ok = r.ByNamespace("a.b")
	assert.False(t, ok)

	// Unknown id is a no-op.
	assert.False(t, r.Unload("nope"))
}

func TestList_SortedByID(t *testing.T) {
	r := registry.New()
	r.Load(doc("b"), "zzz", false)
	r.Load(doc("a"), "aaa", false)
	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "aaa", list[0].ID)
	assert.Equal(t, "zzz", list[1].ID)
}

func TestResolveAlias_NamespaceFallbackWithoutResolveImports(t *testing.T) {
	r := registry.New()
	r.Load(doc("game.loot"), "loot1", false)
	mainID := r.Load(doc("game.main", document.ImportBinding{Path: "game.loot", Alias: "loot"}), "main1", false)

	main, _ := r.Get(mainID)
	target, err := r.ResolveAlias(main, "loot")
	require.NoError(t, err)
	assert.Equal(t, "loot1", target.ID)
}

func TestResolveAlias_ExplicitMapAndFallbackAgree(t *testing.T) {
	build := func() (*registry.Registry, *registry.Collection) {
		r := registry.New()
		r.Load(doc("game.loot"), "loot1", false)
		id := r.Load(doc("game.main", document.ImportBinding{Path: "game.loot", Alias: "loot"}), "main1", false)
		c, _ := r.Get(id)
		return r, c
	}

	rExplicit, mainExplicit := build()
	rExplicit.ResolveImports(map[string]string{"game.loot": "loot1"})
	a, err := rExplicit.ResolveAlias(mainExplicit, "loot")
	require.NoError(t, err)

	rFallback, mainFallback := build()
	b, err := rFallback.ResolveAlias(mainFallback, "loot")
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID, "explicit resolution and namespace fallback must agree")
}

func TestResolveAlias_UnknownAlias(t *testing.T) {
	r := registry.New()
	id := r.Load(doc("game.main"), "main1", false)
	c, _ := r.Get(id)

	_, err := r.ResolveAlias(c, "ghost")
	var rerr *registry.ImportResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "ghost", rerr.Alias)
}

func TestResolveAlias_UnloadedTargetRevertsThenFails(t *testing.T) {
	r := registry.New()
	r.Load(doc("game.loot"), "loot1", false)
	id := r.Load(doc("game.main", document.ImportBinding{Path: "game.loot", Alias: "loot"}), "main1", false)
	r.ResolveImports(nil)

	r.Unload("loot1")
	c, _ := r.Get(id)
	_, err := r.ResolveAlias(c, "loot")
	var rerr *registry.ImportResolutionError
	require.ErrorAs(t, err, &rerr, "binding to an unloaded collection must not survive")
	assert.Equal(t, "game.loot", rerr.Path)
}

func TestResolveImports_IgnoresUnknownExplicitID(t *testing.T) {
	r := registry.New()
	r.Load(doc("game.loot"), "loot1", false)
	id := r.Load(doc("game.main", document.ImportBinding{Path: "game.loot", Alias: "loot"}), "main1", false)

	// Explicit map points at an id that is not loaded; the namespace
	// fallback inside ResolveImports must still bind the alias.
	r.ResolveImports(map[string]string{"game.loot": "missing"})
	c, _ := r.Get(id)
	target, err := r.ResolveAlias(c, "loot")
	require.NoError(t, err)
	assert.Equal(t, "loot1", target.ID)
}
