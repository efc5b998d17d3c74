// Package selector implements weighted random selection over table entry
// pools, including the composite (choose one source table) and collection
// (merge source pools) variants.
package selector

import (
	"fmt"

	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/dice"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/document"
)

// SelectionError reports an unselectable pool: empty, fully excluded by a
// uniqueness constraint, or with a non-positive weight total.
type SelectionError struct {
	TableID string
	Reason  string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("selector: table %q: %s", e.TableID, e.Reason)
}

// PoolEntry is one candidate in a selection pool. Source carries the id
// of the table that contributed the entry to a merged collection pool;
// it equals the rolled table's own id for simple tables.
type PoolEntry struct {
	Entry  *document.Entry
	Source string
	Weight float64
}

// Selection reports one weighted pick and its metadata.
type Selection struct {
	Entry          *document.Entry
	Source         string  // contributing table id
	SelectedWeight float64 // effective weight of the chosen entry
	TotalWeight    float64 // weight sum of the pool actually drawn from
	Probability    float64 // SelectedWeight / TotalWeight
	PoolSize       int     // number of candidates actually drawn from
	UniqueFiltered bool    // true when an exclusion removed candidates
}

// Exclusion tracks entries already chosen within one multi-roll so a
// uniqueness constraint can remove them from subsequent draws. It has no
// effect outside the multi-roll that owns it.
type Exclusion map[*document.Entry]struct{}

// Exclude marks an entry as already chosen.
func (x Exclusion) Exclude(e *document.Entry) {
	x[e] = struct{}{}
}

// BuildPool returns the selection pool for a simple table.
//
// Precondition: t.Kind must be KindSimple (or empty, the default).
func BuildPool(t *document.Table) []PoolEntry {
	pool := make([]PoolEntry, 0, len(t.Entries))
	for _, e := range t.Entries {
		pool = append(pool, PoolEntry{Entry: e, Source: t.ID, Weight: e.EffectiveWeight()})
	}
	return pool
}

// Pick performs one weighted draw over pool using src, honoring excl.
//
// Postcondition: returns a Selection with Probability ==
// SelectedWeight/TotalWeight exactly, or a *SelectionError when the
// remaining pool is empty or its weight total is <= 0.
func Pick(tableID string, pool []PoolEntry, src dice.Source, excl Exclusion) (Selection, error) {
	filtered := false
	candidates := pool
	if len(excl) > 0 {
		candidates = make([]PoolEntry, 0, len(pool))
		for _, pe := range pool {
			if _, gone := excl[pe.Entry]; gone {
				filtered = true
				continue
			}
			candidates = append(candidates, pe)
		}
	}

	if len(candidates) == 0 {
		reason := "entry pool is empty"
		if filtered {
			reason = "uniqueness constraint exhausted the entry pool"
		}
		return Selection{}, &SelectionError{TableID: tableID, Reason: reason}
	}

	total := 0.0
	for _, pe := range candidates {
		total += pe.Weight
	}
	if total <= 0 {
		return Selection{}, &SelectionError{TableID: tableID, Reason: "entry pool weight sum must be > 0"}
	}

	draw := src.Float64() * total
	cum := 0.0
	chosen := candidates[len(candidates)-1]
	for _, pe := range candidates {
		cum += pe.Weight
		if draw < cum {
			chosen = pe
			break
		}
	}

	return Selection{
		Entry:          chosen.Entry,
		Source:         chosen.Source,
		SelectedWeight: chosen.Weight,
		TotalWeight:    total,
		Probability:    chosen.Weight / total,
		PoolSize:       len(candidates),
		UniqueFiltered: filtered,
	}, nil
}

// CompositeChoice reports which source table a composite selection chose.
type CompositeChoice struct {
	Table       *document.Table // the winning source table
	Probability float64         // the winner's probability share
	TotalWeight float64         // probability sum over all candidates
	Candidates  int
}

// ChooseComposite weighted-selects one source table of a composite.
// resolve maps a source table reference to a concrete table; the caller
// supplies it so references can cross import boundaries.
//
// Precondition: t.Kind must be KindComposite.
func ChooseComposite(t *document.Table, src dice.Source, resolve func(ref string) (*document.Table, error)) (CompositeChoice, error) {
	if len(t.Sources) == 0 {
		return CompositeChoice{}, &SelectionError{TableID: t.ID, Reason: "composite table has no sources"}
	}

	total := 0.0
	for _, s := range t.Sources {
		total += s.Probability
	}
	if total <= 0 {
		return CompositeChoice{}, &SelectionError{TableID: t.ID, Reason: "composite probability sum must be > 0"}
	}

	draw := src.Float64() * total
	cum := 0.0
	winner := t.Sources[len(t.Sources)-1]
	for _, s := range t.Sources {
		cum += s.Probability
		if draw < cum {
			winner = s
			break
		}
	}

	tbl, err := resolve(winner.Table)
	if err != nil {
		return CompositeChoice{}, err
	}
	return CompositeChoice{
		Table:       tbl,
		Probability: winner.Probability / total,
		TotalWeight: total,
		Candidates:  len(t.Sources),
	}, nil
}

// MergeCollection builds the combined pool of a collection table by
// merging every source table's entries, summing weights and tagging each
// entry with the id of the table that contributed it.
//
// Precondition: t.Kind must be KindCollection; every source must resolve
// to a simple table.
func MergeCollection(t *document.Table, resolve func(ref string) (*document.Table, error)) ([]PoolEntry, error) {
	if len(t.Sources) == 0 {
		return nil, &SelectionError{TableID: t.ID, Reason: "collection table has no sources"}
	}

	var pool []PoolEntry
	for _, s := range t.Sources {
		srcTbl, err := resolve(s.Table)
		if err != nil {
			return nil, err
		}
		kind := srcTbl.Kind
		if kind == "" {
			kind = document.KindSimple
		}
		if kind != document.KindSimple {
			return nil, &SelectionError{TableID: t.ID, Reason: fmt.Sprintf("collection source %q must be a simple table, got %q", srcTbl.ID, kind)}
		}
		pool = append(pool, BuildPool(srcTbl)...)
	}
	return pool, nil
}
