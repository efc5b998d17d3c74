package eval

import (
	"go.uber.org/zap"

	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/document"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/registry"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/selector"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/trace"
)

// rollTable evaluates one roll of a table of any kind and returns the
// rendered text plus the selected entry's sets (for property chains and
// capture items). excl carries a multi-roll uniqueness constraint.
func (r *run) rollTable(t *document.Table, col *registry.Collection, excl selector.Exclusion) (string, map[string]string, error) {
	if err := r.enter(t.ID); err != nil {
		return "", nil, err
	}
	defer r.exit()

	node := r.tb.Begin(trace.TypeTableRoll, t.ID, "")
	text, sets, err := r.rollTableVariant(t, col, excl)
	if err != nil {
		r.tb.End(node, "", nil)
		return "", nil, err
	}
	r.tb.End(node, text, nil)

	r.ev.logger.Debug("table roll",
		zap.String("collection", col.ID),
		zap.String("table", t.ID),
		zap.String("result", text),
	)
	return text, sets, nil
}

// rollTableVariant dispatches on the table kind. The switch is
// exhaustive: an unknown kind is a validation escape and fails loudly.
func (r *run) rollTableVariant(t *document.Table, col *registry.Collection, excl selector.Exclusion) (string, map[string]string, error) {
	kind := t.Kind
	if kind == "" {
		kind = document.KindSimple
	}
	switch kind {
	case document.KindSimple:
		return r.rollSimple(t, col, excl)
	case document.KindComposite:
		return r.rollComposite(t, col, excl)
	case document.KindCollection:
		return r.rollCollection(t, col, excl)
	default:
		return "", nil, &ReferenceError{Ref: t.ID, Collection: col.ID, Msg: "unknown table kind " + string(t.Kind)}
	}
}

func (r *run) rollSimple(t *document.Table, col *registry.Collection, excl selector.Exclusion) (string, map[string]string, error) {
	sel, err := r.pick(t.ID, selector.BuildPool(t), excl)
	if err != nil {
		return "", nil, err
	}
	return r.renderSelection(t, col, sel, nil)
}

func (r *run) rollComposite(t *document.Table, col *registry.Collection, excl selector.Exclusion) (string, map[string]string, error) {
	owners := make(map[string]*registry.Collection)
	resolve := func(ref string) (*document.Table, error) {
		tbl, owner, err := r.resolveSource(ref, col)
		if err != nil {
			return nil, err
		}
		owners[tbl.ID] = owner
		return tbl, nil
	}

	node := r.tb.Begin(trace.TypeCompositeSelect, t.ID, "")
	choice, err := selector.ChooseComposite(t, r.ev.src, resolve)
	if err != nil {
		r.tb.End(node, "", nil)
		return "", nil, err
	}
	r.tb.End(node, choice.Table.ID, trace.CompositeMeta{
		Candidates:  choice.Candidates,
		ChosenTable: choice.Table.ID,
		Probability: choice.Probability,
	})

	text, sets, err := r.rollTable(choice.Table, owners[choice.Table.ID], excl)
	if err != nil {
		return "", nil, err
	}

	// Mirror the delegate's result under the composite's own id so
	// @composite.prop chains work regardless of which source won.
	frame := r.scopes.Current()
	frame.SetAll(t.ID, sets)
	frame.Set(t.ID, "", text)
	return text, sets, nil
}

func (r *run) rollCollection(t *document.Table, col *registry.Collection, excl selector.Exclusion) (string, map[string]string, error) {
	owners := make(map[string]*registry.Collection)
	resolve := func(ref string) (*document.Table, error) {
		tbl, owner, err := r.resolveSource(ref, col)
		if err != nil {
			return nil, err
		}
		owners[tbl.ID] = owner
		return tbl, nil
	}

	node := r.tb.Begin(trace.TypeCollectionMerge, t.ID, "")
	pool, err := selector.MergeCollection(t, resolve)
	if err != nil {
		r.tb.End(node, "", nil)
		return "", nil, err
	}
	r.tb.End(node, "", trace.CollectionMeta{Sources: len(t.Sources), PoolSize: len(pool)})

	sel, err := r.pick(t.ID, pool, excl)
	if err != nil {
		return "", nil, err
	}

	// The entry's pattern resolves against the collection that owns the
	// contributing table, not the one declaring the merge.
	ownerCol := owners[sel.Source]
	srcTable, _ := ownerCol.Document.Table(sel.Source)
	return r.renderSelection(t, ownerCol, sel, srcTable)
}

// pick runs one weighted draw with an entry_select trace node and marks
// the chosen entry in excl.
func (r *run) pick(tableID string, pool []selector.PoolEntry, excl selector.Exclusion) (selector.Selection, error) {
	node := r.tb.Begin(trace.TypeEntrySelect, tableID, "")
	sel, err := selector.Pick(tableID, pool, r.ev.src, excl)
	if err != nil {
		r.tb.End(node, "", nil)
		return selector.Selection{}, err
	}
	if excl != nil {
		excl.Exclude(sel.Entry)
	}
	r.tb.End(node, sel.Entry.Value, trace.SelectMeta{
		SelectedWeight: sel.SelectedWeight,
		TotalWeight:    sel.TotalWeight,
		Probability:    sel.Probability,
		PoolSize:       sel.PoolSize,
		UniqueFiltered: sel.UniqueFiltered,
		SourceTable:    sel.Source,
	})
	return sel, nil
}

// renderSelection writes the entry's sets into the active frame,
// evaluates the entry's value pattern, publishes the rendered value, and
// records the entry's description. srcTable is the contributing table of
// a merged pool, nil for plain simple rolls.
func (r *run) renderSelection(t *document.Table, ownerCol *registry.Collection, sel selector.Selection, srcTable *document.Table) (string, map[string]string, error) {
	frame := r.scopes.Current()
	frame.SetAll(t.ID, sel.Entry.Sets)
	if srcTable != nil {
		frame.SetAll(srcTable.ID, sel.Entry.Sets)
	}

	text, err := r.evalPattern(sel.Entry.Value, ownerCol, t)
	if err != nil {
		return "", nil, err
	}

	frame.Set(t.ID, "", text)
	if srcTable != nil {
		frame.Set(srcTable.ID, "", text)
	}

	if sel.Entry.Description != "" {
		descTable := t
		if srcTable != nil {
			descTable = srcTable
		}
		r.descs = append(r.descs, Description{
			TableID:     descTable.ID,
			TableName:   descTable.DisplayName(),
			RolledValue: text,
			Description: sel.Entry.Description,
		})
	}
	return text, sel.Entry.Sets, nil
}

// rollTemplate evaluates a template: shared variables stage placeholder
// context in order, then the main pattern renders. nodeType is
// template_roll at the top level and template_ref when referenced from a
// pattern.
func (r *run) rollTemplate(tpl *document.Template, col *registry.Collection, nodeType trace.NodeType) (string, error) {
	if err := r.enter(tpl.ID); err != nil {
		return "", err
	}
	defer r.exit()

	node := r.tb.Begin(nodeType, tpl.ID, "")

	frame := r.scopes.Current()
	for _, sv := range tpl.Shared {
		v, err := r.evalPattern(sv.Value, col, nil)
		if err != nil {
			r.tb.End(node, "", nil)
			return "", err
		}
		frame.Set(sv.Name, "", v)
	}

	text, err := r.evalPattern(tpl.Pattern, col, nil)
	if err != nil {
		r.tb.End(node, "", nil)
		return "", err
	}
	r.tb.End(node, text, nil)

	r.ev.logger.Debug("template roll",
		zap.String("collection", col.ID),
		zap.String("template", tpl.ID),
		zap.String("result", text),
	)
	return text, nil
}
