package document

import (
	"errors"
	"fmt"
)

// Validate checks the structural invariants of a parsed document:
// unique table/template ids, exclusive weight/range per entry, positive
// selectable weight for simple tables, non-empty sources with a positive
// probability total for composites, and a valid kind tag.
//
// Postcondition: returns nil, or an error joining every violation found.
func (d *Document) Validate() error {
	var errs []error

	if d.Metadata.Namespace == "" {
		errs = append(errs, errors.New("metadata.namespace must not be empty"))
	}

	seen := make(map[string]bool)
	for _, t := range d.Tables {
		if t.ID == "" {
			errs = append(errs, errors.New("table id must not be empty"))
			continue
		}
		if seen[t.ID] {
			errs = append(errs, fmt.Errorf("duplicate table id %q", t.ID))
		}
		seen[t.ID] = true
		errs = append(errs, t.validate()...)
	}
	for _, tpl := range d.Templates {
		if tpl.ID == "" {
			errs = append(errs, errors.New("template id must not be empty"))
			continue
		}
		if seen[tpl.ID] {
			errs = append(errs, fmt.Errorf("duplicate template id %q", tpl.ID))
		}
		seen[tpl.ID] = true
		if tpl.Pattern == "" {
			errs = append(errs, fmt.Errorf("template %q: pattern must not be empty", tpl.ID))
		}
	}

	aliases := make(map[string]bool)
	for _, imp := range d.Imports {
		if imp.Alias == "" || imp.Path == "" {
			errs = append(errs, errors.New("import path and alias must not be empty"))
			continue
		}
		if aliases[imp.Alias] {
			errs = append(errs, fmt.Errorf("duplicate import alias %q", imp.Alias))
		}
		aliases[imp.Alias] = true
	}

	return errors.Join(errs...)
}

func (t *Table) validate() []error {
	var errs []error

	kind := t.Kind
	if kind == "" {
		kind = KindSimple
	}

	// Exhaustive over the table variants; a new kind must be handled here.
	switch kind {
	case KindSimple:
		if len(t.Entries) == 0 {
			errs = append(errs, fmt.Errorf("table %q: simple table must have entries", t.ID))
			break
		}
		total := 0.0
		for i, e := range t.Entries {
			if e.Weight > 0 && e.Range != nil {
				errs = append(errs, fmt.Errorf("table %q entry %d: weight and range are mutually exclusive", t.ID, i))
			}
			if e.Weight < 0 {
				errs = append(errs, fmt.Errorf("table %q entry %d: weight must be >= 0", t.ID, i))
			}
			if e.Range != nil && e.Range.Width() <= 0 {
				errs = append(errs, fmt.Errorf("table %q entry %d: range must have max >= min", t.ID, i))
			}
			total += e.EffectiveWeight()
		}
		if total <= 0 {
			errs = append(errs, fmt.Errorf("table %q: entry pool weight sum must be > 0", t.ID))
		}
	case KindComposite:
		if len(t.Sources) == 0 {
			errs = append(errs, fmt.Errorf("table %q: composite table must have sources", t.ID))
			break
		}
		total := 0.0
		for i, s := range t.Sources {
			if s.Table == "" {
				errs = append(errs, fmt.Errorf("table %q source %d: table ref must not be empty", t.ID, i))
			}
			if s.Probability < 0 {
				errs = append(errs, fmt.Errorf("table %q source %d: probability must be >= 0", t.ID, i))
			}
			total += s.Probability
		}
		if total <= 0 {
			errs = append(errs, fmt.Errorf("table %q: composite probability sum must be > 0", t.ID))
		}
	case KindCollection:
		if len(t.Sources) == 0 {
			errs = append(errs, fmt.Errorf("table %q: collection table must have sources", t.ID))
		}
		for i, s := range t.Sources {
			if s.Table == "" {
				errs = append(errs, fmt.Errorf("table %q source %d: table ref must not be empty", t.ID, i))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("table %q: unknown kind %q", t.ID, t.Kind))
	}

	return errs
}
