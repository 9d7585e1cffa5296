// Package playground implements multi-context, multi-environment feature
// evaluation: it expands a context template into concrete contexts, guards
// against combinatorial explosion, and fans evaluation out across a bounded
// worker pool before grouping results per feature and environment.
package playground

import (
	"iter"

	"github.com/switchyard-io/switchyard/internal/core"
)

// TemplateField is one field of a context template. A field with multiple
// values fans out the Cartesian product; value order is preserved in the
// expansion.
type TemplateField struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Template is an ordered context template. Field order determines expansion
// order, so identical templates always expand to the identical sequence.
type Template struct {
	Base   core.Context
	Fields []TemplateField
}

// Combinations returns the number of contexts the template expands to.
// A template with no multi-valued fields expands to exactly one context.
func (t Template) Combinations() int {
	total := 1
	for _, field := range t.Fields {
		if len(field.Values) > 0 {
			total *= len(field.Values)
		}
	}
	return total
}

// Contexts returns a lazy, restartable sequence of the template's concrete
// single-valued contexts: the Cartesian product over every multi-valued
// field, in field declaration order with input value order preserved. The
// template is never mutated and no combination is produced twice.
func (t Template) Contexts() iter.Seq[core.Context] {
	return func(yield func(core.Context) bool) {
		fields := make([]TemplateField, 0, len(t.Fields))
		for _, field := range t.Fields {
			if len(field.Values) > 0 {
				fields = append(fields, field)
			}
		}

		if len(fields) == 0 {
			yield(t.Base)
			return
		}

		// Odometer over value indexes, rightmost field fastest.
		indexes := make([]int, len(fields))
		for {
			context := t.Base
			for i, field := range fields {
				context = context.WithField(field.Name, field.Values[indexes[i]])
			}
			if !yield(context) {
				return
			}

			pos := len(fields) - 1
			for pos >= 0 {
				indexes[pos]++
				if indexes[pos] < len(fields[pos].Values) {
					break
				}
				indexes[pos] = 0
				pos--
			}
			if pos < 0 {
				return
			}
		}
	}
}
