package deltas

import (
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Diff computes operations that turn before into after, so that
// Apply(before, Diff(before, after)) == after. Offsets are emitted against
// the text as it evolves, in the same code point units Apply uses.
func Diff(before, after string) []Operation {
	if before == after {
		return nil
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupEfficiency(dmp.DiffMain(before, after, false))

	var ops []Operation
	offset := 0
	for _, d := range diffs {
		n := utf8.RuneCountInString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			offset += n
		case diffmatchpatch.DiffInsert:
			ops = append(ops, Insert{Offset: offset, Text: d.Text})
			offset += n
		case diffmatchpatch.DiffDelete:
			ops = append(ops, Delete{Offset: offset, Length: n})
		}
	}
	return ops
}
