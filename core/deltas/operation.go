// Package deltas records fine-grained text edits made to tracked files.
//
// An Operation is a single Insert or Delete at a code point offset into the
// text as it stood immediately before the operation. A Delta groups the
// operations observed at one instant. Delta logs are persisted per file
// under the project's active session and can be replayed to reconstruct the
// file's text at any recorded point.
package deltas

import (
	"fmt"
	"unicode/utf8"
)

// Operation is one atomic text edit. Offsets and lengths count Unicode code
// points, not bytes.
//
// The interface is sealed: Insert and Delete are its only implementations.
type Operation interface {
	// applyTo edits text in place of the given rune slice and returns the result.
	applyTo(text []rune) ([]rune, error)
	// tag is the key this operation is stored under on disk.
	tag() string
}

// Insert splices Text into the current text at Offset.
type Insert struct {
	Offset int
	Text   string
}

// Delete removes Length code points starting at Offset.
type Delete struct {
	Offset int
	Length int
}

const (
	tagInsert = "insert"
	tagDelete = "delete"
)

func (i Insert) tag() string { return tagInsert }
func (d Delete) tag() string { return tagDelete }

func (i Insert) applyTo(text []rune) ([]rune, error) {
	if i.Offset < 0 || i.Offset > len(text) {
		return nil, fmt.Errorf("%w: insert at %d into text of length %d", ErrOutOfRange, i.Offset, len(text))
	}
	if i.Text == "" {
		return text, nil
	}

	ins := []rune(i.Text)
	out := make([]rune, 0, len(text)+len(ins))
	out = append(out, text[:i.Offset]...)
	out = append(out, ins...)
	out = append(out, text[i.Offset:]...)
	return out, nil
}

func (d Delete) applyTo(text []rune) ([]rune, error) {
	if d.Offset < 0 || d.Length < 0 || d.Offset > len(text) || d.Length > len(text)-d.Offset {
		return nil, fmt.Errorf("%w: delete %d at %d from text of length %d", ErrOutOfRange, d.Length, d.Offset, len(text))
	}
	if d.Length == 0 {
		return text, nil
	}

	out := make([]rune, 0, len(text)-d.Length)
	out = append(out, text[:d.Offset]...)
	out = append(out, text[d.Offset+d.Length:]...)
	return out, nil
}

func (i Insert) String() string {
	return fmt.Sprintf("insert(%d, %q)", i.Offset, i.Text)
}

func (d Delete) String() string {
	return fmt.Sprintf("delete(%d, %d)", d.Offset, d.Length)
}

// Len reports the number of code points inserted.
func (i Insert) Len() int {
	return utf8.RuneCountInString(i.Text)
}
