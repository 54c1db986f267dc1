package deltas

import "fmt"

// Apply runs ops against base in order, each against the result of the
// previous one. Apply has no side effects.
func Apply(base string, ops []Operation) (string, error) {
	text, err := applyRunes([]rune(base), ops)
	if err != nil {
		return "", err
	}
	return string(text), nil
}

func applyRunes(text []rune, ops []Operation) ([]rune, error) {
	var err error
	for i, op := range ops {
		text, err = op.applyTo(text)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return text, nil
}

// Replay folds every delta of the log over base, in log order.
func Replay(base string, deltas []Delta) (string, error) {
	return replay(base, deltas, len(deltas))
}

// ReplayPrefix reconstructs the text after the first n deltas.
func ReplayPrefix(base string, deltas []Delta, n int) (string, error) {
	if n < 0 || n > len(deltas) {
		return "", fmt.Errorf("%w: prefix %d of log with %d deltas", ErrOutOfRange, n, len(deltas))
	}
	return replay(base, deltas, n)
}

// ReplayUntil reconstructs the text as of timestampMs: every delta recorded
// at or before that instant is applied. Logs are appended in time order, so
// replay stops at the first later delta.
func ReplayUntil(base string, deltas []Delta, timestampMs int64) (string, error) {
	n := 0
	for n < len(deltas) && deltas[n].TimestampMs <= timestampMs {
		n++
	}
	return replay(base, deltas, n)
}

func replay(base string, deltas []Delta, n int) (string, error) {
	text := []rune(base)
	var err error
	for i := 0; i < n; i++ {
		text, err = applyRunes(text, deltas[i].Operations)
		if err != nil {
			return "", fmt.Errorf("delta %d: %w", i, err)
		}
	}
	return string(text), nil
}
