package ot

import (
	"fmt"

	"github.com/ssenthilnathan3/dist-space/pkg/types"
)

// Apply folds one operation into content. Positions are rune offsets; the
// precondition position+length <= len(content) must hold or the call fails
// with ErrBadPrecondition.
func Apply(content string, op types.Operation) (string, error) {
	if op.IsNoOp() {
		return content, nil
	}

	runes := []rune(content)
	n := len(runes)

	if op.Position < 0 || op.Length < 0 {
		return "", fmt.Errorf("%w: negative position or length", types.ErrBadPrecondition)
	}

	switch op.Kind {
	case types.OpInsert:
		if op.Position > n {
			return "", fmt.Errorf("%w: insert position %d beyond length %d", types.ErrBadPrecondition, op.Position, n)
		}
		out := make([]rune, 0, n+len(op.Text))
		out = append(out, runes[:op.Position]...)
		out = append(out, []rune(op.Text)...)
		out = append(out, runes[op.Position:]...)
		return string(out), nil

	case types.OpDelete:
		if op.End() > n {
			return "", fmt.Errorf("%w: delete range [%d,%d) beyond length %d", types.ErrBadPrecondition, op.Position, op.End(), n)
		}
		out := make([]rune, 0, n-op.Length)
		out = append(out, runes[:op.Position]...)
		out = append(out, runes[op.End():]...)
		return string(out), nil

	case types.OpReplace:
		if op.End() > n {
			return "", fmt.Errorf("%w: replace range [%d,%d) beyond length %d", types.ErrBadPrecondition, op.Position, op.End(), n)
		}
		out := make([]rune, 0, n-op.Length+len(op.Text))
		out = append(out, runes[:op.Position]...)
		out = append(out, []rune(op.Text)...)
		out = append(out, runes[op.End():]...)
		return string(out), nil

	default:
		return "", fmt.Errorf("%w: unknown operation kind %q", types.ErrBadPrecondition, op.Kind)
	}
}

// InBounds reports whether the operation addresses a valid range of content
func InBounds(content string, op types.Operation) bool {
	n := len([]rune(content))
	if op.Position < 0 || op.Length < 0 {
		return false
	}
	if op.Kind == types.OpInsert {
		return op.Position <= n
	}
	return op.End() <= n
}
