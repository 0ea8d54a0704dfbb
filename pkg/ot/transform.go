package ot

import (
	"github.com/ssenthilnathan3/dist-space/pkg/types"
)

// Transform rebases two operations composed against the same base state.
//
// It returns (aPrime, bPrime) where aPrime is a adjusted to apply after b,
// and bPrime is b adjusted to apply after a. The pair satisfies TP1:
// applying a then bPrime to the base yields the same content as applying b
// then aPrime.
//
// Ties between concurrent operations at the same position are broken by the
// lexicographic (OriginNode, OriginSeq) identity; the lesser pair is
// treated as earlier. Transform is pure and total: it never fails on
// normalized operations.
func Transform(a, b types.Operation) (types.Operation, types.Operation) {
	a = Normalize(a)
	b = Normalize(b)

	if a.IsNoOp() || b.IsNoOp() {
		return a, b
	}

	switch {
	case a.Kind == types.OpInsert && b.Kind == types.OpInsert:
		return transformInsertInsert(a, b)
	case a.Kind == types.OpInsert && b.Kind == types.OpDelete:
		return transformInsertDelete(a, b)
	case a.Kind == types.OpDelete && b.Kind == types.OpInsert:
		bp, ap := transformInsertDelete(b, a)
		return ap, bp
	case a.Kind == types.OpDelete && b.Kind == types.OpDelete:
		return transformDeleteDelete(a, b)
	case a.Kind == types.OpInsert && b.Kind == types.OpReplace:
		return transformInsertReplace(a, b)
	case a.Kind == types.OpReplace && b.Kind == types.OpInsert:
		bp, ap := transformInsertReplace(b, a)
		return ap, bp
	case a.Kind == types.OpDelete && b.Kind == types.OpReplace:
		return transformDeleteReplace(a, b)
	case a.Kind == types.OpReplace && b.Kind == types.OpDelete:
		bp, ap := transformDeleteReplace(b, a)
		return ap, bp
	default:
		return transformReplaceReplace(a, b)
	}
}

// Normalize collapses degenerate operations: empty inserts and zero-length
// deletes become NoOp, a Replace without deleted range becomes an Insert,
// and a Replace without replacement text becomes a Delete.
func Normalize(op types.Operation) types.Operation {
	switch op.Kind {
	case types.OpInsert:
		if op.Text == "" {
			return noOp(op)
		}
	case types.OpDelete:
		if op.Length <= 0 {
			return noOp(op)
		}
	case types.OpReplace:
		if op.Length <= 0 && op.Text == "" {
			return noOp(op)
		}
		if op.Length <= 0 {
			op.Kind = types.OpInsert
			op.Length = 0
		} else if op.Text == "" {
			op.Kind = types.OpDelete
		}
	}
	return op
}

// noOp preserves the identity and version fields so a consumed operation
// still acknowledges correctly.
func noOp(op types.Operation) types.Operation {
	op.Kind = types.OpNoOp
	op.Position = 0
	op.Length = 0
	op.Text = ""
	return op
}

func textLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}

func transformInsertInsert(a, b types.Operation) (types.Operation, types.Operation) {
	if a.Position < b.Position || (a.Position == b.Position && a.Before(b)) {
		b.Position += textLen(a.Text)
		return a, b
	}
	a.Position += textLen(b.Text)
	return a, b
}

// transformInsertDelete rebases an insert against a delete. An insert that
// falls strictly inside the deleted range survives at the delete seam; the
// delete, applied after the insert, must then absorb the range and
// reinstate the inserted text, which closes as a Replace.
func transformInsertDelete(ins, del types.Operation) (types.Operation, types.Operation) {
	la := textLen(ins.Text)
	switch {
	case ins.Position <= del.Position:
		del.Position += la
		return ins, del
	case ins.Position >= del.End():
		ins.Position -= del.Length
		return ins, del
	default:
		seam := del.Position
		del.Kind = types.OpReplace
		del.Length += la
		del.Text = ins.Text
		ins.Position = seam
		return ins, del
	}
}

func transformDeleteDelete(a, b types.Operation) (types.Operation, types.Operation) {
	switch {
	case a.End() <= b.Position:
		b.Position -= a.Length
		return a, b
	case b.End() <= a.Position:
		a.Position -= b.Length
		return a, b
	}

	overlap := min(a.End(), b.End()) - max(a.Position, b.Position)
	pos := min(a.Position, b.Position)

	a.Length -= overlap
	a.Position = pos
	b.Length -= overlap
	b.Position = pos
	return Normalize(a), Normalize(b)
}

func transformInsertReplace(ins, rep types.Operation) (types.Operation, types.Operation) {
	la := textLen(ins.Text)
	switch {
	case ins.Position <= rep.Position:
		rep.Position += la
		return ins, rep
	case ins.Position >= rep.End():
		ins.Position += textLen(rep.Text) - rep.Length
		return ins, rep
	default:
		// Interior insert: after the replace it sits past the replacement
		// text; the replace absorbs the inserted text and reinstates it
		// after its own.
		seam := rep.Position + textLen(rep.Text)
		rep.Length += la
		rep.Text += ins.Text
		ins.Position = seam
		return ins, rep
	}
}

func transformDeleteReplace(del, rep types.Operation) (types.Operation, types.Operation) {
	lt := textLen(rep.Text)
	switch {
	case del.End() <= rep.Position:
		rep.Position -= del.Length
		return del, rep
	case rep.End() <= del.Position:
		del.Position += lt - rep.Length
		return del, rep
	}

	overlap := min(del.End(), rep.End()) - max(del.Position, rep.Position)
	pref := max(0, rep.Position-del.Position)
	suf := max(0, del.End()-rep.End())

	// The replace's insert survives inside the deleted range, so the delete
	// applied after it must never remove the replacement text. When the
	// delete spans the whole replaced region it absorbs and reinstates the
	// text, closing as a Replace.
	delPrime := del
	switch {
	case pref > 0 && suf > 0:
		delPrime.Kind = types.OpReplace
		delPrime.Length = pref + lt + suf
		delPrime.Text = rep.Text
	case pref > 0:
		delPrime.Length = pref
	case suf > 0:
		delPrime.Position = rep.Position + lt
		delPrime.Length = suf
	default:
		delPrime = noOp(delPrime)
	}

	repPrime := rep
	repPrime.Position = rep.Position - pref
	repPrime.Length = rep.Length - overlap
	return Normalize(delPrime), Normalize(repPrime)
}

// transformReplaceReplace resolves overlapping replaces by identity: the
// lexicographically lesser (OriginNode, OriginSeq) wins its full region;
// the loser keeps only the deletion of its non-overlapping remainder.
func transformReplaceReplace(a, b types.Operation) (types.Operation, types.Operation) {
	switch {
	case a.End() <= b.Position:
		b.Position += textLen(a.Text) - a.Length
		return a, b
	case b.End() <= a.Position:
		a.Position += textLen(b.Text) - b.Length
		return a, b
	}

	if a.Before(b) {
		return replaceWinner(a, b), replaceLoser(b, a)
	}
	ap := replaceLoser(a, b)
	bp := replaceWinner(b, a)
	return ap, bp
}

// replaceWinner rebases the winning replace to apply after the loser: it
// removes whatever the loser left in and around the contested region
// (including the loser's replacement text) and installs its own text.
func replaceWinner(w, l types.Operation) types.Operation {
	w.Length = max(0, l.Position-w.Position) + textLen(l.Text) + max(0, w.End()-l.End())
	w.Position = min(w.Position, l.Position)
	w.Kind = types.OpReplace
	return Normalize(w)
}

// replaceLoser keeps the loser's non-overlapping remainder as a deletion.
// When the loser strictly contains the winner, both a prefix and a suffix
// remain and the rebased op must reinstate the winner's text between them.
func replaceLoser(l, w types.Operation) types.Operation {
	pref := max(0, w.Position-l.Position)
	suf := max(0, l.End()-w.End())
	lt := textLen(w.Text)

	switch {
	case pref > 0 && suf > 0:
		l.Kind = types.OpReplace
		l.Length = pref + lt + suf
		l.Text = w.Text
	case pref > 0:
		l.Kind = types.OpDelete
		l.Length = pref
		l.Text = ""
	case suf > 0:
		l.Kind = types.OpDelete
		l.Position = w.Position + lt
		l.Length = suf
		l.Text = ""
	default:
		l = noOp(l)
	}
	return Normalize(l)
}
