package placement

import "habitat/pkg/types"

// transition is one edit of the board: the area before and after. A nil
// side means the area did not exist. Its inverse swaps the sides.
type transition struct {
	before *types.Area
	after  *types.Area
}

func (t transition) inverse() transition {
	return transition{before: t.after, after: t.before}
}

// kind names the outbound event a transition produces.
func (t transition) kind() string {
	switch {
	case t.before == nil:
		return types.EventAreaPlaced
	case t.after == nil:
		return types.EventAreaRemoved
	default:
		return types.EventAreaUpdated
	}
}

// history is a bounded undo/redo log. A new edit clears the redo side.
type history struct {
	capacity int
	undo     []transition
	redo     []transition
}

func newHistory(capacity int) *history {
	return &history{capacity: capacity}
}

func (h *history) record(t transition) {
	h.undo = append(h.undo, t)
	if over := len(h.undo) - h.capacity; h.capacity > 0 && over > 0 {
		h.undo = append([]transition(nil), h.undo[over:]...)
	}
	h.redo = h.redo[:0]
}

func (h *history) popUndo() (transition, bool) {
	if len(h.undo) == 0 {
		return transition{}, false
	}
	t := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	return t, true
}

func (h *history) popRedo() (transition, bool) {
	if len(h.redo) == 0 {
		return transition{}, false
	}
	t := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	return t, true
}

func (h *history) pushUndo(t transition) {
	h.undo = append(h.undo, t)
}

func (h *history) pushRedo(t transition) {
	h.redo = append(h.redo, t)
}

func clone(a *types.Area) *types.Area {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}
