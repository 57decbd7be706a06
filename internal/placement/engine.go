// Package placement validates and applies host edits to a session's habitat
// grid, and keeps a bounded undo/redo log of those edits.
package placement

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"habitat/internal/board"
	"habitat/internal/clock"
	"habitat/internal/geometry"
	"habitat/internal/metrics"
	"habitat/internal/session"
	"habitat/pkg/interfaces"
	"habitat/pkg/types"
)

// DefaultHistory is the number of edits kept for undo.
const DefaultHistory = 64

// AreaEvent is the payload of area_placed, area_updated and area_removed.
type AreaEvent struct {
	Area types.Area `json:"area"`
	By   string     `json:"by"`
}

// Engine applies placement commands. Every command re-checks host authority
// and runs inside the session's critical section, so a rejected command
// leaves the board untouched.
type Engine struct {
	sessions *session.Manager
	mask     *geometry.Mask
	pub      interfaces.Broadcaster
	clock    clock.Clock
	metrics  *metrics.Recorder
	logger   zerolog.Logger

	historyCap int
	mu         sync.Mutex
	logs       map[string]*history // keyed by session run id
}

// NewEngine creates a placement engine. mask may be nil.
func NewEngine(sessions *session.Manager, mask *geometry.Mask, pub interfaces.Broadcaster, clk clock.Clock, rec *metrics.Recorder, logger zerolog.Logger) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Engine{
		sessions:   sessions,
		mask:       mask,
		pub:        pub,
		clock:      clk,
		metrics:    rec,
		logger:     logger.With().Str("component", "placement").Logger(),
		historyCap: DefaultHistory,
		logs:       make(map[string]*history),
	}
}

// SetHistoryCapacity changes the undo depth for logs created afterwards.
func (e *Engine) SetHistoryCapacity(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.historyCap = n
}

// IsAllowed reports whether tile (tx, ty) of a gridW×gridH grid lands on a
// buildable mask cell. Everything is allowed without a mask.
func IsAllowed(mask *geometry.Mask, tx, ty, gridW, gridH int) bool {
	return mask.TileAllowed(tx, ty, gridW, gridH)
}

// Legal combines the board collision check with the mask check for every
// footprint tile.
func Legal(b *board.Board, mask *geometry.Mask, a types.Area, ignoreID int) bool {
	return b.CanPlace(a.X, a.Y, a.W, a.H, ignoreID) &&
		mask.FootprintAllowed(a.X, a.Y, a.W, a.H, b.Width(), b.Height())
}

// CanPlace evaluates a rectangle against the session's current board.
func (e *Engine) CanPlace(sessionID string, x, y, w, h, ignoreID int) (bool, error) {
	ok := false
	err := e.sessions.View(sessionID, func(s *session.Session) {
		ok = Legal(s.Board, e.mask, types.Area{X: x, Y: y, W: w, H: h}, ignoreID)
	})
	return ok, err
}

// Place adds a new area. Only the host may place.
func (e *Engine) Place(sessionID, connID string, spec types.AreaSpec) (types.Area, error) {
	if err := types.ValidateAreaSpec(spec); err != nil {
		return types.Area{}, e.reject(types.MessageTypePlaceArea, err)
	}
	var placed types.Area
	err := e.sessions.Update(sessionID, func(s *session.Session) error {
		if !s.IsHost(connID) {
			return types.ErrNotHost
		}
		a := types.Area{Type: spec.Type, X: spec.X, Y: spec.Y, W: spec.W, H: spec.H}
		if !Legal(s.Board, e.mask, a, board.Empty) {
			return fmt.Errorf("%w: %s %dx%d at (%d,%d)", types.ErrInvalidPlacement, a.Type, a.W, a.H, a.X, a.Y)
		}
		stored := s.InsertArea(a)
		placed = *stored
		e.historyFor(s.RunID).record(transition{after: clone(stored)})
		return nil
	})
	if err != nil {
		return types.Area{}, e.reject(types.MessageTypePlaceArea, err)
	}
	e.metrics.AreaPlaced(string(placed.Type))
	e.emit(sessionID, types.EventAreaPlaced, placed, connID)
	return placed, nil
}

// Move relocates an area, keeping its size and rotation.
func (e *Engine) Move(sessionID, connID string, areaID, x, y int) (types.Area, error) {
	return e.Update(sessionID, connID, types.AreaUpdate{AreaID: areaID, X: &x, Y: &y})
}

// Rotate turns an area by 90 degrees in place, swapping width and height.
func (e *Engine) Rotate(sessionID, connID string, areaID int) (types.Area, error) {
	return e.Update(sessionID, connID, types.AreaUpdate{AreaID: areaID, Rotate: true})
}

// Update applies a rotation and/or move as one edit. The new footprint is
// validated with the area's own cells ignored; on failure nothing changes.
func (e *Engine) Update(sessionID, connID string, upd types.AreaUpdate) (types.Area, error) {
	var updated types.Area
	err := e.sessions.Update(sessionID, func(s *session.Session) error {
		if !s.IsHost(connID) {
			return types.ErrNotHost
		}
		cur, ok := s.Areas[upd.AreaID]
		if !ok {
			return fmt.Errorf("%w: %d", types.ErrAreaNotFound, upd.AreaID)
		}
		next := *cur
		if upd.Rotate {
			next.W, next.H = next.H, next.W
			next.Rotation = (next.Rotation + 90) % 360
		}
		if upd.X != nil {
			next.X = *upd.X
		}
		if upd.Y != nil {
			next.Y = *upd.Y
		}
		if next == *cur {
			updated = next
			return nil
		}
		if !Legal(s.Board, e.mask, next, next.ID) {
			return fmt.Errorf("%w: area %d %dx%d at (%d,%d)", types.ErrInvalidPlacement, next.ID, next.W, next.H, next.X, next.Y)
		}
		tr := transition{before: clone(cur), after: clone(&next)}
		s.ReplaceArea(next)
		e.historyFor(s.RunID).record(tr)
		updated = next
		return nil
	})
	if err != nil {
		return types.Area{}, e.reject(types.MessageTypeUpdateArea, err)
	}
	e.emit(sessionID, types.EventAreaUpdated, updated, connID)
	return updated, nil
}

// Remove deletes an area and clears its cells.
func (e *Engine) Remove(sessionID, connID string, areaID int) (types.Area, error) {
	var removed types.Area
	err := e.sessions.Update(sessionID, func(s *session.Session) error {
		if !s.IsHost(connID) {
			return types.ErrNotHost
		}
		a, ok := s.DeleteArea(areaID)
		if !ok {
			return fmt.Errorf("%w: %d", types.ErrAreaNotFound, areaID)
		}
		removed = a
		e.historyFor(s.RunID).record(transition{before: clone(&a)})
		return nil
	})
	if err != nil {
		return types.Area{}, e.reject(types.MessageTypeRemoveArea, err)
	}
	e.emit(sessionID, types.EventAreaRemoved, removed, connID)
	return removed, nil
}

// Undo reverts the most recent edit. It returns the affected area and the
// event type describing what the revert did.
func (e *Engine) Undo(sessionID, connID string) (types.Area, string, error) {
	return e.replay(sessionID, connID, types.MessageTypeUndo)
}

// Redo re-applies the most recently undone edit.
func (e *Engine) Redo(sessionID, connID string) (types.Area, string, error) {
	return e.replay(sessionID, connID, types.MessageTypeRedo)
}

func (e *Engine) replay(sessionID, connID, command string) (types.Area, string, error) {
	var (
		area types.Area
		kind string
	)
	err := e.sessions.Update(sessionID, func(s *session.Session) error {
		if !s.IsHost(connID) {
			return types.ErrNotHost
		}
		h := e.historyFor(s.RunID)

		var (
			tr  transition
			ok  bool
			run transition
		)
		if command == types.MessageTypeUndo {
			if tr, ok = h.popUndo(); !ok {
				return types.ErrNothingToUndo
			}
			run = tr.inverse()
		} else {
			if tr, ok = h.popRedo(); !ok {
				return types.ErrNothingToRedo
			}
			run = tr
		}

		if err := e.apply(s, run); err != nil {
			// Put the entry back so the log stays consistent with the board.
			if command == types.MessageTypeUndo {
				h.pushUndo(tr)
			} else {
				h.pushRedo(tr)
			}
			return err
		}
		if command == types.MessageTypeUndo {
			h.pushRedo(tr)
		} else {
			h.pushUndo(tr)
		}

		kind = run.kind()
		if run.after != nil {
			area = *run.after
		} else {
			area = *run.before
		}
		return nil
	})
	if err != nil {
		return types.Area{}, "", e.reject(command, err)
	}
	e.emit(sessionID, kind, area, connID)
	return area, kind, nil
}

// apply performs a logged transition after re-validating it.
func (e *Engine) apply(s *session.Session, tr transition) error {
	if tr.before != nil {
		cur, ok := s.Areas[tr.before.ID]
		if !ok || *cur != *tr.before {
			return fmt.Errorf("%w: area %d changed since it was logged", types.ErrInvalidPlacement, tr.before.ID)
		}
	} else if tr.after != nil {
		if _, exists := s.Areas[tr.after.ID]; exists {
			return fmt.Errorf("%w: area %d already exists", types.ErrInvalidPlacement, tr.after.ID)
		}
	}
	if tr.after != nil && !Legal(s.Board, e.mask, *tr.after, tr.after.ID) {
		return fmt.Errorf("%w: area %d no longer fits", types.ErrInvalidPlacement, tr.after.ID)
	}

	switch {
	case tr.before == nil:
		s.InsertArea(*tr.after)
	case tr.after == nil:
		s.DeleteArea(tr.before.ID)
	default:
		s.ReplaceArea(*tr.after)
	}
	return nil
}

// Forget drops the edit log of a session run.
func (e *Engine) Forget(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.logs, runID)
}

func (e *Engine) historyFor(runID string) *history {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.logs[runID]
	if !ok {
		h = newHistory(e.historyCap)
		e.logs[runID] = h
	}
	return h
}

func (e *Engine) emit(sessionID, kind string, a types.Area, by string) {
	if e.pub == nil {
		return
	}
	e.pub.Publish(sessionID, types.NewOutbound(kind, AreaEvent{Area: a, By: by}, e.clock.Now()))
	e.pub.MarkDirty(sessionID)
}

func (e *Engine) reject(command string, err error) error {
	e.logger.Debug().Err(err).Str("command", command).Msg("placement rejected")
	return err
}
