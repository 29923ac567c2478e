// Package conflict decides whether a requested booking collides with an
// existing room occupancy, and flags overlapping rows for the board view.
package conflict

import (
	"fmt"
	"sort"
	"time"

	"roomcheck/internal/model"
	"roomcheck/internal/roomid"
)

// InputError means the candidate itself is unusable. Unlike feed problems
// it is returned to the caller.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("conflict: invalid %s: %s", e.Field, e.Reason)
}

// Detector compares occurrences by building and room number.
type Detector struct {
	identity *roomid.Identity
}

func NewDetector(identity *roomid.Identity) *Detector {
	return &Detector{identity: identity}
}

// Overlaps is the half-open overlap test; touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

type roomKey struct {
	building string
	room     string
}

func (d *Detector) key(o model.Occurrence) roomKey {
	return roomKey{
		building: d.identity.NormalizeBuilding(o.Building),
		room:     roomid.ParseRoomNumber(o.Room),
	}
}

// FindConflict returns the first existing occurrence that shares the
// candidate's room and overlaps it. Recurring classes are scanned first,
// then portal reservations, then manual entries. A nil result with a nil
// error means the slot is free.
func (d *Detector) FindConflict(candidate model.Occurrence, recurring, reservations, manual []model.Occurrence) (*model.Occurrence, error) {
	if err := d.Validate(candidate); err != nil {
		return nil, err
	}
	want := d.key(candidate)

	for _, group := range [][]model.Occurrence{recurring, reservations, manual} {
		for i := range group {
			e := group[i]
			if d.key(e) != want {
				continue
			}
			if Overlaps(candidate.Start, candidate.End, e.Start, e.End) {
				return &e, nil
			}
		}
	}
	return nil, nil
}

// Validate returns an *InputError when candidate cannot be checked.
func (d *Detector) Validate(candidate model.Occurrence) error {
	if !candidate.End.After(candidate.Start) {
		return &InputError{Field: "interval", Reason: "end must be after start"}
	}
	k := d.key(candidate)
	if k.building == "" {
		return &InputError{Field: "building", Reason: "building is empty"}
	}
	if k.room == "" {
		return &InputError{Field: "room", Reason: fmt.Sprintf("%q has no room number", candidate.Room)}
	}
	return nil
}

// MarkConflicts recomputes the Conflict flag of every occurrence in place and
// returns how many are flagged.
//
// Occurrences are grouped by room and sorted by start, and only neighbours in
// that order are compared: in [9,12) [9,9:30) [11,11:30) the first and third
// overlap but are never compared. Rows without a room number are never
// flagged.
func (d *Detector) MarkConflicts(occs []model.Occurrence) int {
	groups := make(map[roomKey][]int)
	var order []roomKey
	for i := range occs {
		occs[i].Conflict = false
		k := d.key(occs[i])
		if k.room == "" {
			continue
		}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	for _, k := range order {
		idx := groups[k]
		sort.SliceStable(idx, func(a, b int) bool {
			return occs[idx[a]].Start.Before(occs[idx[b]].Start)
		})
		for j := 0; j+1 < len(idx); j++ {
			cur, next := &occs[idx[j]], &occs[idx[j+1]]
			if cur.End.After(next.Start) {
				cur.Conflict = true
				next.Conflict = true
			}
		}
	}

	flagged := 0
	for i := range occs {
		if occs[i].Conflict {
			flagged++
		}
	}
	return flagged
}
