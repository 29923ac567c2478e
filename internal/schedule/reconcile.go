package schedule

import "fmt"

// ReconcileCounts assigns one room token to every expanded time code. The
// returned slice has the same length as times, or is nil when rooms is empty.
type ReconcileCounts func(times, rooms []string) []string

// PadWithLast is the default strategy: a single room is repeated for every
// time code, a shorter list is padded with its last room, and rooms beyond
// the number of time codes are dropped.
func PadWithLast(times, rooms []string) []string {
	if len(rooms) == 0 || len(times) == 0 {
		return nil
	}
	out := make([]string, len(times))
	for i := range times {
		j := i
		if j >= len(rooms) {
			j = len(rooms) - 1
		}
		out[i] = rooms[j]
	}
	return out
}

// SpreadEvenly hands consecutive runs of time codes to each room: every room
// gets len(times)/len(rooms) codes and the first len(times)%len(rooms) rooms
// get one more. This is how the registrar's spreadsheet export lays out
// lectures taught in several rooms.
func SpreadEvenly(times, rooms []string) []string {
	if len(rooms) == 0 || len(times) == 0 {
		return nil
	}
	per := len(times) / len(rooms)
	extra := len(times) % len(rooms)

	out := make([]string, 0, len(times))
	for i, room := range rooms {
		n := per
		if i < extra {
			n++
		}
		for k := 0; k < n; k++ {
			out = append(out, room)
		}
	}
	return out
}

// CardinalityWarning reports a record whose room and time counts differed,
// so rooms were assigned heuristically.
type CardinalityWarning struct {
	Name  string
	Times int
	Rooms int
	// Approximate is set when the room count does not divide the time count.
	Approximate bool
}

func (w CardinalityWarning) Error() string {
	kind := "padded"
	if w.Approximate {
		kind = "approximate"
	}
	return fmt.Sprintf("schedule: %q has %d time codes but %d rooms (%s)", w.Name, w.Times, w.Rooms, kind)
}

func cardinalityWarning(name string, times, rooms int) (CardinalityWarning, bool) {
	if rooms <= 1 || rooms == times {
		return CardinalityWarning{}, false
	}
	return CardinalityWarning{
		Name:        name,
		Times:       times,
		Rooms:       rooms,
		Approximate: times%rooms != 0,
	}, true
}
