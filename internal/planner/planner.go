// Package planner turns per-identity action lists into the ordered task
// stream the scheduler consumes.
package planner

import (
	"sort"

	"browser-task-scheduler/internal/models"
)

// ActionSpec is one planned action for an identity.
type ActionSpec struct {
	Name    string         `json:"name" yaml:"name"`
	Payload map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Identity is everything the planner needs to build tasks for one key.
type Identity struct {
	ProfileDir string       `json:"profile_dir" yaml:"profile_dir"`
	Device     string       `json:"device" yaml:"device"`
	Headless   bool         `json:"headless" yaml:"headless"`
	Actions    []ActionSpec `json:"actions" yaml:"actions"`
}

// Slot addresses one action: the identity key and its column.
type Slot struct {
	Key   string
	Index int
}

// Interleave walks the columns of the per-key lists in sorted key order.
// A slot in column i is emitted only when some other key also has a slot in
// that column, so an identity that outlives the rest of the roster does not
// get rounds to itself. A roster with a single key emits every slot.
func Interleave(lens map[string]int) []Slot {
	keys := make([]string, 0, len(lens))
	width := 0
	for k, n := range lens {
		keys = append(keys, k)
		if n > width {
			width = n
		}
	}
	sort.Strings(keys)

	var out []Slot
	for i := 0; i < width; i++ {
		var col []string
		for _, k := range keys {
			if i < lens[k] {
				col = append(col, k)
			}
		}
		if len(col) < 2 && len(keys) > 1 {
			continue
		}
		for _, k := range col {
			out = append(out, Slot{Key: k, Index: i})
		}
	}
	return out
}

// Plan builds the task stream for a roster. Every task gets a fresh ID and
// a Seq of its column plus one.
func Plan(roster map[string]Identity) []models.Task {
	lens := make(map[string]int, len(roster))
	for k, id := range roster {
		lens[k] = len(id.Actions)
	}
	slots := Interleave(lens)
	tasks := make([]models.Task, 0, len(slots))
	for _, s := range slots {
		id := roster[s.Key]
		a := id.Actions[s.Index]
		t := models.NewTask(s.Key, id.ProfileDir, a.Name, a.Payload, id.Device, id.Headless)
		t.Seq = s.Index + 1
		tasks = append(tasks, t)
	}
	return tasks
}
