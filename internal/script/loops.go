package script

import "fmt"

// PairState tags a loop index entry.
type PairState int

const (
	Paired PairState = iota
	Unpaired
)

func (s PairState) String() string {
	if s == Paired {
		return "paired"
	}
	return "unpaired"
}

// LoopEntry is one loop region, or one dangling boundary when Unpaired.
// Start or End is -1 for the missing side of an unpaired boundary.
type LoopEntry struct {
	LoopID string    `yaml:"loop_id" json:"loop_id"`
	Start  int       `yaml:"start"   json:"start"`
	End    int       `yaml:"end"     json:"end"`
	Depth  int       `yaml:"depth"   json:"depth"`
	State  PairState `yaml:"state"   json:"state"`
}

// Contains reports whether pos lies inside the region, its loop_end
// included and its loop_start excluded.
func (e LoopEntry) Contains(pos int) bool {
	return e.State == Paired && e.Start < pos && pos <= e.End
}

// LoopIndex maps loop boundaries to their partners by program position.
type LoopIndex struct {
	Entries []LoopEntry `yaml:"entries" json:"entries"`

	byStart map[int]int
	byEnd   map[int]int
}

func (x *LoopIndex) add(e LoopEntry) int {
	if x.byStart == nil {
		x.byStart = map[int]int{}
		x.byEnd = map[int]int{}
	}
	x.Entries = append(x.Entries, e)
	i := len(x.Entries) - 1
	x.reindex(i)
	return i
}

func (x *LoopIndex) reindex(i int) {
	e := x.Entries[i]
	if e.Start >= 0 {
		x.byStart[e.Start] = i
	}
	if e.End >= 0 {
		x.byEnd[e.End] = i
	}
}

// ByStart returns the entry whose loop_start is at pos.
func (x LoopIndex) ByStart(pos int) (LoopEntry, bool) {
	i, ok := x.byStart[pos]
	if !ok {
		return LoopEntry{}, false
	}
	return x.Entries[i], true
}

// ByEnd returns the entry whose loop_end is at pos.
func (x LoopIndex) ByEnd(pos int) (LoopEntry, bool) {
	i, ok := x.byEnd[pos]
	if !ok {
		return LoopEntry{}, false
	}
	return x.Entries[i], true
}

// Len is the number of paired regions.
func (x LoopIndex) Len() int {
	n := 0
	for _, e := range x.Entries {
		if e.State == Paired {
			n++
		}
	}
	return n
}

// Enclosing returns the paired regions containing pos, outermost first.
func (x LoopIndex) Enclosing(pos int) []LoopEntry {
	var out []LoopEntry
	for _, e := range x.Entries {
		if e.Contains(pos) {
			out = append(out, e)
		}
	}
	return out
}

// MaxDepth is the deepest nesting level of any paired region, 1 for a
// single unnested loop.
func (x LoopIndex) MaxDepth() int {
	d := 0
	for _, e := range x.Entries {
		if e.State == Paired && e.Depth+1 > d {
			d = e.Depth + 1
		}
	}
	return d
}

// buildLoopIndex pairs loop boundaries. An explicit loop_end id pairs with
// the open loop of that id; otherwise the innermost open loop is taken.
func buildLoopIndex(steps []Step, params []Params) (LoopIndex, []*ParseError) {
	var (
		idx   LoopIndex
		issue []*ParseError
		open  []int // entry indexes of unclosed loop_starts
	)
	for pos, st := range steps {
		switch p := params[pos].(type) {
		case LoopStartParams:
			for _, o := range open {
				if idx.Entries[o].LoopID == p.LoopID {
					issue = append(issue, newParseError(st.ID, ReasonInvalidParameter,
						fmt.Sprintf("loop id %q is already open at step %q", p.LoopID, steps[idx.Entries[o].Start].ID)))
				}
			}
			open = append(open, idx.add(LoopEntry{LoopID: p.LoopID, Start: pos, End: -1, Depth: len(open), State: Unpaired}))

		case LoopEndParams:
			if len(open) == 0 {
				idx.add(LoopEntry{LoopID: p.LoopID, Start: -1, End: pos, State: Unpaired})
				issue = append(issue, newParseError(st.ID, ReasonUnmatchedLoopEnd, "no open loop_start"))
				continue
			}
			at := len(open) - 1
			if p.LoopID != "" {
				at = -1
				for i := len(open) - 1; i >= 0; i-- {
					e := idx.Entries[open[i]]
					if e.LoopID == p.LoopID || steps[e.Start].ID == p.LoopID {
						at = i
						break
					}
				}
				if at < 0 {
					idx.add(LoopEntry{LoopID: p.LoopID, Start: -1, End: pos, State: Unpaired})
					issue = append(issue, newParseError(st.ID, ReasonUnmatchedLoopEnd,
						fmt.Sprintf("no open loop with id %q", p.LoopID)))
					continue
				}
				if at != len(open)-1 {
					inner := idx.Entries[open[len(open)-1]]
					issue = append(issue, newParseError(st.ID, ReasonCrossingLoop,
						fmt.Sprintf("closes loop %q while loop %q opened at step %q is still open", p.LoopID, inner.LoopID, steps[inner.Start].ID)))
				}
			}
			e := open[at]
			idx.Entries[e].End = pos
			idx.Entries[e].State = Paired
			idx.reindex(e)
			open = append(open[:at], open[at+1:]...)
		}
	}
	for _, o := range open {
		e := idx.Entries[o]
		issue = append(issue, newParseError(steps[e.Start].ID, ReasonUnmatchedLoopStart,
			fmt.Sprintf("loop %q has no loop_end", e.LoopID)))
	}
	return idx, issue
}
