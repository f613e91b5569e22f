package model

import (
	"crypto/sha256"
	"fmt"
)

// HashChange represents a changed element detected by hash-based diffing.
type HashChange struct {
	ID      int                  `yaml:"i"           json:"i"`
	Role    string               `yaml:"r,omitempty" json:"r,omitempty"`
	Text    string               `yaml:"t,omitempty" json:"t,omitempty"`
	Changes map[string][2]string `yaml:"changes"     json:"changes"`
}

// TreeDiff is the result of comparing two element snapshots by content hash.
type TreeDiff struct {
	Added          []FlatElement `yaml:"added,omitempty"   json:"added,omitempty"`
	Removed        []FlatElement `yaml:"removed,omitempty" json:"removed,omitempty"`
	Changed        []HashChange  `yaml:"changed,omitempty" json:"changed,omitempty"`
	UnchangedCount int           `yaml:"unchanged_count"   json:"unchanged_count"`
}

// Empty reports whether the diff contains no additions, removals or changes.
func (d TreeDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// ElementHash computes a stable identity hash for an element based on its
// semantic content and position in the tree. Sequential IDs shift between
// dumps; the hash does not.
func ElementHash(el FlatElement) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s", el.Role, el.Class, el.Text, el.Description, el.ResourceID, el.Path)
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

// DiffElementsByHash compares two flat element lists using content hashing
// for stable identity.
func DiffElementsByHash(prev, curr []FlatElement) TreeDiff {
	prevByHash := make(map[string]FlatElement, len(prev))
	for _, el := range prev {
		prevByHash[ElementHash(el)] = el
	}
	currByHash := make(map[string]FlatElement, len(curr))
	for _, el := range curr {
		currByHash[ElementHash(el)] = el
	}

	var diff TreeDiff

	for _, el := range curr {
		prevEl, existed := prevByHash[ElementHash(el)]
		if !existed {
			diff.Added = append(diff.Added, el)
			continue
		}
		changes := diffProperties(prevEl, el)
		if len(changes) > 0 {
			diff.Changed = append(diff.Changed, HashChange{
				ID:      el.ID,
				Role:    el.Role,
				Text:    el.Text,
				Changes: changes,
			})
		} else {
			diff.UnchangedCount++
		}
	}

	for _, el := range prev {
		if _, exists := currByHash[ElementHash(el)]; !exists {
			diff.Removed = append(diff.Removed, el)
		}
	}

	return diff
}

// diffProperties compares the mutable properties of two hash-matched elements.
func diffProperties(prev, curr FlatElement) map[string][2]string {
	diffs := make(map[string][2]string)

	if prev.Bounds != curr.Bounds {
		diffs["b"] = [2]string{
			fmt.Sprintf("%v", prev.Bounds),
			fmt.Sprintf("%v", curr.Bounds),
		}
	}
	if prev.Focused != curr.Focused {
		diffs["f"] = [2]string{
			fmt.Sprintf("%v", prev.Focused),
			fmt.Sprintf("%v", curr.Focused),
		}
	}
	if prev.Selected != curr.Selected {
		diffs["s"] = [2]string{
			fmt.Sprintf("%v", prev.Selected),
			fmt.Sprintf("%v", curr.Selected),
		}
	}
	if (prev.Enabled == nil || *prev.Enabled) != (curr.Enabled == nil || *curr.Enabled) {
		diffs["e"] = [2]string{
			fmt.Sprintf("%v", prev.Enabled == nil || *prev.Enabled),
			fmt.Sprintf("%v", curr.Enabled == nil || *curr.Enabled),
		}
	}

	if len(diffs) == 0 {
		return nil
	}
	return diffs
}
