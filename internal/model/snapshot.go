package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultScreen is used when a snapshot carries no usable root bounds.
var DefaultScreen = [2]int{1080, 1920}

// Snapshot is a captured UI hierarchy of the device screen.
type Snapshot struct {
	TS       time.Time `yaml:"ts"                 json:"ts"`
	Package  string    `yaml:"package,omitempty"  json:"package,omitempty"`
	Activity string    `yaml:"activity,omitempty" json:"activity,omitempty"`
	Elements []Element `yaml:"elements"           json:"elements"`

	flat []FlatElement
}

// NewSnapshot builds a snapshot from a parsed hierarchy, assigning refs
// and deriving the foreground package from the first element that has one.
func NewSnapshot(elements []Element) *Snapshot {
	GenerateRefs(elements)
	s := &Snapshot{TS: time.Now(), Elements: elements}
	WalkElements(elements, func(el *Element, _ []*Element) bool {
		if el.Package != "" {
			s.Package = el.Package
			return false
		}
		return true
	})
	return s
}

// Flat returns the flattened element list, computed once per snapshot.
func (s *Snapshot) Flat() []FlatElement {
	if s == nil {
		return nil
	}
	if s.flat == nil {
		s.flat = FlattenElements(s.Elements)
	}
	return s.flat
}

// ScreenSize returns the width and height of the widest root element,
// falling back to DefaultScreen.
func (s *Snapshot) ScreenSize() (int, int) {
	w, h := 0, 0
	if s != nil {
		for _, el := range s.Elements {
			if el.Bounds[2]*el.Bounds[3] > w*h {
				w, h = el.Bounds[2], el.Bounds[3]
			}
		}
	}
	if w <= 0 || h <= 0 {
		return DefaultScreen[0], DefaultScreen[1]
	}
	return w, h
}

// FindByID searches the element tree for an element with the given ID.
func (s *Snapshot) FindByID(id int) *Element {
	var found *Element
	WalkElements(s.Elements, func(el *Element, _ []*Element) bool {
		if el.ID == id {
			found = el
			return false
		}
		return true
	})
	return found
}

// Diff compares this snapshot against an earlier one by content hash.
func (s *Snapshot) Diff(prev *Snapshot) TreeDiff {
	return DiffElementsByHash(prev.Flat(), s.Flat())
}

func snapshotPath(dir, name string, ts int64) string {
	safe := strings.ReplaceAll(name, "/", "_")
	safe = strings.ReplaceAll(safe, " ", "_")
	return filepath.Join(dir, fmt.Sprintf("%s-%d.json", safe, ts))
}

// SaveSnapshot writes a snapshot as JSON into dir and returns the file path.
func SaveSnapshot(dir, name string, snap *Snapshot) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	path := snapshotPath(dir, name, snap.TS.UnixMilli())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// LoadSnapshot reads a snapshot previously written by SaveSnapshot.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
