package model

// Element represents a node in the device UI hierarchy.
type Element struct {
	ID          int       `yaml:"i"             json:"i"`             // Sequential integer ID
	Role        string    `yaml:"r"             json:"r"`             // Abbreviated role code
	Class       string    `yaml:"cls,omitempty" json:"cls,omitempty"` // Widget class, e.g. android.widget.Button
	Text        string    `yaml:"t,omitempty"   json:"t,omitempty"`   // Visible text
	ResourceID  string    `yaml:"rid,omitempty" json:"rid,omitempty"` // View resource id
	Description string    `yaml:"d,omitempty"   json:"d,omitempty"`   // Content description
	Package     string    `yaml:"pkg,omitempty" json:"pkg,omitempty"` // Owning application package
	Bounds      [4]int    `yaml:"b"             json:"b"`             // [x, y, width, height]
	Clickable   bool      `yaml:"k,omitempty"   json:"k,omitempty"`
	Scrollable  bool      `yaml:"sc,omitempty"  json:"sc,omitempty"`
	Focused     bool      `yaml:"f,omitempty"   json:"f,omitempty"`
	Enabled     *bool     `yaml:"e,omitempty"   json:"e,omitempty"` // nil or true = enabled (omit); false = disabled (include)
	Selected    bool      `yaml:"s,omitempty"   json:"s,omitempty"`
	Ref         string    `yaml:"ref,omitempty" json:"ref,omitempty"` // Stable path-based reference
	Children    []Element `yaml:"c,omitempty"   json:"c,omitempty"`
}

// Center returns the center point of the element's bounds.
func (e Element) Center() (int, int) {
	return e.Bounds[0] + e.Bounds[2]/2, e.Bounds[1] + e.Bounds[3]/2
}

// IsEnabled reports whether the element accepts input.
func (e Element) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// Label returns the most descriptive human-readable label of the element.
func (e Element) Label() string {
	if e.Text != "" {
		return e.Text
	}
	if e.Description != "" {
		return e.Description
	}
	return ShortResourceID(e.ResourceID)
}

// ShortResourceID strips the package prefix from a resource id
// ("com.app:id/login_button" becomes "login_button").
func ShortResourceID(id string) string {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '/' {
			return id[i+1:]
		}
	}
	return id
}

// Match is a ranked element returned by an element matcher.
type Match struct {
	Element Element `yaml:"element" json:"element"`
	Score   float64 `yaml:"score"   json:"score"`
	Reason  string  `yaml:"reason,omitempty" json:"reason,omitempty"`
}
