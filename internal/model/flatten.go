package model

// FlatElement is an element with a path breadcrumb instead of children.
type FlatElement struct {
	ID          int    `yaml:"i"             json:"i"`
	Role        string `yaml:"r"             json:"r"`
	Class       string `yaml:"cls,omitempty" json:"cls,omitempty"`
	Text        string `yaml:"t,omitempty"   json:"t,omitempty"`
	ResourceID  string `yaml:"rid,omitempty" json:"rid,omitempty"`
	Description string `yaml:"d,omitempty"   json:"d,omitempty"`
	Bounds      [4]int `yaml:"b"             json:"b"`
	Clickable   bool   `yaml:"k,omitempty"   json:"k,omitempty"`
	Focused     bool   `yaml:"f,omitempty"   json:"f,omitempty"`
	Enabled     *bool  `yaml:"e,omitempty"   json:"e,omitempty"`
	Selected    bool   `yaml:"s,omitempty"   json:"s,omitempty"`
	Ref         string `yaml:"ref,omitempty" json:"ref,omitempty"`
	Path        string `yaml:"p,omitempty"   json:"p,omitempty"`
}

// FlattenElements converts a tree of elements into a flat list.
// Each element gets a path string showing its location in the tree
// using abbreviated role names joined with " > ".
func FlattenElements(elements []Element) []FlatElement {
	var result []FlatElement
	for _, el := range elements {
		flattenRecursive(el, "", &result)
	}
	return result
}

func flattenRecursive(el Element, parentPath string, result *[]FlatElement) {
	currentPath := el.Role
	if parentPath != "" {
		currentPath = parentPath + " > " + el.Role
	}

	*result = append(*result, FlatElement{
		ID:          el.ID,
		Role:        el.Role,
		Class:       el.Class,
		Text:        el.Text,
		ResourceID:  el.ResourceID,
		Description: el.Description,
		Bounds:      el.Bounds,
		Clickable:   el.Clickable,
		Focused:     el.Focused,
		Enabled:     el.Enabled,
		Selected:    el.Selected,
		Ref:         el.Ref,
		Path:        currentPath,
	})

	for _, child := range el.Children {
		flattenRecursive(child, currentPath, result)
	}
}

// WalkElements calls fn for every element in depth-first order together with
// its chain of ancestors (outermost first). The ancestors slice is only valid
// for the duration of the call. Returning false stops the walk.
func WalkElements(elements []Element, fn func(el *Element, ancestors []*Element) bool) {
	walk(elements, nil, fn)
}

func walk(elements []Element, ancestors []*Element, fn func(*Element, []*Element) bool) bool {
	for i := range elements {
		el := &elements[i]
		if !fn(el, ancestors) {
			return false
		}
		if !walk(el.Children, append(ancestors, el), fn) {
			return false
		}
	}
	return true
}
