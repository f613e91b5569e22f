package model

import "strings"

// dialogResourceIDs are framework view ids that only appear inside dialogs.
var dialogResourceIDs = map[string]bool{
	"android:id/parentPanel": true,
	"android:id/alertTitle":  true,
	"android:id/buttonPanel": true,
	"android:id/contentPanel": true,
}

// DetectFrontmostOverlay examines the hierarchy for a modal dialog, bottom
// sheet or popup covering the main content.
//
// Detection strategies (tried in order):
//  1. Class or resource-id based: any node whose class names a dialog or whose
//     resource id is a framework dialog panel.
//  2. Focus-based: if the screen root has several direct children and the
//     focused node lives in a later one, that child is the overlay.
//  3. Bounds-based: a later root child that is smaller than the screen and
//     centered on it.
//
// Returns the overlay element, or nil if no overlay is detected.
func DetectFrontmostOverlay(elements []Element) *Element {
	var found *Element
	WalkElements(elements, func(el *Element, _ []*Element) bool {
		if isDialogNode(el) {
			found = el
			return false
		}
		return true
	})
	if found != nil {
		return found
	}

	for i := range elements {
		if overlay := detectOverlayInRoot(&elements[i]); overlay != nil {
			return overlay
		}
	}
	if len(elements) > 1 {
		screen := &elements[0]
		for i := 1; i < len(elements); i++ {
			if isOverlaySized(&elements[i], screen) && isCentered(&elements[i], screen) {
				return &elements[i]
			}
		}
	}
	return nil
}

func isDialogNode(el *Element) bool {
	if dialogResourceIDs[el.ResourceID] {
		return true
	}
	cls := strings.ToLower(el.Class)
	return strings.Contains(cls, "dialog") || strings.Contains(cls, "bottomsheet")
}

// detectOverlayInRoot checks a single root's children for overlays.
func detectOverlayInRoot(root *Element) *Element {
	if len(root.Children) < 2 {
		return nil
	}

	focusedChildIdx := findFocusedChildIndex(root.Children)
	if focusedChildIdx > 0 {
		candidate := &root.Children[focusedChildIdx]
		if isOverlaySized(candidate, root) {
			return candidate
		}
	}

	for i := 1; i < len(root.Children); i++ {
		child := &root.Children[i]
		if isOverlaySized(child, root) && isCentered(child, root) {
			return child
		}
	}
	return nil
}

// findFocusedChildIndex returns the index of the direct child that contains
// the focused element. Returns -1 if no focused element is found.
func findFocusedChildIndex(children []Element) int {
	for i := range children {
		if containsFocused(&children[i]) {
			return i
		}
	}
	return -1
}

func containsFocused(el *Element) bool {
	if el.Focused {
		return true
	}
	for i := range el.Children {
		if containsFocused(&el.Children[i]) {
			return true
		}
	}
	return false
}

// isOverlaySized returns true if the candidate covers at least a tenth of the
// container and is smaller than 80% of it in at least one dimension.
func isOverlaySized(candidate, container *Element) bool {
	winW, winH := container.Bounds[2], container.Bounds[3]
	candW, candH := candidate.Bounds[2], candidate.Bounds[3]

	if winW == 0 || winH == 0 || candW == 0 || candH == 0 {
		return false
	}
	if candW*candH*10 < winW*winH {
		return false
	}
	return candW < winW*80/100 || candH < winH*80/100
}

// isCentered returns true if the candidate's center is within a quarter of
// the container's size from the container's center.
func isCentered(candidate, container *Element) bool {
	winCX, winCY := container.Center()
	candCX, candCY := candidate.Center()

	dx := candCX - winCX
	dy := candCY - winCY
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	return dx <= container.Bounds[2]/4 && dy <= container.Bounds[3]/4
}
