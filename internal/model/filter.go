package model

import "strings"

// FilterElements applies filters to a slice of elements, returning only
// matching elements. It filters by roles and bounding box. Non-matching
// parents are dropped and their matching descendants promoted.
func FilterElements(elements []Element, roles []string, bbox *[4]int) []Element {
	if len(roles) == 0 && bbox == nil {
		return elements
	}

	roleSet := make(map[string]bool, len(roles))
	for _, r := range roles {
		roleSet[r] = true
	}

	var result []Element
	for _, el := range elements {
		var filteredChildren []Element
		if len(el.Children) > 0 {
			filteredChildren = FilterElements(el.Children, roles, bbox)
		}

		roleMatch := len(roleSet) == 0 || roleSet[el.Role]
		bboxMatch := bbox == nil || BoundsIntersect(el.Bounds, *bbox)

		if roleMatch && bboxMatch {
			filtered := el
			filtered.Children = filteredChildren
			result = append(result, filtered)
		} else if len(filteredChildren) > 0 {
			result = append(result, filteredChildren...)
		}
	}
	return result
}

// FilterByText filters elements to only those whose text, description or
// resource id contains the given text (case-insensitive). Parent elements
// are included if any descendant matches.
func FilterByText(elements []Element, text string) []Element {
	if text == "" {
		return elements
	}
	textLower := strings.ToLower(text)
	var result []Element
	for _, el := range elements {
		matched := textMatchesElement(el, textLower)
		childMatches := FilterByText(el.Children, text)

		if matched || len(childMatches) > 0 {
			filtered := el
			filtered.Children = childMatches
			result = append(result, filtered)
		}
	}
	return result
}

func textMatchesElement(el Element, textLower string) bool {
	return strings.Contains(strings.ToLower(el.Text), textLower) ||
		strings.Contains(strings.ToLower(el.Description), textLower) ||
		strings.Contains(strings.ToLower(el.ResourceID), textLower)
}

// ContainsText reports whether any element in the tree shows the given text.
func ContainsText(elements []Element, text string) bool {
	return len(FilterByText(elements, text)) > 0
}

// isEmptyGroup returns true if the element is a structural container that
// carries no text, description or resource id and is not clickable.
func isEmptyGroup(el Element) bool {
	return (el.Role == "group" || el.Role == "other") && !el.Clickable &&
		el.Text == "" && el.Description == "" && el.ResourceID == ""
}

// PruneEmptyGroups removes anonymous container nodes from a tree. Children of
// removed nodes are promoted to the parent.
func PruneEmptyGroups(elements []Element) []Element {
	var result []Element
	for _, el := range elements {
		prunedChildren := PruneEmptyGroups(el.Children)

		if isEmptyGroup(el) {
			result = append(result, prunedChildren...)
		} else {
			pruned := el
			pruned.Children = prunedChildren
			result = append(result, pruned)
		}
	}
	return result
}

// BoundsIntersect checks if two [x, y, width, height] rectangles overlap.
func BoundsIntersect(a, b [4]int) bool {
	ax1, ay1, ax2, ay2 := a[0], a[1], a[0]+a[2], a[1]+a[3]
	bx1, by1, bx2, by2 := b[0], b[1], b[0]+b[2], b[1]+b[3]
	return ax1 < bx2 && ax2 > bx1 && ay1 < by2 && ay2 > by1
}
