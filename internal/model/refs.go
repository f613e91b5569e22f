package model

import (
	"fmt"
	"regexp"
	"strings"
)

// slugRe matches characters that are not lowercase alphanumeric or hyphens.
var slugRe = regexp.MustCompile(`[^a-z0-9-]+`)

// slugify converts a label to a URL-safe slug: lowercase, hyphens for spaces/special chars.
func slugify(s string) string {
	s = strings.ToLower(s)
	s = slugRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	if len(s) > 40 {
		s = s[:40]
		s = strings.TrimRight(s, "-")
	}
	return s
}

// bestLabel returns the most stable label for an element: resource id name
// first (it survives localisation), then content description, then text.
func bestLabel(el Element) string {
	if id := ShortResourceID(el.ResourceID); id != "" {
		return id
	}
	if el.Description != "" {
		return el.Description
	}
	return el.Text
}

// landmarkRoles are roles that are always kept in the ref path as landmarks.
var landmarkRoles = map[string]bool{
	"toolbar": true,
	"list":    true,
	"tab":     true,
	"nav":     true,
}

func isLandmark(el Element) bool {
	if landmarkRoles[el.Role] || isDialogNode(&el) {
		return true
	}
	return el.Role == "group" && el.ResourceID != ""
}

func refSegment(el Element) string {
	if isDialogNode(&el) {
		return "dialog"
	}
	if slug := slugify(bestLabel(el)); slug != "" {
		return slug
	}
	return el.Role
}

// GenerateRefs walks the element tree and populates the Ref field on each
// interesting element. Refs are path-based identifiers like "nav/tab-home"
// or "dialog/button1" that persist across dumps as long as the element's
// identity does not change.
func GenerateRefs(elements []Element) {
	generateRefsRecursive(elements, "")
	deduplicateRefs(elements)
}

func generateRefsRecursive(elements []Element, parentPath string) {
	for i := range elements {
		el := &elements[i]

		childPath := parentPath
		if isLandmark(*el) {
			childPath = joinRef(parentPath, refSegment(*el))
		}
		if isInteresting(*el) {
			el.Ref = joinRef(parentPath, refSegment(*el))
		}
		generateRefsRecursive(el.Children, childPath)
	}
}

func joinRef(parent, seg string) string {
	if parent == "" {
		return seg
	}
	return parent + "/" + seg
}

// isInteresting returns true if an element should get a ref.
func isInteresting(el Element) bool {
	if el.Clickable {
		return true
	}
	switch el.Role {
	case "input", "chk", "toggle", "radio":
		return true
	case "txt":
		return el.Text != ""
	}
	return false
}

// deduplicateRefs finds elements with identical refs and appends .1, .2 suffixes.
func deduplicateRefs(elements []Element) {
	var order []string
	refs := make(map[string][]*Element)
	WalkElements(elements, func(el *Element, _ []*Element) bool {
		if el.Ref != "" {
			if _, ok := refs[el.Ref]; !ok {
				order = append(order, el.Ref)
			}
			refs[el.Ref] = append(refs[el.Ref], el)
		}
		return true
	})
	for _, ref := range order {
		elems := refs[ref]
		if len(elems) <= 1 {
			continue
		}
		for i, el := range elems {
			el.Ref = fmt.Sprintf("%s.%d", ref, i+1)
		}
	}
}

// FindElementByRef searches a ref-populated element tree for the element
// matching the given ref. Supports exact match and unique suffix match.
func FindElementByRef(elements []Element, ref string) (*Element, error) {
	var exact *Element
	var suffix []*Element
	WalkElements(elements, func(el *Element, _ []*Element) bool {
		switch {
		case el.Ref == "":
		case el.Ref == ref:
			exact = el
			return false
		case strings.HasSuffix(el.Ref, "/"+ref):
			suffix = append(suffix, el)
		}
		return true
	})
	if exact != nil {
		return exact, nil
	}
	switch len(suffix) {
	case 1:
		return suffix[0], nil
	case 0:
		return nil, fmt.Errorf("no element matches ref %q", ref)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "multiple elements match ref %q:\n", ref)
	for _, m := range suffix {
		fmt.Fprintf(&b, "  ref=%q id=%d %s", m.Ref, m.ID, m.Role)
		if m.Text != "" {
			fmt.Fprintf(&b, " text=%q", m.Text)
		}
		fmt.Fprintln(&b)
	}
	return nil, fmt.Errorf("%s", b.String())
}
