package model

import (
	"fmt"
	"strconv"
	"strings"
)

// MatchMethod selects which element field a FindCondition compares against.
type MatchMethod string

const (
	MatchText        MatchMethod = "text"     // exact, case-insensitive on text or description
	MatchContains    MatchMethod = "contains" // substring on text, description or resource id
	MatchResourceID  MatchMethod = "resource_id"
	MatchDescription MatchMethod = "description"
	MatchClass       MatchMethod = "class"
	MatchRef         MatchMethod = "ref"
)

// ParseMatchMethod converts a user-supplied method name. Empty means contains.
func ParseMatchMethod(s string) (MatchMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "contains", "fuzzy":
		return MatchContains, nil
	case "text", "exact":
		return MatchText, nil
	case "resource_id", "resource-id", "id":
		return MatchResourceID, nil
	case "description", "content_desc", "content-desc":
		return MatchDescription, nil
	case "class", "class_name":
		return MatchClass, nil
	case "ref":
		return MatchRef, nil
	default:
		return "", fmt.Errorf("unknown match method %q (expected text, contains, resource_id, description, class or ref)", s)
	}
}

// FindCondition is a declarative description used to locate a UI element.
type FindCondition struct {
	Method        MatchMethod `yaml:"method"                 json:"method"`
	Value         string      `yaml:"value"                  json:"value"`
	ClickableOnly bool        `yaml:"clickable_only,omitempty" json:"clickable_only,omitempty"`
	Bounds        *[4]int     `yaml:"bounds,omitempty"       json:"bounds,omitempty"`
	Roles         []string    `yaml:"roles,omitempty"        json:"roles,omitempty"`
	MinConfidence float64     `yaml:"min_confidence,omitempty" json:"min_confidence,omitempty"`
}

func (c FindCondition) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s=%q", c.Method, c.Value)
	if c.ClickableOnly {
		b.WriteString(" clickable")
	}
	if len(c.Roles) > 0 {
		fmt.Fprintf(&b, " roles=%s", strings.Join(c.Roles, ","))
	}
	if c.Bounds != nil {
		fmt.Fprintf(&b, " bounds=%v", *c.Bounds)
	}
	return b.String()
}

// ParseBounds parses an "x,y,w,h" string into bounds.
func ParseBounds(s string) ([4]int, error) {
	var out [4]int
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return out, fmt.Errorf("invalid bounds %q: expected x,y,w,h", s)
	}
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return out, fmt.Errorf("invalid bounds %q: %w", s, err)
		}
		out[i] = v
	}
	if out[2] < 0 || out[3] < 0 {
		return out, fmt.Errorf("invalid bounds %q: negative size", s)
	}
	return out, nil
}
