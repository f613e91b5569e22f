// Package matcher locates UI elements in a device snapshot using
// rule-based scoring over text, content description, resource id and class.
package matcher

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mj1618/smartscript/internal/model"
)

// Matcher is a rule-based platform.ElementMatcher.
type Matcher struct {
	// PreferOverlay boosts matches inside a detected dialog or sheet.
	PreferOverlay bool
}

// New returns a matcher with overlay preference enabled.
func New() *Matcher {
	return &Matcher{PreferOverlay: true}
}

// candidate is a scored element pointer into the snapshot tree.
type candidate struct {
	el     *model.Element
	score  float64
	reason string
}

// Find returns every element satisfying cond, best first.
func (m *Matcher) Find(ctx context.Context, snap *model.Snapshot, cond model.FindCondition) ([]model.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("no snapshot to match against")
	}
	if cond.Value == "" && cond.Method != model.MatchClass {
		return nil, fmt.Errorf("find condition has no value")
	}
	if cond.Method == "" {
		cond.Method = model.MatchContains
	}

	var cands []candidate
	if cond.Method == model.MatchRef {
		el, err := model.FindElementByRef(snap.Elements, cond.Value)
		if err != nil {
			return nil, nil
		}
		cands = []candidate{{el: el, score: 1, reason: "ref"}}
	} else {
		cands = collectLeafMatches(snap.Elements, cond)
	}

	if cond.ClickableOnly {
		cands = promoteToClickable(snap.Elements, cands)
	}
	cands = applyFilters(cands, cond)
	cands = preferInteractiveElements(cands)

	if m.PreferOverlay {
		if overlay := model.DetectFrontmostOverlay(snap.Elements); overlay != nil {
			for i := range cands {
				if containsElement(overlay, cands[i].el.ID) {
					cands[i].score += 0.1
					cands[i].reason += "+overlay"
				}
			}
		}
	}

	type ranked struct {
		match model.Match
		rank  float64
	}
	seen := make(map[int]bool, len(cands))
	rankedMatches := make([]ranked, 0, len(cands))
	for _, c := range cands {
		if seen[c.el.ID] {
			continue
		}
		seen[c.el.ID] = true
		rank := adjustScore(c)
		score := clamp(rank)
		if score < cond.MinConfidence {
			continue
		}
		el := *c.el
		el.Children = nil
		rankedMatches = append(rankedMatches, ranked{
			match: model.Match{Element: el, Score: score, Reason: c.reason},
			rank:  rank,
		})
	}
	sort.SliceStable(rankedMatches, func(i, j int) bool {
		if rankedMatches[i].rank != rankedMatches[j].rank {
			return rankedMatches[i].rank > rankedMatches[j].rank
		}
		return rankedMatches[i].match.Element.ID < rankedMatches[j].match.Element.ID
	})
	matches := make([]model.Match, len(rankedMatches))
	for i, r := range rankedMatches {
		matches[i] = r.match
	}
	return matches, nil
}

// adjustScore favours clickable elements and penalises disabled ones. The
// result is used for ranking and may leave [0, 1].
func adjustScore(c candidate) float64 {
	s := c.score
	if c.el.Clickable {
		s += 0.05
	}
	if !c.el.IsEnabled() {
		s -= 0.1
	}
	return s
}

func clamp(s float64) float64 {
	if s > 1 {
		return 1
	}
	if s < 0 {
		return 0
	}
	return s
}

// collectLeafMatches collects elements that directly match cond. It recurses
// into children but only returns the deepest (most specific) matches.
func collectLeafMatches(elements []model.Element, cond model.FindCondition) []candidate {
	var results []candidate
	for i := range elements {
		el := &elements[i]
		childMatches := collectLeafMatches(el.Children, cond)
		score, reason := scoreElement(*el, cond)
		if score > 0 && len(childMatches) == 0 {
			results = append(results, candidate{el: el, score: score, reason: reason})
		} else {
			results = append(results, childMatches...)
		}
	}
	return results
}

// scoreElement returns how well el matches cond, 0 meaning no match.
func scoreElement(el model.Element, cond model.FindCondition) (float64, string) {
	value := strings.ToLower(strings.TrimSpace(cond.Value))
	switch cond.Method {
	case model.MatchText:
		if exactFieldMatch(el.Text, value) {
			return 1, "text"
		}
		if exactFieldMatch(el.Description, value) {
			return 0.95, "description"
		}
	case model.MatchDescription:
		if exactFieldMatch(el.Description, value) {
			return 1, "description"
		}
		if containsScore(el.Description, value) > 0 {
			return containsScore(el.Description, value), "description~"
		}
	case model.MatchResourceID:
		id := strings.ToLower(el.ResourceID)
		switch {
		case id == "":
		case id == value:
			return 1, "resource_id"
		case strings.ToLower(model.ShortResourceID(el.ResourceID)) == value:
			return 0.95, "resource_id"
		case strings.Contains(id, value):
			return 0.7, "resource_id~"
		}
	case model.MatchClass:
		cls := strings.ToLower(el.Class)
		switch {
		case value == "":
		case cls == value:
			return 1, "class"
		case strings.HasSuffix(cls, "."+value):
			return 0.9, "class"
		}
	case model.MatchContains:
		best, reason := 0.0, ""
		if s := containsScore(el.Text, value); s > best {
			best, reason = s, "text~"
		}
		if s := containsScore(el.Description, value) * 0.95; s > best {
			best, reason = s, "description~"
		}
		if s := containsScore(model.ShortResourceID(el.ResourceID), value) * 0.8; s > best {
			best, reason = s, "resource_id~"
		}
		return best, reason
	}
	return 0, ""
}

// containsScore is 0 when field does not contain value, and grows towards 1
// as value covers more of field.
func containsScore(field, valueLower string) float64 {
	if field == "" || valueLower == "" {
		return 0
	}
	f := strings.ToLower(field)
	if !strings.Contains(f, valueLower) {
		return 0
	}
	return 0.6 + 0.4*float64(len(valueLower))/float64(len(f))
}

// exactFieldMatch returns true if field matches text case-insensitively,
// either directly or after stripping a trailing parenthetical suffix like " (3)".
func exactFieldMatch(field, textLower string) bool {
	field = strings.TrimSpace(field)
	if field == "" {
		return false
	}
	if strings.EqualFold(field, textLower) {
		return true
	}
	if idx := strings.LastIndex(field, "("); idx > 0 && strings.HasSuffix(field, ")") {
		return strings.EqualFold(strings.TrimSpace(field[:idx]), textLower)
	}
	return false
}

// promoteToClickable replaces non-clickable matches with their nearest
// clickable ancestor; matches without one are dropped. Labels in Android
// layouts are usually TextViews inside a clickable container.
func promoteToClickable(root []model.Element, cands []candidate) []candidate {
	var out []candidate
	for _, c := range cands {
		if c.el.Clickable {
			out = append(out, c)
			continue
		}
		if anc := clickableAncestor(root, c.el.ID); anc != nil {
			out = append(out, candidate{el: anc, score: c.score * 0.95, reason: c.reason + "+ancestor"})
		}
	}
	return out
}

func clickableAncestor(root []model.Element, id int) *model.Element {
	var found *model.Element
	model.WalkElements(root, func(el *model.Element, ancestors []*model.Element) bool {
		if el.ID != id {
			return true
		}
		for i := len(ancestors) - 1; i >= 0; i-- {
			if ancestors[i].Clickable {
				found = ancestors[i]
				break
			}
		}
		return false
	})
	return found
}

func applyFilters(cands []candidate, cond model.FindCondition) []candidate {
	if len(cond.Roles) == 0 && cond.Bounds == nil {
		return cands
	}
	roles := make(map[string]bool)
	for _, r := range model.ExpandRoles(cond.Roles) {
		roles[r] = true
	}
	var out []candidate
	for _, c := range cands {
		if len(roles) > 0 && !roles[c.el.Role] && !roleMatchesClass(cond.Roles, c.el.Class) {
			continue
		}
		if cond.Bounds != nil && !model.BoundsIntersect(c.el.Bounds, *cond.Bounds) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// roleMatchesClass lets element_type filters name a widget class directly
// ("Button", "android.widget.EditText").
func roleMatchesClass(roles []string, class string) bool {
	cls := strings.ToLower(class)
	for _, r := range roles {
		r = strings.ToLower(r)
		if cls == r || strings.HasSuffix(cls, "."+r) {
			return true
		}
	}
	return false
}

// staticRoles are display-only roles that are deprioritized when
// interactive elements also match.
var staticRoles = map[string]bool{
	"txt":   true,
	"img":   true,
	"group": true,
	"other": true,
}

// preferInteractiveElements keeps only interactive matches when the set
// mixes interactive and static ones. Clickable static nodes count as
// interactive.
func preferInteractiveElements(cands []candidate) []candidate {
	var interactive []candidate
	for _, c := range cands {
		if !staticRoles[c.el.Role] || c.el.Clickable {
			interactive = append(interactive, c)
		}
	}
	if len(interactive) > 0 && len(interactive) < len(cands) {
		return interactive
	}
	return cands
}

func containsElement(root *model.Element, id int) bool {
	found := false
	model.WalkElements([]model.Element{*root}, func(el *model.Element, _ []*model.Element) bool {
		if el.ID == id {
			found = true
			return false
		}
		return true
	})
	return found
}
