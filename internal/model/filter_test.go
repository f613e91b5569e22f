package model

import "testing"

func TestFilterElements_NoFilters(t *testing.T) {
	elements := []Element{
		{ID: 1, Role: "btn", Text: "OK"},
		{ID: 2, Role: "txt", Text: "Hello"},
	}
	result := FilterElements(elements, nil, nil)
	if len(result) != 2 {
		t.Errorf("expected 2 elements, got %d", len(result))
	}
}

func TestFilterElements_RoleFilter(t *testing.T) {
	elements := []Element{
		{ID: 1, Role: "btn", Text: "OK"},
		{ID: 2, Role: "txt", Text: "Hello"},
		{ID: 3, Role: "btn", Text: "Cancel"},
	}
	result := FilterElements(elements, []string{"btn"}, nil)
	if len(result) != 2 {
		t.Fatalf("expected 2 buttons, got %d", len(result))
	}
	for _, el := range result {
		if el.Role != "btn" {
			t.Errorf("expected role btn, got %s", el.Role)
		}
	}
}

func TestFilterElements_BBoxFilter(t *testing.T) {
	elements := []Element{
		{ID: 1, Role: "btn", Bounds: [4]int{0, 0, 100, 100}},
		{ID: 2, Role: "btn", Bounds: [4]int{500, 1600, 100, 100}},
	}
	bbox := [4]int{0, 1500, 1080, 420}
	result := FilterElements(elements, nil, &bbox)
	if len(result) != 1 || result[0].ID != 2 {
		t.Errorf("expected only element 2 inside the bottom band, got %+v", result)
	}
}

func TestFilterElements_PromotesMatchingChildren(t *testing.T) {
	elements := []Element{
		{
			ID: 1, Role: "group",
			Children: []Element{
				{ID: 2, Role: "btn", Text: "Submit"},
				{ID: 3, Role: "txt", Text: "Label"},
			},
		},
	}
	result := FilterElements(elements, []string{"btn"}, nil)
	if len(result) != 1 || result[0].ID != 2 {
		t.Errorf("expected promoted button, got %+v", result)
	}
}

func TestFilterByText(t *testing.T) {
	elements := []Element{
		{ID: 1, Role: "group", Children: []Element{
			{ID: 2, Role: "btn", Text: "Sign in"},
			{ID: 3, Role: "img", ResourceID: "com.app:id/avatar"},
		}},
		{ID: 4, Role: "txt", Description: "Welcome back"},
	}

	tests := []struct {
		text string
		want int
	}{
		{"sign", 1},
		{"AVATAR", 1},
		{"welcome", 1},
		{"missing", 0},
		{"", 2},
	}
	for _, tt := range tests {
		if got := len(FilterByText(elements, tt.text)); got != tt.want {
			t.Errorf("FilterByText(%q) returned %d roots, want %d", tt.text, got, tt.want)
		}
	}
	if !ContainsText(elements, "sign in") {
		t.Error("expected ContainsText to find nested text")
	}
}

func TestPruneEmptyGroups(t *testing.T) {
	elements := []Element{
		{ID: 1, Role: "group", Children: []Element{
			{ID: 2, Role: "group", Clickable: true},
			{ID: 3, Role: "other", Children: []Element{
				{ID: 4, Role: "txt", Text: "Hi"},
			}},
		}},
	}
	result := PruneEmptyGroups(elements)
	if len(result) != 2 {
		t.Fatalf("expected 2 elements after pruning, got %d: %+v", len(result), result)
	}
	if result[0].ID != 2 || result[1].ID != 4 {
		t.Errorf("unexpected pruning result: %+v", result)
	}
}

func TestBoundsIntersect(t *testing.T) {
	tests := []struct {
		name string
		a, b [4]int
		want bool
	}{
		{"overlap", [4]int{0, 0, 100, 100}, [4]int{50, 50, 100, 100}, true},
		{"no overlap", [4]int{0, 0, 100, 100}, [4]int{200, 200, 100, 100}, false},
		{"adjacent", [4]int{0, 0, 100, 100}, [4]int{100, 0, 100, 100}, false},
		{"contained", [4]int{0, 0, 100, 100}, [4]int{10, 10, 20, 20}, true},
	}
	for _, tt := range tests {
		if got := BoundsIntersect(tt.a, tt.b); got != tt.want {
			t.Errorf("%s: BoundsIntersect = %v, want %v", tt.name, got, tt.want)
		}
	}
}
