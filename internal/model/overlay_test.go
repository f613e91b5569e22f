package model

import "testing"

func TestDetectFrontmostOverlay_DialogResourceID(t *testing.T) {
	elements := []Element{
		{
			ID: 1, Role: "group", Bounds: [4]int{0, 0, 1080, 1920},
			Children: []Element{
				{ID: 2, Role: "group", Bounds: [4]int{0, 0, 1080, 1920}},
				{ID: 3, Role: "group", ResourceID: "android:id/parentPanel", Bounds: [4]int{90, 700, 900, 500},
					Children: []Element{
						{ID: 4, Role: "btn", Text: "Allow", ResourceID: "android:id/button1"},
					},
				},
			},
		},
	}
	overlay := DetectFrontmostOverlay(elements)
	if overlay == nil {
		t.Fatal("expected overlay to be detected")
	}
	if overlay.ID != 3 {
		t.Errorf("expected overlay ID 3, got %d", overlay.ID)
	}
}

func TestDetectFrontmostOverlay_DialogClass(t *testing.T) {
	elements := []Element{
		{ID: 1, Role: "group", Bounds: [4]int{0, 0, 1080, 1920}, Children: []Element{
			{ID: 2, Role: "other", Class: "com.google.android.material.bottomsheet.BottomSheetDialog"},
		}},
	}
	overlay := DetectFrontmostOverlay(elements)
	if overlay == nil || overlay.ID != 2 {
		t.Errorf("expected bottom sheet overlay, got %+v", overlay)
	}
}

func TestDetectFrontmostOverlay_NoOverlay(t *testing.T) {
	elements := []Element{
		{ID: 1, Role: "group", Bounds: [4]int{0, 0, 1080, 1920}, Children: []Element{
			{ID: 2, Role: "toolbar", Bounds: [4]int{0, 0, 1080, 160}},
			{ID: 3, Role: "list", Bounds: [4]int{0, 160, 1080, 1760}},
		}},
	}
	if overlay := DetectFrontmostOverlay(elements); overlay != nil {
		t.Errorf("expected no overlay, got ID %d", overlay.ID)
	}
}

func TestDetectFrontmostOverlay_FocusBased(t *testing.T) {
	elements := []Element{
		{ID: 1, Role: "group", Bounds: [4]int{0, 0, 1080, 1920}, Children: []Element{
			{ID: 2, Role: "group", Bounds: [4]int{0, 0, 1080, 1920}},
			{ID: 3, Role: "group", Bounds: [4]int{0, 1200, 1080, 720}, Children: []Element{
				{ID: 4, Role: "input", Focused: true},
			}},
		}},
	}
	overlay := DetectFrontmostOverlay(elements)
	if overlay == nil || overlay.ID != 3 {
		t.Errorf("expected focused overlay 3, got %+v", overlay)
	}
}

func TestDetectFrontmostOverlay_SecondRootCentered(t *testing.T) {
	elements := []Element{
		{ID: 1, Role: "group", Bounds: [4]int{0, 0, 1080, 1920}},
		{ID: 2, Role: "group", Bounds: [4]int{140, 760, 800, 400}},
	}
	overlay := DetectFrontmostOverlay(elements)
	if overlay == nil || overlay.ID != 2 {
		t.Errorf("expected second root overlay, got %+v", overlay)
	}
}

func TestIsOverlaySized(t *testing.T) {
	screen := &Element{Bounds: [4]int{0, 0, 1000, 1000}}
	if isOverlaySized(&Element{Bounds: [4]int{0, 0, 1000, 1000}}, screen) {
		t.Error("full-size element is not an overlay")
	}
	if !isOverlaySized(&Element{Bounds: [4]int{100, 100, 500, 500}}, screen) {
		t.Error("half-size element should be overlay-sized")
	}
	if isOverlaySized(&Element{}, screen) {
		t.Error("zero-size element is not an overlay")
	}
}

func TestIsCentered(t *testing.T) {
	screen := &Element{Bounds: [4]int{0, 0, 1000, 1000}}
	if !isCentered(&Element{Bounds: [4]int{300, 300, 400, 400}}, screen) {
		t.Error("expected centered")
	}
	if isCentered(&Element{Bounds: [4]int{0, 0, 100, 100}}, screen) {
		t.Error("corner element should not be centered")
	}
}
