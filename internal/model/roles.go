package model

import "strings"

// RoleMap maps Android widget class names (without package) to compact role codes.
var RoleMap = map[string]string{
	"Button":               "btn",
	"ImageButton":          "btn",
	"FloatingActionButton": "btn",
	"TextView":             "txt",
	"CheckedTextView":      "txt",
	"EditText":             "input",
	"AutoCompleteTextView": "input",
	"SearchView":           "input",
	"ImageView":            "img",
	"CheckBox":             "chk",
	"Switch":               "toggle",
	"SwitchCompat":         "toggle",
	"ToggleButton":         "toggle",
	"RadioButton":          "radio",
	"ListView":             "list",
	"RecyclerView":         "list",
	"GridView":             "list",
	"ScrollView":           "scroll",
	"HorizontalScrollView": "scroll",
	"NestedScrollView":     "scroll",
	"ViewPager":            "scroll",
	"FrameLayout":          "group",
	"LinearLayout":         "group",
	"RelativeLayout":       "group",
	"ConstraintLayout":     "group",
	"CoordinatorLayout":    "group",
	"ViewGroup":            "group",
	"ProgressBar":          "progress",
	"SeekBar":              "slider",
	"WebView":              "web",
	"Toolbar":              "toolbar",
	"ActionBar":            "toolbar",
	"TabLayout":            "tab",
	"TabWidget":            "tab",
	"BottomNavigationView": "nav",
	"NavigationBarView":    "nav",
	"Spinner":              "menu",
}

// MetaRoles maps meta-role names to the concrete roles they expand to.
var MetaRoles = map[string][]string{
	"interactive": {"btn", "input", "chk", "toggle", "radio", "slider", "menu"},
	"container":   {"group", "list", "scroll", "nav", "toolbar", "tab"},
}

// ExpandRoles expands any meta-roles in the given list to their concrete roles.
// Non-meta roles are passed through unchanged. Duplicates are removed.
func ExpandRoles(roles []string) []string {
	seen := make(map[string]bool, len(roles))
	var expanded []string
	for _, r := range roles {
		if concrete, ok := MetaRoles[r]; ok {
			for _, c := range concrete {
				if !seen[c] {
					seen[c] = true
					expanded = append(expanded, c)
				}
			}
		} else if !seen[r] {
			seen[r] = true
			expanded = append(expanded, r)
		}
	}
	return expanded
}

// MapRole converts a fully qualified widget class to a compact code.
func MapRole(class string) string {
	short := class
	if idx := strings.LastIndex(class, "."); idx >= 0 {
		short = class[idx+1:]
	}
	if r, ok := RoleMap[short]; ok {
		return r
	}
	return "other"
}
