// Package page classifies device snapshots into coarse page states using
// scored structural and keyword indicators.
package page

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mj1618/smartscript/internal/model"
)

// launcherPackages identify the device home screen.
var launcherPackages = []string{
	"com.android.launcher",
	"com.android.launcher3",
	"com.google.android.apps.nexuslauncher",
	"com.miui.home",
	"com.huawei.android.launcher",
	"com.oppo.launcher",
	"com.vivo.launcher",
	"com.sec.android.app.launcher",
}

var (
	loadingWords  = []string{"loading", "please wait", "加载中", "正在加载"}
	errorWords    = []string{"something went wrong", "network error", "no connection", "try again", "加载失败", "网络错误"}
	loginWords    = []string{"log in", "login", "sign in", "password", "登录", "密码"}
	settingsWords = []string{"settings", "preferences", "设置"}
	backWords     = []string{"navigate up", "back", "返回"}
)

// Recognition is a classification with its supporting evidence.
type Recognition struct {
	State       model.PageState `yaml:"state"                  json:"state"`
	Confidence  float64         `yaml:"confidence"             json:"confidence"`
	KeyElements []string        `yaml:"key_elements,omitempty" json:"key_elements,omitempty"`
}

// Recognizer is a heuristic platform.PageRecognizer.
type Recognizer struct {
	// MinConfidence is the score below which the state is reported as unknown.
	MinConfidence float64
	// ListMinItems is how many item rows make a list page.
	ListMinItems int
}

// New returns a recognizer with default thresholds.
func New() *Recognizer {
	return &Recognizer{MinConfidence: 0.5, ListMinItems: 4}
}

// Classify implements platform.PageRecognizer.
func (r *Recognizer) Classify(ctx context.Context, snap *model.Snapshot) (model.PageState, error) {
	rec, err := r.Recognize(ctx, snap)
	if err != nil {
		return model.PageUnknown, err
	}
	return rec.State, nil
}

type indicator struct {
	state      model.PageState
	confidence float64
	key        string
}

// Recognize scores every indicator and returns the strongest.
func (r *Recognizer) Recognize(ctx context.Context, snap *model.Snapshot) (Recognition, error) {
	if err := ctx.Err(); err != nil {
		return Recognition{}, err
	}
	if snap == nil || len(snap.Elements) == 0 {
		return Recognition{State: model.PageUnknown, KeyElements: []string{"empty hierarchy"}}, nil
	}

	f := collectFeatures(snap)
	var found []indicator
	add := func(state model.PageState, conf float64, key string) {
		found = append(found, indicator{state, conf, key})
	}

	if isLauncher(snap.Package) {
		add(model.PageHome, 0.95, "launcher package "+snap.Package)
	}
	if overlay := model.DetectFrontmostOverlay(snap.Elements); overlay != nil {
		add(model.PageDialog, 0.9, fmt.Sprintf("overlay #%d", overlay.ID))
	}
	if f.progress > 0 && f.texts <= 3 {
		add(model.PageLoading, 0.85, "progress indicator")
	} else if f.hasWord(loadingWords) {
		add(model.PageLoading, 0.7, "loading text")
	}
	if f.hasWord(errorWords) {
		add(model.PageError, 0.75, "error text")
	}
	if f.password || (f.inputs > 0 && f.hasWord(loginWords)) {
		add(model.PageLogin, 0.8, "credential inputs")
	}
	if strings.Contains(snap.Package, "settings") {
		add(model.PageSettings, 0.9, "settings package")
	} else if f.titleHas(settingsWords) {
		add(model.PageSettings, 0.75, "settings title")
	}
	if f.nav {
		add(model.PageAppMain, 0.8, "bottom navigation")
	}
	if f.maxListItems >= r.ListMinItems {
		add(model.PageList, 0.7, fmt.Sprintf("list with %d items", f.maxListItems))
	}
	if f.back && !f.nav {
		add(model.PageDetail, 0.65, "up navigation")
	}

	if len(found) == 0 {
		return Recognition{State: model.PageUnknown}, nil
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].confidence > found[j].confidence })

	best := found[0]
	rec := Recognition{State: best.state, Confidence: best.confidence}
	for _, ind := range found {
		rec.KeyElements = append(rec.KeyElements, ind.key)
	}
	if best.confidence < r.MinConfidence {
		rec.State = model.PageUnknown
	}
	return rec, nil
}

func isLauncher(pkg string) bool {
	for _, l := range launcherPackages {
		if pkg == l {
			return true
		}
	}
	return strings.Contains(pkg, "launcher")
}

type features struct {
	texts        int
	progress     int
	inputs       int
	password     bool
	nav          bool
	back         bool
	maxListItems int
	words        []string // lower-cased text and descriptions
	titles       []string // lower-cased toolbar texts
}

func (f features) hasWord(words []string) bool {
	for _, s := range f.words {
		for _, w := range words {
			if strings.Contains(s, w) {
				return true
			}
		}
	}
	return false
}

func (f features) titleHas(words []string) bool {
	for _, s := range f.titles {
		for _, w := range words {
			if strings.Contains(s, w) {
				return true
			}
		}
	}
	return false
}

func collectFeatures(snap *model.Snapshot) features {
	var f features
	model.WalkElements(snap.Elements, func(el *model.Element, ancestors []*model.Element) bool {
		text := strings.ToLower(el.Text)
		desc := strings.ToLower(el.Description)
		rid := strings.ToLower(el.ResourceID)
		if text != "" {
			f.texts++
			f.words = append(f.words, text)
		}
		if desc != "" {
			f.words = append(f.words, desc)
		}
		switch el.Role {
		case "progress":
			f.progress++
		case "input":
			f.inputs++
			if strings.Contains(rid, "password") || strings.Contains(desc, "password") || strings.Contains(text, "password") {
				f.password = true
			}
		case "nav":
			f.nav = true
		case "tab":
			if len(el.Children) >= 2 {
				f.nav = true
			}
		case "list":
			if n := countItems(el); n > f.maxListItems {
				f.maxListItems = n
			}
		}
		if el.Role == "btn" || el.Clickable {
			for _, w := range backWords {
				if desc == w || strings.HasPrefix(desc, w+" ") {
					f.back = true
				}
			}
		}
		for _, a := range ancestors {
			if a.Role == "toolbar" && text != "" {
				f.titles = append(f.titles, text)
				break
			}
		}
		return true
	})
	return f
}

// countItems counts direct children of a list that look like item rows.
func countItems(list *model.Element) int {
	n := 0
	for _, c := range list.Children {
		if c.Clickable || len(c.Children) > 0 || c.Text != "" {
			n++
		}
	}
	return n
}
