package model

import (
	"fmt"
	"strings"
)

// PageState is a coarse classification of what the device screen shows.
type PageState string

const (
	PageUnknown  PageState = "unknown"
	PageHome     PageState = "home"
	PageAppMain  PageState = "app_main_page"
	PageLoading  PageState = "loading"
	PageDialog   PageState = "dialog"
	PageSettings PageState = "settings"
	PageList     PageState = "list_page"
	PageDetail   PageState = "detail_page"
	PageLogin    PageState = "login"
	PageError    PageState = "error"
)

// PageStates lists every recognized page state.
var PageStates = []PageState{
	PageUnknown, PageHome, PageAppMain, PageLoading, PageDialog,
	PageSettings, PageList, PageDetail, PageLogin, PageError,
}

// pageAliases accepts the spellings scripts commonly use.
var pageAliases = map[string]PageState{
	"appmainpage": PageAppMain,
	"app_main":    PageAppMain,
	"main":        PageAppMain,
	"homescreen":  PageHome,
	"launcher":    PageHome,
	"listpage":    PageList,
	"list":        PageList,
	"detailpage":  PageDetail,
	"detail":      PageDetail,
	"popup":       PageDialog,
	"modal":       PageDialog,
}

// ParsePageState converts a user-supplied page state name.
func ParsePageState(s string) (PageState, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	for _, p := range PageStates {
		if string(p) == norm {
			return p, nil
		}
	}
	if p, ok := pageAliases[strings.ReplaceAll(norm, " ", "")]; ok {
		return p, nil
	}
	return PageUnknown, fmt.Errorf("unknown page state: %q", s)
}
