package platform

import (
	"fmt"
	"strconv"
	"strings"
)

// Device shell commands shared by every transport. Each command is a list
// of arguments for the device's /system/bin/sh.
var (
	DumpHierarchyCommand = []string{"uiautomator", "dump", "/dev/tty"}
	ScreencapCommand     = []string{"screencap", "-p"}
)

// keyCodes maps friendly key names to Android key codes.
var keyCodes = map[string]int{
	"home":      3,
	"back":      4,
	"call":      5,
	"endcall":   6,
	"up":        19,
	"down":      20,
	"left":      21,
	"right":     22,
	"volume_up": 24,
	"volume_dn": 25,
	"power":     26,
	"camera":    27,
	"tab":       61,
	"space":     62,
	"enter":     66,
	"del":       67,
	"backspace": 67,
	"menu":      82,
	"search":    84,
	"escape":    111,
	"move_end":  123,
	"app_switch": 187,
}

// clearTextDeletes is how many delete presses ActionClearText sends.
const clearTextDeletes = 64

// KeyCode resolves a key name, KEYCODE_* constant or numeric code.
func KeyCode(key string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return "", fmt.Errorf("empty key")
	}
	if code, ok := keyCodes[k]; ok {
		return strconv.Itoa(code), nil
	}
	if _, err := strconv.Atoi(k); err == nil {
		return k, nil
	}
	if strings.HasPrefix(k, "keycode_") {
		return strings.ToUpper(k), nil
	}
	return "", fmt.Errorf("unknown key %q", key)
}

// ShellCommands translates an action into one or more device shell commands.
func ShellCommands(a Action) ([][]string, error) {
	switch a.Kind {
	case ActionTap:
		return [][]string{tapCommand(a.X, a.Y)}, nil
	case ActionDoubleTap:
		return [][]string{tapCommand(a.X, a.Y), tapCommand(a.X, a.Y)}, nil
	case ActionLongPress:
		ms := a.Duration.Milliseconds()
		if ms <= 0 {
			ms = 800
		}
		return [][]string{swipeCommand(a.X, a.Y, a.X, a.Y, ms)}, nil
	case ActionSwipe:
		ms := a.Duration.Milliseconds()
		if ms <= 0 {
			ms = 300
		}
		return [][]string{swipeCommand(a.X, a.Y, a.X2, a.Y2, ms)}, nil
	case ActionInputText:
		if a.Text == "" {
			return nil, fmt.Errorf("%w: empty input text", ErrCommandRejected)
		}
		return [][]string{{"input", "text", EscapeInputText(a.Text)}}, nil
	case ActionClearText:
		del := make([]string, 0, clearTextDeletes+2)
		del = append(del, "input", "keyevent")
		for i := 0; i < clearTextDeletes; i++ {
			del = append(del, "67")
		}
		return [][]string{{"input", "keyevent", "123"}, del}, nil
	case ActionKeyEvent:
		code, err := KeyCode(a.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCommandRejected, err)
		}
		return [][]string{{"input", "keyevent", code}}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported action %q", ErrCommandRejected, a.Kind)
	}
}

func tapCommand(x, y int) []string {
	return []string{"input", "tap", strconv.Itoa(x), strconv.Itoa(y)}
}

func swipeCommand(x1, y1, x2, y2 int, ms int64) []string {
	return []string{"input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1), strconv.Itoa(x2), strconv.Itoa(y2),
		strconv.FormatInt(ms, 10)}
}

// inputTextSpecial are characters the device shell would interpret.
const inputTextSpecial = "\\'\"`$&|;<>()*~!#?[]{}"

// EscapeInputText prepares text for `input text`: spaces become %s and
// shell metacharacters are backslash-escaped.
func EscapeInputText(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == ' ':
			b.WriteString("%s")
		case r == '%':
			b.WriteString(`\%`)
		case strings.ContainsRune(inputTextSpecial, r):
			b.WriteRune('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// JoinCommand renders a device command as a single shell line.
func JoinCommand(args []string) string {
	return strings.Join(args, " ")
}
