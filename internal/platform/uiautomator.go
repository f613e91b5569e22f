package platform

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"

	"github.com/mj1618/smartscript/internal/model"
)

type xmlHierarchy struct {
	Rotation string    `xml:"rotation,attr"`
	Nodes    []xmlNode `xml:"node"`
}

type xmlNode struct {
	Text        string    `xml:"text,attr"`
	ResourceID  string    `xml:"resource-id,attr"`
	Class       string    `xml:"class,attr"`
	Package     string    `xml:"package,attr"`
	ContentDesc string    `xml:"content-desc,attr"`
	Clickable   string    `xml:"clickable,attr"`
	LongClick   string    `xml:"long-clickable,attr"`
	Enabled     string    `xml:"enabled,attr"`
	Focused     string    `xml:"focused,attr"`
	Scrollable  string    `xml:"scrollable,attr"`
	Selected    string    `xml:"selected,attr"`
	Checked     string    `xml:"checked,attr"`
	Bounds      string    `xml:"bounds,attr"`
	Nodes       []xmlNode `xml:"node"`
}

var boundsRe = regexp.MustCompile(`^\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]$`)

// ParseHierarchy parses a uiautomator XML dump into a snapshot. Text
// surrounding the <hierarchy> element, such as the trailing
// "UI hierchary dumped to" notice, is ignored.
func ParseHierarchy(data []byte) (*model.Snapshot, error) {
	start := bytes.Index(data, []byte("<hierarchy"))
	end := bytes.LastIndex(data, []byte("</hierarchy>"))
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no ui hierarchy in dump output", ErrCommandRejected)
	}
	var h xmlHierarchy
	if err := xml.Unmarshal(data[start:end+len("</hierarchy>")], &h); err != nil {
		return nil, fmt.Errorf("parse ui hierarchy: %w", err)
	}

	nextID := 1
	elements := make([]model.Element, 0, len(h.Nodes))
	for _, n := range h.Nodes {
		elements = append(elements, convertNode(n, &nextID))
	}
	return model.NewSnapshot(elements), nil
}

func convertNode(n xmlNode, nextID *int) model.Element {
	el := model.Element{
		ID:          *nextID,
		Role:        model.MapRole(n.Class),
		Class:       n.Class,
		Text:        n.Text,
		ResourceID:  n.ResourceID,
		Description: n.ContentDesc,
		Package:     n.Package,
		Bounds:      parseNodeBounds(n.Bounds),
		Clickable:   n.Clickable == "true" || n.LongClick == "true",
		Scrollable:  n.Scrollable == "true",
		Focused:     n.Focused == "true",
		Selected:    n.Selected == "true" || n.Checked == "true",
	}
	if n.Enabled == "false" {
		f := false
		el.Enabled = &f
	}
	*nextID++
	for _, c := range n.Nodes {
		el.Children = append(el.Children, convertNode(c, nextID))
	}
	return el
}

// parseNodeBounds converts "[x1,y1][x2,y2]" into [x, y, width, height].
func parseNodeBounds(s string) [4]int {
	m := boundsRe.FindStringSubmatch(s)
	if m == nil {
		return [4]int{}
	}
	var v [4]int
	for i := range v {
		v[i], _ = strconv.Atoi(m[i+1])
	}
	return [4]int{v[0], v[1], v[2] - v[0], v[3] - v[1]}
}
