package types

import "fmt"

// Tool names one automation primitive. The set is closed: ParseTool rejects
// anything not listed here.
type Tool string

const (
	ToolGetTabs      Tool = "get_tabs"
	ToolGetActiveTab Tool = "get_active_tab"
	ToolOpenTab      Tool = "open_tab"
	ToolCloseTab     Tool = "close_tab"
	ToolNavigate     Tool = "navigate"
	ToolClick        Tool = "click"
	ToolType         Tool = "type"
	ToolSelect       Tool = "select"
	ToolScreenshot   Tool = "screenshot"
	ToolSnapshot     Tool = "snapshot"
	ToolScroll       Tool = "scroll"
	ToolWait         Tool = "wait"
	ToolQuery        Tool = "query"
	ToolDownload     Tool = "download"
	ToolUpload       Tool = "upload"
)

// Tools lists every supported tool in a stable order.
func Tools() []Tool {
	return []Tool{
		ToolGetTabs, ToolGetActiveTab, ToolOpenTab, ToolCloseTab, ToolNavigate,
		ToolClick, ToolType, ToolSelect, ToolScreenshot, ToolSnapshot,
		ToolScroll, ToolWait, ToolQuery, ToolDownload, ToolUpload,
	}
}

// ParseTool validates a tool name received from the wire.
func ParseTool(name string) (Tool, error) {
	t := Tool(name)
	switch t {
	case ToolGetTabs, ToolGetActiveTab, ToolOpenTab, ToolCloseTab, ToolNavigate,
		ToolClick, ToolType, ToolSelect, ToolScreenshot, ToolSnapshot,
		ToolScroll, ToolWait, ToolQuery, ToolDownload, ToolUpload:
		return t, nil
	}
	return "", Errorf(CodeValidation, "unknown tool %q", name)
}

// RequiresTab reports whether the tool acts on a specific tab.
func (t Tool) RequiresTab() bool {
	switch t {
	case ToolGetTabs, ToolGetActiveTab, ToolOpenTab:
		return false
	case ToolCloseTab, ToolNavigate, ToolClick, ToolType, ToolSelect,
		ToolScreenshot, ToolSnapshot, ToolScroll, ToolWait, ToolQuery,
		ToolDownload, ToolUpload:
		return true
	}
	panic(fmt.Sprintf("types: unhandled tool %q", string(t)))
}

func (t Tool) String() string { return string(t) }
