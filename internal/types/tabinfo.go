package types

// TabInfo describes one browser tab as reported by the extension host.
type TabInfo struct {
	TabID    int    `json:"tabId"`
	TargetID string `json:"targetId,omitempty"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Active   bool   `json:"active"`
}
