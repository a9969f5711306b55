package events

// Topics carried to the dashboard UI.
const (
	TopicConnection = "connection"
	TopicNotice     = "notice"
	TopicVersion    = "version"
	TopicTool       = "tool"
)

// ConnectionEvent reports the authority channel status.
type ConnectionEvent struct {
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NoticeEvent is a user-facing message.
type NoticeEvent struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Link    string `json:"link,omitempty"`
}

// VersionEvent announces a required update.
type VersionEvent struct {
	RequiredVersion string `json:"requiredVersion"`
	Message         string `json:"message,omitempty"`
	DownloadURL     string `json:"downloadUrl,omitempty"`
	AllowSkip       bool   `json:"allowSkip"`
	Blocked         bool   `json:"blocked,omitempty"`
}

// ToolEvent reports a tool key changing state.
type ToolEvent struct {
	ToolType  string `json:"toolType"`
	AccountID string `json:"accountId"`
	State     string `json:"state"`
	Windows   int    `json:"windows"`
}
