package wsapi

import "github.com/Mishiranu/threadwatch/internal/watch"

// Inbound message types.
const (
	MsgHello      = "hello"
	MsgContext    = "context"
	MsgForeground = "foreground"
	MsgOpen       = "open"
	MsgClose      = "close"
	MsgRefresh    = "refresh"
	MsgExtracted  = "extracted"
	MsgErase      = "erase"
	MsgEraseDone  = "erase_done"
	MsgRefreshAll = "refresh_all"
)

// Outbound message types.
const (
	MsgWelcome         = "welcome"
	MsgCounter         = "counter"
	MsgRefreshStarted  = "refresh_started"
	MsgRefreshFinished = "refresh_finished"
	MsgError           = "error"
)

// Request is a message sent by a UI. Fields not used by a type are ignored.
type Request struct {
	Type       string `json:"type"`
	Thread     string `json:"thread,omitempty"`
	Context    string `json:"context,omitempty"`
	Foreground bool   `json:"foreground,omitempty"`
	Reload     bool   `json:"reload,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

// Event is a message sent to a UI.
type Event struct {
	Type    string         `json:"type"`
	ID      string         `json:"id,omitempty"`
	Thread  string         `json:"thread,omitempty"`
	Counter *watch.Counter `json:"counter,omitempty"`
	Error   string         `json:"error,omitempty"`
}
