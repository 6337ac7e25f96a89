// Package protocol defines the messages exchanged between the daemon and
// its observers (page scripts and the dashboard) as newline-delimited JSON
// over the unix socket.
package protocol

import (
	"bufio"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"runbell/internal/runstate"
)

// MessageType discriminates the envelope.
type MessageType string

// Inbound messages (observer -> daemon).
const (
	TypeHello               MessageType = "hello"
	TypeBusySample          MessageType = "busySample"
	TypeStartRun            MessageType = "startRun"
	TypeStopRun             MessageType = "stopRun"
	TypePauseResume         MessageType = "pauseResume"
	TypeCloseIndicator      MessageType = "closeIndicator"
	TypeNavigateToTab       MessageType = "navigateToTab"
	TypeError               MessageType = "error"
	TypeTabActivated        MessageType = "tabActivated"
	TypeWindowFocused       MessageType = "windowFocused"
	TypeTabClosed           MessageType = "tabClosed"
	TypeNotificationClicked MessageType = "notificationClicked"
	TypeNotificationButton  MessageType = "notificationButton"
	TypeNotificationClosed  MessageType = "notificationClosed"
)

// Outbound messages (daemon -> observer).
const (
	TypeInit          MessageType = "init"
	TypeStateUpdate   MessageType = "stateUpdate"
	TypeWatchSelector MessageType = "watchSelector"
	TypeFocusTab      MessageType = "focusTab"
	TypeNotify        MessageType = "notify"
)

// Observer roles declared in hello.
const (
	RolePage      = "page"
	RoleDashboard = "dashboard"
)

// Message is the single wire envelope. Fields are populated per type;
// unknown fields are ignored so old observers survive daemon upgrades.
type Message struct {
	Type MessageType `json:"type"`

	// hello
	Role string `json:"role,omitempty"`
	URL  string `json:"url,omitempty"`

	// Tab identity. Used by hello, navigateToTab, tabActivated,
	// focusTab and by dashboard-issued actions that target a tab.
	TabID    int `json:"tabId,omitempty"`
	WindowID int `json:"windowId,omitempty"`

	// busySample
	Busy *bool `json:"busy,omitempty"`

	// startRun / notify
	RunName string `json:"runName,omitempty"`

	// stopRun / error
	IsError bool   `json:"isError,omitempty"`
	Error   string `json:"error,omitempty"`

	// notification lifecycle
	NotificationID string `json:"notificationId,omitempty"`
	ButtonIndex    int    `json:"buttonIndex,omitempty"`
	Title          string `json:"title,omitempty"`
	Body           string `json:"body,omitempty"`

	// watchSelector
	Selector string `json:"selector,omitempty"`

	// init / stateUpdate. Always a full snapshot, never a delta.
	State runstate.Global `json:"state,omitempty"`
}

// maxLineSize bounds a single message. Full snapshots grow with tab count
// and history, so the limit is generous.
const maxLineSize = 4 * 1024 * 1024

// Encode writes one message as a single JSON line.
func Encode(w io.Writer, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

// Decode parses one JSON line into a message.
func Decode(line []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("decode message: missing type")
	}
	return msg, nil
}

// ReadLoop reads messages until the reader closes, invoking handle for
// each. Malformed lines are reported through handleErr and skipped; the
// loop only ends on a read error or EOF.
func ReadLoop(r io.Reader, handle func(Message), handleErr func(error)) error {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := Decode(line)
		if err != nil {
			if handleErr != nil {
				handleErr(err)
			}
			continue
		}
		handle(msg)
	}
	return scanner.Err()
}
