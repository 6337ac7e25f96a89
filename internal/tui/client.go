package tui

import (
	"fmt"
	"net"

	"runbell/internal/protocol"
)

// Client is the dashboard's connection to the daemon. It announces itself
// with a dashboard hello and then receives full state snapshots; actions
// flow the other way as single messages.
type Client struct {
	conn net.Conn

	// Events delivers every message the daemon pushes. The channel closes
	// when the connection drops.
	Events chan protocol.Message
}

// DialClient connects to the daemon socket and performs the hello.
func DialClient(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s (is it running?): %w", socketPath, err)
	}

	c := &Client{conn: conn, Events: make(chan protocol.Message, 64)}
	if err := protocol.Encode(conn, protocol.Message{Type: protocol.TypeHello, Role: protocol.RoleDashboard}); err != nil {
		conn.Close()
		return nil, err
	}

	go func() {
		defer close(c.Events)
		_ = protocol.ReadLoop(conn, func(m protocol.Message) {
			c.Events <- m
		}, nil)
	}()

	return c, nil
}

// PauseResume toggles pause on a tab.
func (c *Client) PauseResume(tabID int) error {
	return protocol.Encode(c.conn, protocol.Message{Type: protocol.TypePauseResume, TabID: tabID})
}

// CloseIndicator acknowledges a tab's finished or errored run.
func (c *Client) CloseIndicator(tabID int) error {
	return protocol.Encode(c.conn, protocol.Message{Type: protocol.TypeCloseIndicator, TabID: tabID})
}

// NavigateToTab asks the browser to focus a tab.
func (c *Client) NavigateToTab(tabID, windowID int) error {
	return protocol.Encode(c.conn, protocol.Message{Type: protocol.TypeNavigateToTab, TabID: tabID, WindowID: windowID})
}

// Close tears the connection down.
func (c *Client) Close() error {
	return c.conn.Close()
}
