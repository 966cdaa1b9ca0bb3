package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/nkthebass/XenoCPUUtility-legacy/utils"
)

// ErrRejected is returned when the server answers a command with ERR.
var ErrRejected = errors.New("command rejected")

const (
	defaultRetryWindow   = 5 * time.Second
	defaultRetryInterval = 250 * time.Millisecond
	dialTimeout          = time.Second
)

// Client sends commands to a Server.
type Client struct {
	Path string
	// RetryWindow is how long to keep retrying the dial.
	RetryWindow   time.Duration
	RetryInterval time.Duration
	sink          utils.LogSink
}

func NewClient(path string, sink utils.LogSink) *Client {
	return &Client{
		Path:          path,
		RetryWindow:   defaultRetryWindow,
		RetryInterval: defaultRetryInterval,
		sink:          utils.SinkOr(sink),
	}
}

func (c *Client) connectWithRetry(ctx context.Context) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.RetryWindow)
	defer cancel()

	var d net.Dialer
	var lastErr error
	for {
		dctx, dcancel := context.WithTimeout(ctx, dialTimeout)
		conn, err := d.DialContext(dctx, "unix", c.Path)
		dcancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err
		utils.Emitf(c.sink, "WARN: Connection attempt failed: %v, retrying...", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to connect to %s after %v: %w", c.Path, c.RetryWindow, lastErr)
		case <-time.After(c.RetryInterval):
		}
	}
}

// Send delivers one command and returns the text after OK.
func (c *Client) Send(ctx context.Context, command string) (string, error) {
	conn, err := c.connectWithRetry(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := fmt.Fprintln(conn, command); err != nil {
		return "", fmt.Errorf("failed to send %s: %w", command, err)
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read reply to %s: %w", command, err)
	}
	reply = strings.TrimSpace(reply)

	switch {
	case reply == "OK":
		return "", nil
	case strings.HasPrefix(reply, "OK "):
		return strings.TrimPrefix(reply, "OK "), nil
	case strings.HasPrefix(reply, "ERR "):
		return "", fmt.Errorf("%w: %s", ErrRejected, strings.TrimPrefix(reply, "ERR "))
	}
	return "", fmt.Errorf("unexpected reply %q", reply)
}
