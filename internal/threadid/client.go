package threadid

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// Client is an out-of-process handle to the thread-id Service over its UNIX
// socket: Enter requests a thread-id and Exit returns one. The Engine's own
// workers take their ids through Service.EnterLocal and do not use a Client.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to the Service listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("threadid: dialing %s: %w", socketPath, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Enter requests a fresh thread-id, blocking until the Service replies.
func (c *Client) Enter() (uint32, error) {
	resp, err := c.call(request{Op: "ThreadEnter"})
	if err != nil {
		return 0, err
	}
	if resp.Error != "" {
		return 0, errors.New(resp.Error)
	}
	if resp.ThreadID == nil {
		return 0, fmt.Errorf("threadid: service returned no thread_id")
	}
	return *resp.ThreadID, nil
}

// Exit releases id back to the Service's free list.
func (c *Client) Exit(id uint32) error {
	resp, err := c.call(request{Op: "ThreadExit", ThreadID: &id})
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return nil
}

func (c *Client) call(req request) (response, error) {
	var resp response
	body, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("threadid: encoding request: %w", err)
	}
	if err := writeRawFrame(c.conn, body); err != nil {
		return resp, err
	}
	respBody, err := readRawFrame(c.r)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return resp, fmt.Errorf("threadid: decoding response: %w", err)
	}
	return resp, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }
