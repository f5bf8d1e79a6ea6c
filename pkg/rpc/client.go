package rpc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// Client is a line-protocol client for a running node, used by the control
// CLI. Responses are matched to requests by id; event lines are surfaced on
// Events.
type Client struct {
	conn   net.Conn
	events chan map[string]any

	wmu     sync.Mutex // serializes request lines on the socket
	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan map[string]any
	readErr error
	closed  bool
}

// Dial connects to a node's RPC address.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", addr, err)
	}
	c := &Client{
		conn:    conn,
		events:  make(chan map[string]any, 64),
		pending: make(map[int64]chan map[string]any),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers push events from the node. The channel closes when the
// connection drops.
func (c *Client) Events() <-chan map[string]any { return c.events }

// Call sends one command and waits for its response.
func (c *Client) Call(command string, data map[string]any) (map[string]any, error) {
	c.mu.Lock()
	if c.closed {
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = errors.New("rpc: connection closed")
		}
		return nil, err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan map[string]any, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	b, err := json.Marshal(Request{ID: id, Command: command, Data: data})
	if err != nil {
		return nil, err
	}
	c.wmu.Lock()
	_, err = c.conn.Write(append(b, '\n'))
	c.wmu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("rpc: write: %w", err)
	}

	resp, ok := <-ch
	if !ok {
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = errors.New("rpc: connection closed")
		}
		return nil, err
	}
	return resp, nil
}

// Close drops the connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) readLoop() {
	sc := bufio.NewScanner(c.conn)
	sc.Buffer(make([]byte, 64*1024), MaxLineSize)
	for sc.Scan() {
		var msg map[string]any
		if err := json.Unmarshal(sc.Bytes(), &msg); err != nil {
			continue
		}
		if _, isEvent := msg["event"]; isEvent {
			select {
			case c.events <- msg:
			default:
			}
			continue
		}
		id, ok := msg["id"].(float64)
		if !ok {
			continue
		}
		c.mu.Lock()
		ch := c.pending[int64(id)]
		delete(c.pending, int64(id))
		c.mu.Unlock()
		if ch != nil {
			ch <- msg
		}
	}

	c.mu.Lock()
	c.closed = true
	c.readErr = sc.Err()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	close(c.events)
}
