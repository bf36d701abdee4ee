// Package cutter speaks the byte-stream protocol of the plotter: a framed
// payload over a persistent raw TCP socket, acknowledged with "OK\r\n". Each
// frame carries the queue job ID as an idempotency token so the device can
// discard duplicate sends after a crash-replay.
package cutter

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"stitchcore/pkg/domain"
)

// DefaultAddr is the documented plotter endpoint.
const DefaultAddr = "127.0.0.1:9100"

const ackLine = "OK"

// Client is a queue.Sender over one persistent socket. Sends are serialized;
// the queue's worker pool provides concurrency across cutter sessions when
// multiple clients are configured.
type Client struct {
	addr        string
	dialTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// NewClient constructs a client for the given address. The socket is dialed
// lazily on first send and re-dialed after any delivery failure.
func NewClient(addr string) *Client {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Client{addr: addr, dialTimeout: 5 * time.Second}
}

// Send implements queue.Sender. Any error closes the socket so the next
// attempt starts from a fresh connection; the queue classifies the error as
// a retryable delivery failure.
func (c *Client) Send(ctx context.Context, job domain.QueueJob) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConn(ctx); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			c.drop()
			return fmt.Errorf("set deadline: %w", err)
		}
	}

	header := fmt.Sprintf("JOB %s %d\r\n", job.ID, len(job.Payload))
	if _, err := c.conn.Write([]byte(header)); err != nil {
		c.drop()
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := c.conn.Write(job.Payload); err != nil {
		c.drop()
		return fmt.Errorf("write payload: %w", err)
	}

	line, err := c.r.ReadString('\n')
	if err != nil {
		c.drop()
		return fmt.Errorf("read ack: %w", err)
	}
	if strings.TrimSpace(line) != ackLine {
		c.drop()
		return fmt.Errorf("malformed ack %q", strings.TrimSpace(line))
	}
	return nil
}

func (c *Client) ensureConn(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dial cutter %s: %w", c.addr, err)
	}
	c.conn = conn
	c.r = bufio.NewReader(conn)
	return nil
}

func (c *Client) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.r = nil
	}
}

// Close shuts the socket down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.r = nil
	return err
}

// Addr returns the configured cutter address.
func (c *Client) Addr() string { return c.addr }
