package idxsyncd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"idxsync/internal/core/task"
)

const dialTimeout = 2 * time.Second

type RPCError struct {
	Code    int
	Message string
	Kind    string
}

func (e *RPCError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("rpc error (%d, %s): %s", e.Code, e.Kind, e.Message)
	}
	return fmt.Sprintf("rpc error (%d): %s", e.Code, e.Message)
}

// Client talks to a running daemon over one connection. Calls are serial;
// it is not safe for concurrent use.
type Client struct {
	conn    net.Conn
	rd      *bufio.Reader
	wr      *bufio.Writer
	seq     uint64
	timeout time.Duration
}

func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial daemon at %s: %w", addr, err)
	}
	return &Client{conn: conn, rd: bufio.NewReader(conn), wr: bufio.NewWriter(conn)}, nil
}

// SetTimeout bounds each call. Zero waits forever, which index.run needs
// for long reindex cycles.
func (c *Client) SetTimeout(d time.Duration) {
	if c != nil {
		c.timeout = d
	}
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// reply mirrors Response with the result left undecoded.
type reply struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorObject    `json:"error,omitempty"`
}

func invoke[T any](c *Client, method string, params any) (T, error) {
	var zero T
	if c == nil || c.conn == nil {
		return zero, fmt.Errorf("client is not connected")
	}
	c.seq++
	id := strconv.FormatUint(c.seq, 10)
	req := Request{JSONRPC: "2.0", ID: json.RawMessage(id), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return zero, fmt.Errorf("%s: encode params: %w", method, err)
		}
		req.Params = raw
	}

	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return zero, err
	}
	if err := writeLine(c.wr, req); err != nil {
		return zero, fmt.Errorf("%s: %w", method, err)
	}
	line, err := readLine(c.rd)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", method, err)
	}

	var rep reply
	if err := json.Unmarshal(line, &rep); err != nil {
		return zero, fmt.Errorf("%s: decode reply: %w", method, err)
	}
	if string(rep.ID) != id {
		return zero, fmt.Errorf("%s: reply id %s does not match request %s", method, rep.ID, id)
	}
	if rep.Error != nil {
		return zero, &RPCError{Code: rep.Error.Code, Message: rep.Error.Message, Kind: rep.Error.Kind}
	}
	var out T
	if len(rep.Result) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(rep.Result, &out); err != nil {
		return zero, fmt.Errorf("%s: decode result: %w", method, err)
	}
	return out, nil
}

func (c *Client) Ping() error {
	got, err := invoke[string](c, "ping", nil)
	if err != nil {
		return err
	}
	if got != "pong" {
		return fmt.Errorf("daemon answered ping with %q", got)
	}
	return nil
}

func (c *Client) Version() (string, error) {
	return invoke[string](c, "version", nil)
}

func (c *Client) IndexList() (IndexListResult, error) {
	return invoke[IndexListResult](c, "index.list", nil)
}

func (c *Client) IndexRun(name string) (IndexRunResult, error) {
	return invoke[IndexRunResult](c, "index.run", IndexRunParams{Name: name})
}

func (c *Client) IndexStatus(name string) ([]task.Status, error) {
	return invoke[[]task.Status](c, "index.status", IndexStatusParams{Name: name})
}
