package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// CallError is a classified failure returned by the daemon.
type CallError struct {
	Code    string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// Client is a synchronous control socket client. Safe for concurrent use;
// calls are serialized on the single connection.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader

	mu    sync.Mutex
	reqID int
}

// Dial connects to the daemon's control socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to %s (is the daemon running?): %w", socketPath, err)
	}
	reader := bufio.NewReaderSize(conn, 64*1024)
	return &Client{conn: conn, reader: reader}, nil
}

// Close terminates the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends one request and waits for its response. A response carrying an
// error becomes a *CallError.
func (c *Client) Call(msgType string, payload any) (*BaseMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reqID++
	req := BaseMessage{Type: msgType, RequestID: strconv.Itoa(c.reqID)}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		req.Data = data
	}
	out, err := json.Marshal(&req)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(append(out, '\n')); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var resp BaseMessage
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if resp.Error != nil {
		return nil, &CallError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	// Error messages can arrive unsolicited (connection-limit rejection)
	// and carry no id; a successful response must echo the request's.
	if resp.RequestID != req.RequestID {
		return nil, fmt.Errorf("response id %q does not match request id %q", resp.RequestID, req.RequestID)
	}
	return &resp, nil
}

// CallInto performs Call and decodes the response data into result.
func (c *Client) CallInto(msgType string, payload, result any) error {
	resp, err := c.Call(msgType, payload)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if len(resp.Data) == 0 {
		return fmt.Errorf("response %s carried no data", resp.Type)
	}
	return json.Unmarshal(resp.Data, result)
}
