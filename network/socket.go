package network

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/netutil"
	"github.com/reglet-dev/minihost/policy"
	"github.com/reglet-dev/minihost/task"
)

const closeGrace = 2 * time.Second

// Socket describes a socket connection.
type Socket struct {
	Header    map[string]string
	URL       string
	Protocols []string
	Timeout   time.Duration
}

// SocketTask is an open or opening socket. The connect future settles
// when the handshake finishes; the handle stays running until the socket
// closes.
type SocketTask struct {
	*Task
	conn    atomic.Pointer[websocket.Conn]
	client  *Client
	closing chan struct{}
	writeMu sync.Mutex
	once    sync.Once
}

// ConnectSocket opens a socket to s.URL. The number of open sockets is
// capped; exceeding the cap fails the connect future.
func (c *Client) ConnectSocket(ctx context.Context, s Socket) (*SocketTask, error) {
	u, err := parseURL(s.URL, "ws", "wss")
	if err != nil {
		return nil, err
	}
	st := &SocketTask{client: c, closing: make(chan struct{})}
	t, dialCtx := c.newTask(ctx, "SocketTask", s.Timeout,
		task.WithTable(task.Table{
			task.Pending: {task.Running, task.Aborted, task.Errored},
			task.Running: {task.Completed, task.Aborted, task.Errored},
		}),
		task.WithAbortHook(st.drop))
	st.Task = t

	if err := c.checkDomain(policy.KindSocket, u); err != nil {
		st.reject(err)
		return st, nil
	}
	if n := c.sockets.Add(1); n > c.maxSockets {
		c.sockets.Add(-1)
		st.reject(hosterr.Host(hosterr.CodeLimitExceeded, "too many open sockets (max %d)", c.maxSockets))
		return st, nil
	}
	st.OnSettle(func(task.State, error) { c.sockets.Add(-1) })

	header := http.Header{}
	for k, v := range s.Header {
		header.Set(k, v)
	}
	if header.Get("User-Agent") == "" && c.userAgent != "" {
		header.Set("User-Agent", c.userAgent)
	}
	dialer := &websocket.Dialer{
		NetDialContext:   c.dialer.DialContext,
		TLSClientConfig:  c.tlsConfig,
		HandshakeTimeout: c.timeoutFor(s.Timeout),
		Subprotocols:     s.Protocols,
	}
	go st.connect(dialCtx, dialer, u.String(), header)
	return st, nil
}

func (st *SocketTask) connect(ctx context.Context, dialer *websocket.Dialer, target string, header http.Header) {
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		st.client.logger.Debug("socket connect failed", "url", netutil.StripCredentials(target), "error", err)
		st.finish(dynamic.Null(), err)
		return
	}
	st.conn.Store(conn)
	if err := st.Start(); err != nil {
		_ = conn.Close()
		st.future.Reject(st.settledErr())
		return
	}
	st.future.Resolve(dynamic.EmptyObject())
	openHeader := http.Header{}
	if resp != nil {
		openHeader = resp.Header
	}
	st.Emit(EventOpen, dynamic.Object("header", headerValue(openHeader), "protocol", conn.Subprotocol()))
	go st.read(conn)
}

func (st *SocketTask) read(conn *websocket.Conn) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			st.closed(conn, err)
			return
		}
		var payload dynamic.Value
		if kind == websocket.BinaryMessage {
			payload = dynamic.Binary(data)
		} else {
			payload = dynamic.String(string(data))
		}
		st.Emit(EventMessage, dynamic.Object("data", payload))
	}
}

// closed settles the handle once the read loop ends.
func (st *SocketTask) closed(conn *websocket.Conn, err error) {
	defer st.cancel()
	_ = conn.Close()
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		st.Emit(EventClose, dynamic.Object("code", ce.Code, "reason", ce.Text))
		_ = st.Complete()
		return
	}
	select {
	case <-st.closing:
		st.Emit(EventClose, dynamic.Object("code", websocket.CloseNormalClosure, "reason", ""))
		_ = st.Complete()
		return
	default:
	}
	he := classify(err)
	st.Emit(EventError, dynamic.Object("errMsg", he.Message))
	st.Emit(EventClose, dynamic.Object("code", websocket.CloseAbnormalClosure, "reason", he.Message))
	_ = st.Fail(he)
}

// Send writes a text or binary message.
func (st *SocketTask) Send(data dynamic.Value) error {
	if err := st.Require("send", task.Running); err != nil {
		return err
	}
	var (
		kind    int
		payload []byte
	)
	switch data.Kind() {
	case dynamic.KindString:
		s, _ := data.AsString()
		kind, payload = websocket.TextMessage, []byte(s)
	case dynamic.KindBinary:
		b, _ := data.AsBinary()
		kind, payload = websocket.BinaryMessage, b
	default:
		return hosterr.Contract("data", "must be a string or binary, got %s", data.Kind())
	}
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	if err := st.conn.Load().WriteMessage(kind, payload); err != nil {
		return classify(err)
	}
	return nil
}

// Close starts the closing handshake with code and reason. A zero code
// means a normal closure.
func (st *SocketTask) Close(code int, reason string) error {
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	if code != websocket.CloseNormalClosure && (code < 3000 || code > 4999) {
		return hosterr.Contract("code", "must be 1000 or in 3000-4999, got %d", code)
	}
	if len(reason) > 123 {
		return hosterr.Contract("reason", "must be at most 123 bytes")
	}
	if err := st.Require("close", task.Running); err != nil {
		return err
	}
	st.once.Do(func() { close(st.closing) })
	conn := st.conn.Load()
	st.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(closeGrace))
	st.writeMu.Unlock()
	time.AfterFunc(closeGrace, func() { _ = conn.Close() })
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return classify(err)
	}
	return nil
}

// drop tears the connection down without a closing handshake.
func (st *SocketTask) drop() {
	st.once.Do(func() { close(st.closing) })
	if conn := st.conn.Load(); conn != nil {
		_ = conn.Close()
	}
}
