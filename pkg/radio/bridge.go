// Package radio maintains a reconnecting line-delimited-JSON TCP connection
// to a radio daemon (e.g. JS8Call's API), decoding directed-message events
// and serializing outbound sends.
package radio

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/seekerror/logw"
	"github.com/seekerror/stdlib/pkg/util/iox"
)

const (
	reconnectDelay = 10 * time.Second
	socketTimeout  = 5 * time.Second
)

// Handler is invoked for every decoded directed message, on a bridge-owned
// goroutine. It MUST NOT hold resources across calls; a panic is recovered
// and logged, not propagated.
type Handler func(from, to, text string)

// Bridge owns the daemon socket. Zero value is not usable; construct with
// NewBridge.
type Bridge struct {
	iox.AsyncCloser

	host    string
	port    int
	handler Handler

	sendMu sync.Mutex // serializes writes to conn

	connMu sync.Mutex
	conn   net.Conn
}

// NewBridge constructs a bridge targeting host:port. Start must be called
// to begin connecting.
func NewBridge(host string, port int, handler Handler) *Bridge {
	return &Bridge{
		AsyncCloser: iox.NewAsyncCloser(),
		host:        host,
		port:        port,
		handler:     handler,
	}
}

// Start begins the background receiver. Safe to call once.
func (b *Bridge) Start(ctx context.Context) {
	go b.receiveLoop(ctx)
}

// Stop closes the socket and signals the receiver to exit. The receiver
// exits promptly.
func (b *Bridge) Stop() {
	b.Close()
	b.closeConn()
}

// Send acquires the send mutex, writes the message as newline-terminated
// JSON, and returns true on success. On write failure it closes the socket
// (the receive loop reconnects) and returns false. Concurrent callers are
// serialized.
func (b *Bridge) Send(ctx context.Context, to, text string) bool {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	conn := b.getConn()
	if conn == nil {
		logw.Warningf(ctx, "radio: send to %v dropped, not connected", to)
		return false
	}

	data, err := json.Marshal(outEnvelope{
		Type:  "TX.SEND_MESSAGE",
		Value: outValue{To: to, Text: text},
	})
	if err != nil {
		logw.Errorf(ctx, "radio: encode send to %v failed: %v", to, err)
		return false
	}
	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		logw.Warningf(ctx, "radio: send to %v failed, closing connection: %v", to, err)
		b.closeConn()
		return false
	}
	return true
}

type outEnvelope struct {
	Type  string   `json:"type"`
	Value outValue `json:"value"`
}

type outValue struct {
	To   string `json:"TO"`
	Text string `json:"TEXT"`
}

func (b *Bridge) receiveLoop(ctx context.Context) {
	for !b.IsClosed() {
		conn, err := b.dial(ctx)
		if err != nil {
			logw.Warningf(ctx, "radio: dial %v:%v failed: %v", b.host, b.port, err)
			if b.sleepOrStop(reconnectDelay) {
				return
			}
			continue
		}

		b.setConn(conn)
		b.readLines(ctx, conn)
		b.closeConn()

		if b.IsClosed() {
			return
		}
		if b.sleepOrStop(reconnectDelay) {
			return
		}
	}
}

func (b *Bridge) sleepOrStop(d time.Duration) bool {
	select {
	case <-time.After(d):
		return false
	case <-b.Closed():
		return true
	}
}

func (b *Bridge) dial(ctx context.Context) (net.Conn, error) {
	id := uuid.New().String()[:8]
	addr := net.JoinHostPort(b.host, strconv.Itoa(b.port))
	logw.Infof(ctx, "radio[%v]: dialing %v", id, addr)

	conn, err := net.DialTimeout("tcp", addr, socketTimeout)
	if err != nil {
		return nil, err
	}
	logw.Infof(ctx, "radio[%v]: connected to %v", id, addr)
	return conn, nil
}

// readLines reads newline-delimited JSON from conn until a non-timeout
// error, EOF, or shutdown. Reads use a short deadline so the shutdown flag
// is observed promptly even on an idle connection.
func (b *Bridge) readLines(ctx context.Context, conn net.Conn) {
	reader := bufio.NewReader(conn)
	for !b.IsClosed() {
		_ = conn.SetReadDeadline(time.Now().Add(socketTimeout))

		line, err := reader.ReadString('\n')
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !b.IsClosed() {
				logw.Warningf(ctx, "radio: read failed, reconnecting: %v", err)
			}
			return
		}
		b.dispatch(ctx, line)
	}
}

func (b *Bridge) dispatch(ctx context.Context, raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}

	var env struct {
		Type  string         `json:"type"`
		Value map[string]any `json:"value"`
	}
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		logw.Warningf(ctx, "radio: malformed JSON line, skipping: %v", err)
		return
	}

	switch env.Type {
	case "RX.DIRECTED", "RX.DIRECTED.ME":
		from := strings.ToUpper(strings.TrimSpace(firstString(env.Value, "FROM", "from")))
		to := strings.ToUpper(strings.TrimSpace(firstString(env.Value, "TO", "to")))
		text := strings.TrimSpace(firstString(env.Value, "TEXT", "text", "VALUE"))
		b.invoke(ctx, from, to, text)
	default:
		logw.Debugf(ctx, "radio: ignoring event type %q", env.Type)
	}
}

func (b *Bridge) invoke(ctx context.Context, from, to, text string) {
	defer func() {
		if r := recover(); r != nil {
			logw.Errorf(ctx, "radio: handler panicked on message from %v: %v", from, r)
		}
	}()
	if b.handler != nil {
		b.handler(from, to, text)
	}
}

func firstString(v map[string]any, names ...string) string {
	for _, n := range names {
		if raw, ok := v[n]; ok {
			if s, ok := raw.(string); ok {
				return s
			}
		}
	}
	return ""
}

func (b *Bridge) getConn() net.Conn {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	return b.conn
}

func (b *Bridge) setConn(conn net.Conn) {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	b.conn = conn
}

func (b *Bridge) closeConn() {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
}
