package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsWriteTimeout     = 5 * time.Second
	wsPingInterval     = 30 * time.Second
)

// ownerOffset is the byte offset of the owner pubkey in SPL Token and
// Token-2022 account data.
const ownerOffset = 32

// Stream is a live programSubscribe registration over a dedicated
// websocket connection. Notify is invoked once per program notification,
// always from the stream's read goroutine.
type Stream struct {
	conn   *websocket.Conn
	subID  int64
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}

	errMu sync.Mutex
	err   error
}

// SubscribeTokenAccounts dials wsURL and registers a programSubscribe on
// programID filtered to token accounts whose owner is owner, at confirmed
// commitment. Any write to a matching account, including its creation, is
// notified. The call blocks until the node acknowledges the subscription
// or ctx expires.
func SubscribeTokenAccounts(ctx context.Context, wsURL, programID, owner string, notify func(), logger *slog.Logger) (*Stream, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	req := Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "programSubscribe",
		Params: []interface{}{
			programID,
			map[string]interface{}{
				"encoding":   "base64",
				"commitment": "confirmed",
				"filters": []interface{}{
					map[string]interface{}{
						"memcmp": map[string]interface{}{"offset": ownerOffset, "bytes": owner},
					},
				},
			},
		},
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Now().Add(wsHandshakeTimeout))
		_ = conn.SetReadDeadline(time.Now().Add(wsHandshakeTimeout))
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send programSubscribe: %w", err)
	}

	var ack subscribeResponse
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read programSubscribe ack: %w", err)
	}
	if ack.Error != nil {
		conn.Close()
		return nil, ack.Error
	}
	if ack.Result == nil {
		conn.Close()
		return nil, errors.New("programSubscribe ack without subscription id")
	}
	_ = conn.SetWriteDeadline(time.Time{})
	_ = conn.SetReadDeadline(time.Time{})

	s := &Stream{
		conn:   conn,
		subID:  *ack.Result,
		logger: logger.With("owner", owner, "program", programID, "subscription", *ack.Result),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.readLoop(notify)
	go s.pingLoop()
	return s, nil
}

func (s *Stream) readLoop(notify func()) {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
			default:
				s.setErr(err)
				s.logger.Warn("token account stream terminated", "error", err)
			}
			return
		}

		var n Notification
		if err := json.Unmarshal(data, &n); err != nil {
			s.logger.Debug("skip undecodable ws frame", "error", err)
			continue
		}
		if n.Method != "programNotification" || n.Params.Subscription != s.subID {
			continue
		}
		notify()
	}
}

func (s *Stream) pingLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Debug("ws ping failed", "error", err)
			}
		}
	}
}

func (s *Stream) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// Err returns the error that terminated the stream, if any.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Done is closed once the read loop has exited.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Close unsubscribes and closes the connection. Done closes once the read
// loop observes it. Safe to call more than once.
func (s *Stream) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)

		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		_ = s.conn.WriteJSON(Request{
			JSONRPC: "2.0",
			ID:      2,
			Method:  "programUnsubscribe",
			Params:  []interface{}{s.subID},
		})
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()

		closeErr = s.conn.Close()
	})
	return closeErr
}
