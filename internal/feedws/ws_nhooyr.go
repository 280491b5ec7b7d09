package feedws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type frameCallbackEntry struct {
	id       int
	callback FrameCallback
}

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

// WebSocket is a reconnecting client for the online-players feed.
type WebSocket struct {
	wsURL string

	conn   *websocket.Conn
	connM  sync.Mutex
	state  State
	stateM sync.RWMutex

	frameCbs []frameCallbackEntry
	stateCbs []stateCallbackEntry
	nextCbID int
	cbM      sync.RWMutex

	maxReconnectAttempts int
	reconnectDelay       time.Duration
	pingInterval         time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	headerProvider HeaderProvider
}

var _ Client = (*WebSocket)(nil)

func NewWebSocket(wsURL string, maxReconnectAttempts int, reconnectDelay time.Duration) *WebSocket {
	if reconnectDelay <= 0 {
		reconnectDelay = 100 * time.Millisecond
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &WebSocket{
		wsURL:                wsURL,
		state:                StateDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		reconnectDelay:       reconnectDelay,
		pingInterval:         30 * time.Second,
		stopCh:               make(chan struct{}),
		rootCtx:              rootCtx,
		rootCancel:           rootCancel,
	}
}

func (ws *WebSocket) Connect(ctx context.Context) error {
	ws.stateM.Lock()
	if ws.state == StateConnected || ws.state == StateConnecting {
		ws.stateM.Unlock()
		return nil
	}
	ws.stateM.Unlock()
	ws.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := ws.dial(dialCtx)
	if err != nil {
		ws.setState(StateFailed)
		ws.scheduleReconnect()
		return err
	}
	ws.attach(conn)
	return nil
}

func (ws *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, ws.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      ws.buildHeaders(),
	})
	if err != nil {
		return nil, err
	}
	// snapshots of a busy school can be large
	conn.SetReadLimit(4 << 20)
	return conn, nil
}

func (ws *WebSocket) attach(conn *websocket.Conn) {
	ws.connM.Lock()
	ws.conn = conn
	ws.connM.Unlock()
	ws.setState(StateConnected)

	ws.wg.Add(2)
	go ws.listen(conn)
	go ws.pingLoop(conn)
}

func (ws *WebSocket) listen(conn *websocket.Conn) {
	defer ws.wg.Done()
	for {
		if ws.isStopping() {
			return
		}
		var frame Frame
		if err := wsjson.Read(ws.rootCtx, conn, &frame); err != nil {
			if ws.isStopping() {
				return
			}
			ws.setState(StateDisconnected)
			_ = ws.closeConn(conn, websocket.StatusGoingAway, "reconnect")
			ws.scheduleReconnect()
			return
		}

		ws.cbM.RLock()
		callbacks := make([]frameCallbackEntry, len(ws.frameCbs))
		copy(callbacks, ws.frameCbs)
		ws.cbM.RUnlock()
		for _, entry := range callbacks {
			if entry.callback != nil {
				entry.callback(&frame)
			}
		}
	}
}

func (ws *WebSocket) pingLoop(conn *websocket.Conn) {
	defer ws.wg.Done()
	t := time.NewTicker(ws.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ws.stopCh:
			return
		case <-ws.rootCtx.Done():
			return
		case <-t.C:
			if ws.current() != conn {
				return
			}
			ctx, cancel := context.WithTimeout(ws.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				if ws.isStopping() {
					return
				}
				ws.setState(StateDisconnected)
				_ = ws.closeConn(conn, websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (ws *WebSocket) scheduleReconnect() {
	if ws.maxReconnectAttempts <= 0 || ws.isStopping() {
		return
	}
	ws.setState(StateReconnecting)

	go func() {
		for attempt := 1; attempt <= ws.maxReconnectAttempts; attempt++ {
			select {
			case <-ws.stopCh:
				return
			case <-time.After(ws.backoff(attempt)):
			}

			dialCtx, cancel := context.WithTimeout(ws.rootCtx, 10*time.Second)
			conn, err := ws.dial(dialCtx)
			cancel()
			if err != nil {
				continue
			}
			ws.attach(conn)
			return
		}
		ws.setState(StateFailed)
	}()
}

func (ws *WebSocket) backoff(attempt int) time.Duration {
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * ws.reconnectDelay
}

func (ws *WebSocket) OnFrame(cb FrameCallback) int {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	ws.nextCbID++
	ws.frameCbs = append(ws.frameCbs, frameCallbackEntry{id: ws.nextCbID, callback: cb})
	return ws.nextCbID
}

func (ws *WebSocket) RemoveFrameCallback(id int) {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	for i, cb := range ws.frameCbs {
		if cb.id == id {
			ws.frameCbs = append(ws.frameCbs[:i], ws.frameCbs[i+1:]...)
			break
		}
	}
}

func (ws *WebSocket) OnStateChange(cb StateCallback) int {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	ws.nextCbID++
	ws.stateCbs = append(ws.stateCbs, stateCallbackEntry{id: ws.nextCbID, callback: cb})
	return ws.nextCbID
}

func (ws *WebSocket) RemoveStateCallback(id int) {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	for i, cb := range ws.stateCbs {
		if cb.id == id {
			ws.stateCbs = append(ws.stateCbs[:i], ws.stateCbs[i+1:]...)
			break
		}
	}
}

// State returns the current connection state.
func (ws *WebSocket) State() State {
	ws.stateM.RLock()
	defer ws.stateM.RUnlock()
	return ws.state
}

func (ws *WebSocket) setState(state State) {
	ws.stateM.Lock()
	ws.state = state
	ws.stateM.Unlock()

	ws.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(ws.stateCbs))
	copy(callbacks, ws.stateCbs)
	ws.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(state)
		}
	}
}

func (ws *WebSocket) Close(ctx context.Context) error {
	ws.stopOnce.Do(func() { close(ws.stopCh) })
	if conn := ws.current(); conn != nil {
		_ = ws.closeConn(conn, websocket.StatusNormalClosure, "close")
	}
	ws.rootCancel()

	done := make(chan struct{})
	go func() {
		ws.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (ws *WebSocket) current() *websocket.Conn {
	ws.connM.Lock()
	defer ws.connM.Unlock()
	return ws.conn
}

func (ws *WebSocket) closeConn(conn *websocket.Conn, code websocket.StatusCode, reason string) error {
	ws.connM.Lock()
	if ws.conn == conn {
		ws.conn = nil
	}
	ws.connM.Unlock()
	return conn.Close(code, reason)
}

func (ws *WebSocket) isStopping() bool {
	select {
	case <-ws.stopCh:
		return true
	default:
		return false
	}
}

// SetHeaderProvider injects headers into the WS handshake.
func (ws *WebSocket) SetHeaderProvider(h HeaderProvider) {
	ws.headerProvider = h
}

func (ws *WebSocket) buildHeaders() http.Header {
	hdr := http.Header{}
	if ws.headerProvider == nil {
		return hdr
	}
	for k, v := range ws.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
