package control

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/NodePath81/fbspeed/internal/engine"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsSendBuffer   = 32
)

type snapshotMessage struct {
	Type     string          `json:"type"`
	Snapshot engine.Snapshot `json:"snapshot"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type clientMessage struct {
	Type string `json:"type"`
}

// statusClient is one websocket connection. Its writer goroutine owns conn
// writes; everything else queues on send.
type statusClient struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *statusClient) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// queue drops the message if the client is not keeping up. Snapshots are
// complete states, so a later one supersedes anything dropped.
func (s *statusClient) queue(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case <-s.done:
	case s.send <- data:
	default:
	}
}

func (c *ControlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !c.checkStatusAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	upgrader := websocket.Upgrader{
		CheckOrigin:  originAllowed,
		Subprotocols: []string{wsPrimaryProtocol},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	client := &statusClient{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		done: make(chan struct{}),
	}
	updates, unsubscribe := c.engine.Subscribe()
	client.queue(snapshotMessage{Type: "snapshot", Snapshot: c.engine.Snapshot()})
	c.logger.Debug("status client connected", "remote", clientIP(r))

	cleanup := func() {
		client.close()
		unsubscribe()
	}

	go func() {
		defer cleanup()
		for {
			select {
			case <-client.done:
				return
			case snap, ok := <-updates:
				if !ok {
					return
				}
				client.queue(snapshotMessage{Type: "snapshot", Snapshot: snap})
			}
		}
	}()

	go func() {
		defer cleanup()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req clientMessage
			if err := json.Unmarshal(msg, &req); err != nil {
				client.queue(errorMessage{Type: "error", Code: "invalid_json", Message: "message must be a json object"})
				continue
			}
			switch req.Type {
			case "start":
				started := c.engine.Start()
				c.logger.Info("start requested", "source", "status", "started", started)
			case "reset":
				c.engine.Reset()
				c.logger.Info("reset requested", "source", "status")
			default:
				client.queue(errorMessage{Type: "error", Code: "unknown_type", Message: "type must be start or reset"})
			}
		}
	}()

	go func() {
		defer cleanup()
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-client.done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case data := <-client.send:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}()
}
