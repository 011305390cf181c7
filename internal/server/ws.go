package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satindergrewal/deckd/internal/deck"
	"github.com/satindergrewal/deckd/internal/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 4096
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is a server-to-client websocket frame. Type is "status" for
// pushed deck status and "reply" for the outcome of a gesture.
type Message struct {
	Type   string       `json:"type"`
	Op     string       `json:"op,omitempty"`
	OK     bool         `json:"ok"`
	Result any          `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`
	Status *deck.Status `json:"status,omitempty"`
}

// handleWS accepts gestures from the client and pushes the deck status
// after every change. All writes go through one goroutine.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	label := mux.Vars(r)["label"]
	d, ok := s.reg.Get(label)
	if !ok {
		writeError(w, ErrDeckNotFound)
		return
	}
	updates, unsubscribe, err := s.reg.Subscribe(label)
	if err != nil {
		writeError(w, err)
		return
	}
	defer unsubscribe()

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := s.log.With(logger.Deck(label), zap.String("remote", r.RemoteAddr))
	log.Debug("control client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	replies := make(chan Message, 16)
	st := d.Status()
	replies <- Message{Type: "status", OK: true, Status: &st}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer conn.Close()
		defer cancel()
		s.writePump(ctx, conn, replies, updates)
	}()

	s.readPump(ctx, conn, d, replies, log)
	cancel()
	<-writerDone
	log.Debug("control client disconnected")
}

func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, d *deck.Deck, replies chan<- Message, log *zap.Logger) {
	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		var g Gesture
		reply := Message{Type: "reply"}
		if err := json.Unmarshal(data, &g); err != nil {
			reply.Error = "invalid message: " + err.Error()
		} else {
			reply.Op = g.Op
			result, err := s.apply(ctx, d, g)
			if err != nil {
				reply.Error = err.Error()
			} else {
				reply.OK = true
				reply.Result = result
			}
		}

		select {
		case replies <- reply:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, replies <-chan Message, updates <-chan deck.Status) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	write := func(m Message) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(m) == nil
	}

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case m := <-replies:
			if !write(m) {
				return
			}
		case st, ok := <-updates:
			if !ok {
				// Deck removed.
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "deck removed"))
				return
			}
			if !write(Message{Type: "status", OK: true, Status: &st}) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
