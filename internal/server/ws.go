package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/lotgate/internal/hw/sim"
)

var simUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// SimMessage is sent from the server to a simulator panel.
type SimMessage struct {
	Type   string      `json:"type"` // screen | ack | error
	Screen *sim.Screen `json:"screen,omitempty"`
	Op     string      `json:"op,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// handleSimSocket handles GET /v1/sim/ws. The panel sends sim.Command
// objects that drive the simulated board, and receives every display write
// plus an ack or error per command.
func (s *Server) handleSimSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := simUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Warn("sim panel upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	s.logger.Info("sim panel connected", "remote", r.RemoteAddr)

	screens, stopWatch := s.board.WatchScreen()
	defer stopWatch()

	replies := make(chan SimMessage, 16)
	quit := make(chan struct{})
	readDone := make(chan struct{})
	defer close(quit)

	go func() {
		defer close(readDone)
		s.readSimCommands(conn, replies, quit)
	}()

	current := s.board.Screen()
	if err := conn.WriteJSON(SimMessage{Type: "screen", Screen: &current}); err != nil {
		return
	}
	for {
		var msg SimMessage
		select {
		case <-readDone:
			s.logger.Info("sim panel disconnected", "remote", r.RemoteAddr)
			return
		case sc := <-screens:
			msg = SimMessage{Type: "screen", Screen: &sc}
		case msg = <-replies:
		}
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("sim panel write failed", "err", err)
			return
		}
	}
}

// readSimCommands applies commands until the connection closes. Replies go
// to the writer, which owns the connection's write side.
func (s *Server) readSimCommands(conn *websocket.Conn, replies chan<- SimMessage, quit <-chan struct{}) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("sim panel read failed", "err", err)
			}
			return
		}

		var cmd sim.Command
		reply := SimMessage{Type: "ack"}
		if err := json.Unmarshal(raw, &cmd); err != nil {
			reply = SimMessage{Type: "error", Error: "invalid command: " + err.Error()}
		} else if err := s.board.Apply(cmd); err != nil {
			reply = SimMessage{Type: "error", Op: cmd.Op, Error: err.Error()}
		} else {
			reply.Op = cmd.Op
			s.logger.Debug("sim command applied", "op", cmd.Op, "gate", cmd.Gate, "index", cmd.Index)
		}

		select {
		case replies <- reply:
		case <-quit:
			return
		}
	}
}
