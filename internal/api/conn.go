package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// conn is one connected widget. Frames from the synchronizer are fanned
// out to every conn through send; frames from the widget are dispatched
// to the synchronizer from the read pump.
type conn struct {
	ws     *websocket.Conn
	server *Server
	log    zerolog.Logger
	send   chan *ServerFrame
	stop   chan struct{}
}

func newConn(ws *websocket.Conn, server *Server, logger zerolog.Logger) *conn {
	return &conn{
		ws:     ws,
		server: server,
		log:    logger,
		send:   make(chan *ServerFrame, 256),
		stop:   make(chan struct{}),
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			bytes, err := json.Marshal(frame)
			if err != nil {
				c.log.Error().Err(err).Msg("failed to serialize frame")
				continue
			}
			if !c.write(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *conn) readPump() {
	defer func() {
		c.ws.Close()
		c.server.unregister(c)
		close(c.stop)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.log.Warn().Err(err).Msg("unparseable frame")
			c.queue(errResponse(0, http.StatusBadRequest, "invalid frame"))
			continue
		}

		c.dispatch(&frame)
	}
}

// dispatch runs the requested synchronizer action and queues a response
// frame. Actions block on the synchronizer loop, never on the network.
func (c *conn) dispatch(frame *ClientFrame) {
	chat := c.server.synchronizer()
	if chat == nil {
		c.queue(errResponse(frame.Id, http.StatusServiceUnavailable, "not ready"))
		return
	}

	var err error
	switch {
	case frame.Create != nil:
		err = chat.CreateRoom(frame.Create.Room, frame.Create.Password)
	case frame.Join != nil:
		err = chat.JoinRoom(frame.Join.Room, frame.Join.Password)
	case frame.Leave != nil:
		err = chat.LeaveRoom()
	case frame.Publish != nil:
		err = chat.SendMessage(frame.Publish.Text)
	case frame.SetUsername != nil:
		err = chat.SetUsername(frame.SetUsername.Username)
	default:
		c.queue(errResponse(frame.Id, http.StatusBadRequest, "unknown action"))
		return
	}

	c.queue(actionResponse(frame.Id, err))
}

func (c *conn) queue(frame *ServerFrame) {
	select {
	case c.send <- frame:
	default:
		c.log.Warn().Msg("dropping frame, send buffer full")
	}
}

func (c *conn) write(msgType int, data []byte) bool {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(msgType, data); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("websocket write failed")
		}
		return false
	}
	return true
}
