package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/tandem/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/tandem/internal/core/domain"
	"github.com/Wyydra/tandem/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Bundled offers carry every gathered candidate.
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

type WSClient struct {
	id   domain.ParticipantID
	conn *websocket.Conn
	send chan *protocol.Message

	closeOnce sync.Once
	done      chan struct{}
}

func newWSClient(id domain.ParticipantID, conn *websocket.Conn) *WSClient {
	return &WSClient{
		id:   id,
		conn: conn,
		send: make(chan *protocol.Message, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *WSClient) ID() domain.ParticipantID {
	return c.id
}

func (c *WSClient) Deliver(msg *protocol.Message) error {
	select {
	case <-c.done:
		return ws.ErrClientClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return ws.ErrBufferFull
	}
}

func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// writePump is the only writer on the connection.
func (c *WSClient) writePump(l zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				l.Debug().Err(err).Msg("Write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// HTTP handler
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	ctx := r.Context()
	id := h.Relay.Connect(ctx)
	client := newWSClient(id, conn)

	l := log.With().Str("client_id", id.String()).Logger()
	l.Info().Msg("New client connected")

	h.Hub.Register(client)
	go client.writePump(l)

	defer func() {
		l.Info().Msg("Client disconnected")
		h.Hub.Unregister(client)
		h.Relay.Disconnect(context.Background(), id)
		client.Close()
	}()

	hello, err := protocol.New(protocol.EventConnect, protocol.ConnectPayload{ID: id.String()})
	if err != nil {
		l.Error().Err(err).Msg("Failed to encode connect frame")
		return
	}
	if err := client.Deliver(hello); err != nil {
		l.Error().Err(err).Msg("Failed to queue connect frame")
		return
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			break
		}
		h.dispatch(ctx, l, id, &msg)
	}
}

// dispatch routes one frame. Frames that cannot be decoded are dropped
// without telling the sender.
func (h *Handler) dispatch(ctx context.Context, l zerolog.Logger, id domain.ParticipantID, msg *protocol.Message) {
	switch msg.Event {
	case protocol.EventJoin:
		var roomID string
		if err := msg.Decode(&roomID); err != nil {
			l.Debug().Err(err).Msg("Dropping malformed join")
			return
		}
		h.Relay.Join(ctx, id, domain.RoomID(roomID))

	case protocol.EventOffer, protocol.EventAnswer, protocol.EventCandidate:
		env, err := msg.Envelope()
		if err != nil {
			l.Debug().Err(err).Msg("Dropping malformed signal")
			return
		}
		env.From = id
		h.Relay.Forward(ctx, env)

	case protocol.EventUpdateUserInfo:
		var info protocol.UserInfoPayload
		if err := msg.Decode(&info); err != nil {
			l.Debug().Err(err).Msg("Dropping malformed user info")
			return
		}
		h.Relay.UpdateMetadata(ctx, id, info.Nickname, info.PersonalColor, domain.RoomID(info.RoomID))

	default:
		l.Debug().Str("event", msg.Event).Msg("Unknown event")
	}
}
