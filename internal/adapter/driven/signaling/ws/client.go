// Package ws is the peer side of the signaling websocket.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/tandem/internal/core/domain"
	"github.com/Wyydra/tandem/internal/core/port"
	"github.com/Wyydra/tandem/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
	handshakeWait  = 10 * time.Second
)

var (
	ErrClosed    = errors.New("signaling connection closed")
	ErrHandshake = errors.New("relay did not announce an identifier")
)

// Client is a SignalChannel over a websocket to the relay.
type Client struct {
	conn *websocket.Conn
	id   domain.ParticipantID

	send      chan *protocol.Message
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the relay and waits for the connect frame carrying this
// peer's identifier.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxMessageSize)

	conn.SetReadDeadline(time.Now().Add(handshakeWait))
	var hello protocol.Message
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read connect frame: %w", err)
	}
	var payload protocol.ConnectPayload
	if hello.Event != protocol.EventConnect || hello.Decode(&payload) != nil || payload.ID == "" {
		conn.Close()
		return nil, ErrHandshake
	}

	c := &Client{
		conn: conn,
		id:   domain.ParticipantID(payload.ID),
		send: make(chan *protocol.Message, sendBuffer),
		done: make(chan struct{}),
	}
	go c.writePump()

	log.Info().Str("participant_id", payload.ID).Str("url", url).Msg("Connected to relay")
	return c, nil
}

func (c *Client) ID() domain.ParticipantID {
	return c.id
}

func (c *Client) Join(ctx context.Context, roomID domain.RoomID) error {
	msg, err := protocol.New(protocol.EventJoin, roomID.String())
	if err != nil {
		return err
	}
	return c.enqueue(ctx, msg)
}

func (c *Client) Signal(ctx context.Context, env domain.Envelope) error {
	msg, err := protocol.Outbound(env)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, msg)
}

func (c *Client) UpdateUserInfo(ctx context.Context, nickname, color string, roomID domain.RoomID) error {
	msg, err := protocol.New(protocol.EventUpdateUserInfo, protocol.UserInfoPayload{
		Nickname:      nickname,
		PersonalColor: color,
		RoomID:        roomID.String(),
	})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, msg)
}

// Listen reads frames and hands them to sink until the connection drops or
// ctx is cancelled. Only one Listen may run at a time.
func (c *Client) Listen(ctx context.Context, sink port.SignalSink) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	c.conn.SetPingHandler(func(data string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return c.readFailed(ctx, err)
		}
		c.dispatch(sink, &msg)
	}
}

func (c *Client) readFailed(ctx context.Context, err error) error {
	select {
	case <-c.done:
		err = ErrClosed
	default:
		c.Close()
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			err = ErrClosed
		} else {
			err = fmt.Errorf("read frame: %w", err)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) dispatch(sink port.SignalSink, msg *protocol.Message) {
	l := log.With().Str("participant_id", c.id.String()).Str("event", msg.Event).Logger()

	switch msg.Event {
	case protocol.EventOffer, protocol.EventAnswer, protocol.EventCandidate:
		env, err := msg.Envelope()
		if err != nil {
			l.Debug().Err(err).Msg("Dropping malformed signal")
			return
		}
		sink.HandleEnvelope(env)

	case protocol.EventUsers:
		var users protocol.UsersPayload
		if err := msg.Decode(&users); err != nil {
			l.Debug().Err(err).Msg("Dropping malformed users")
			return
		}
		sink.HandleUsers(users.Domain())

	case protocol.EventPeerJoined:
		var joined protocol.PeerJoinedPayload
		if err := msg.Decode(&joined); err != nil {
			l.Debug().Err(err).Msg("Dropping malformed peer-joined")
			return
		}
		sink.HandlePeerJoined(domain.ParticipantID(joined.ID))

	default:
		l.Debug().Msg("Unknown event")
	}
}

func (c *Client) enqueue(ctx context.Context, msg *protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Str("event", msg.Event).Msg("Failed to write frame")
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}
