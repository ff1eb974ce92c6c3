package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/quickserve-pos/api/internal/auth"
	"github.com/quickserve-pos/api/internal/database"
	"github.com/quickserve-pos/api/internal/enum"
)

// LocationResolver checks which tenant a requested room belongs to, so
// an owner token cannot join another tenant's rooms.
type LocationResolver interface {
	GetLocation(ctx context.Context, id uuid.UUID) (database.Location, error)
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Time allowed for the join frame after the upgrade
	joinWait = 10 * time.Second
)

var (
	errJoinRequired   = errors.New("join frame required")
	errBadLocation    = errors.New("invalid location id")
	errLocationDenied = errors.New("location access denied")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // auth is the JWT, not the origin
	},
}

// Client represents a single WebSocket connection joined to one
// location's room.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	locationID uuid.UUID
	send       chan []byte
}

// ReadPump pumps messages from the connection to the hub. Clients only
// talk during the join handshake; afterwards we just detect disconnects.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).Warn("websocket read")
			}
			break
		}
	}
}

// WritePump pumps messages from the hub to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS handles a realtime connection: GET /ws?token=JWT, then the
// client's first frame must be {"type":"join","payload":{"location_id":...}}.
// A join for a location other than the credential's is rejected and the
// connection closed; only OWNER may join other rooms, and only within
// its own tenant.
func ServeWS(hub *Hub, jwtSecret string, locations LocationResolver, w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := auth.ValidateToken(jwtSecret, tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade")
		return
	}

	locationID, err := readJoin(r.Context(), conn, locations, claims)
	if err != nil {
		writeControl(conn, frameError, errorPayload{Error: err.Error()})
		conn.Close()
		return
	}
	writeControl(conn, frameJoined, joinPayload{LocationID: locationID.String()})

	client := &Client{
		hub:        hub,
		conn:       conn,
		locationID: locationID,
		send:       make(chan []byte, 256),
	}
	client.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}

// readJoin waits for the join frame and validates the requested room
// against the caller's claims.
func readJoin(ctx context.Context, conn *websocket.Conn, locations LocationResolver, claims *auth.Claims) (uuid.UUID, error) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(joinWait))

	var frame Event
	if err := conn.ReadJSON(&frame); err != nil {
		return uuid.Nil, errJoinRequired
	}
	if frame.Type != frameJoin {
		return uuid.Nil, errJoinRequired
	}

	var join joinPayload
	if err := json.Unmarshal(frame.Payload, &join); err != nil {
		return uuid.Nil, errJoinRequired
	}

	locationID, err := uuid.Parse(join.LocationID)
	if err != nil {
		return uuid.Nil, errBadLocation
	}

	if claims.Role == enum.UserRoleOwner {
		loc, err := locations.GetLocation(ctx, locationID)
		if err != nil || loc.TenantID != claims.TenantID {
			return uuid.Nil, errLocationDenied
		}
	} else if claims.LocationID != locationID {
		return uuid.Nil, errLocationDenied
	}

	// Reset the deadline; ReadPump takes over from here.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	return locationID, nil
}

func writeControl(conn *websocket.Conn, frameType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Event{Type: frameType, Payload: raw}); err != nil {
		logrus.WithError(err).Debug("websocket control write")
	}
}
