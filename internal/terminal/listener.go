package terminal

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/quickserve-pos/api/internal/ws"
)

const (
	dialTimeout      = 10 * time.Second
	ackWait          = 10 * time.Second
	reconnectBackoff = 5 * time.Second
)

// Listener keeps a realtime connection to the gateway and queues every
// inventory delta for this terminal's location into the local store.
// Deltas are only queued here; the reconciler consumes them at
// checkout, so a push mid-browsing never yanks items out from under
// the customer.
type Listener struct {
	serverURL  string
	token      string
	locationID uuid.UUID
	store      *Store
}

func NewListener(serverURL, token string, locationID uuid.UUID, store *Store) *Listener {
	return &Listener{
		serverURL:  serverURL,
		token:      token,
		locationID: locationID,
		store:      store,
	}
}

// Run connects and consumes events until ctx is cancelled, reconnecting
// on any failure. Missed deltas during an outage are recovered by a
// full catalog refresh on reconnect, which the caller drives.
func (l *Listener) Run(ctx context.Context) {
	for {
		if err := l.consume(ctx); err != nil {
			logrus.WithError(err).Warn("realtime connection lost")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (l *Listener) consume(ctx context.Context) error {
	conn, err := l.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Drop the connection when ctx is cancelled so ReadJSON unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(dialTimeout))
	})

	logrus.WithField("location_id", l.locationID).Info("realtime connected")

	for {
		var event ws.Event
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}

		if event.Type != ws.EventInventoryDelta {
			continue
		}

		delta, err := ws.DecodeInventoryDelta(event)
		if err != nil {
			logrus.WithError(err).Warn("malformed inventory delta")
			continue
		}

		if err := l.store.PutDelta(PendingDelta{
			ItemID:   delta.ItemID.String(),
			Price:    delta.Price,
			Quantity: delta.Quantity,
			Enabled:  delta.Enabled,
		}); err != nil {
			logrus.WithError(err).Error("queue inventory delta")
		}
	}
}

// dial opens the connection and completes the join handshake for this
// terminal's location.
func (l *Listener) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(l.serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("token", l.token)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}

	if err := conn.WriteJSON(ws.JoinEvent(l.locationID)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(ackWait))
	var ack ws.Event
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read join ack: %w", err)
	}
	if msg, isErr := ack.ErrorMessage(); isErr {
		conn.Close()
		return nil, fmt.Errorf("join rejected: %s", msg)
	}
	if !ack.IsJoinAck() {
		conn.Close()
		return nil, fmt.Errorf("unexpected frame %q before join ack", ack.Type)
	}
	conn.SetReadDeadline(time.Time{})

	return conn, nil
}
