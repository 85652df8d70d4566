package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
	"github.com/muzlik-gm/Portfolio-sub000/internal/platform/correlation"
	"github.com/muzlik-gm/Portfolio-sub000/internal/protocol"
)

const (
	maxMessageSize    = 64 * 1024
	closeDrainTimeout = time.Second
)

// Serve authenticates an upgraded socket and runs its read loop until the
// client goes away or the broadcaster stops. It blocks; call it from the
// handler goroutine that performed the upgrade.
//
// A missing token closes the socket with 4001 and an unverifiable one with
// 4003. Once registered, client messages are parsed as control messages; a
// bad message is answered with a system.error event and the socket stays open.
func (b *Broadcaster) Serve(ctx context.Context, socket *websocket.Conn, token string) error {
	identity, err := b.authenticate(ctx, socket, token)
	if err != nil {
		return err
	}

	conn := newConnection(uuid.NewString(), *identity, socket)
	if err := b.register(conn); err != nil {
		_ = socket.Close()
		return err
	}
	defer b.send(unregisterCmd{connection: conn})

	ctx = correlation.WithConnectionID(ctx, conn.id)
	slog.DebugContext(ctx, "Socket registered", "user_id", identity.UserID, "instance_id", b.cfg.InstanceID)

	socket.SetReadLimit(maxMessageSize)
	socket.SetPongHandler(func(string) error {
		b.send(touchCmd{connection: conn})
		return nil
	})

	for {
		_, raw, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.DebugContext(ctx, "Client read error", "error", err)
			}
			return nil
		}

		b.send(touchCmd{connection: conn})
		b.handleControl(ctx, conn, raw)
	}
}

func (b *Broadcaster) authenticate(ctx context.Context, socket *websocket.Conn, token string) (*domain.Identity, error) {
	if token == "" {
		b.metrics.AuthFailures.WithLabelValues("missing").Inc()
		rejectHandshake(socket, protocol.CloseAuthRequired, "Authentication token required")
		return nil, domain.ErrMissingToken
	}

	identity, err := b.verifier.Verify(ctx, token)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, domain.ErrNotAdmin) {
			reason = "forbidden"
		}
		b.metrics.AuthFailures.WithLabelValues(reason).Inc()
		slog.InfoContext(ctx, "Rejecting socket: token verification failed", "error", err)
		rejectHandshake(socket, protocol.CloseAuthInvalid, "Invalid authentication token")
		return nil, fmt.Errorf("verify token: %w", err)
	}
	return identity, nil
}

// rejectHandshake sends the close frame and drains whatever the client had
// already written until it answers the close. Closing with unread data would
// reset the TCP connection and could discard the close frame before the
// client reads it.
func rejectHandshake(socket *websocket.Conn, code int, reason string) {
	closeMsg := websocket.FormatCloseMessage(code, reason)
	_ = socket.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeDeadline))

	_ = socket.SetReadDeadline(time.Now().Add(closeDrainTimeout))
	for {
		if _, _, err := socket.ReadMessage(); err != nil {
			break
		}
	}
	_ = socket.Close()
}

// handleControl runs on the reader goroutine. Index mutations go through the
// loop; replies that need no registry state go straight to the writer.
func (b *Broadcaster) handleControl(ctx context.Context, conn *connection, raw []byte) {
	ctrl, err := protocol.ParseControl(raw, uuid.NewString)
	if err != nil {
		b.metrics.ControlErrors.Inc()
		slog.DebugContext(ctx, "Invalid client message", "error", err)
		b.sendError(conn, "invalid_message", err)
		return
	}

	switch c := ctrl.(type) {
	case protocol.Subscribe:
		b.send(subscribeCmd{connection: conn, subscription: c.Subscription})
	case protocol.Unsubscribe:
		b.send(unsubscribeCmd{connection: conn, subscriptionID: c.SubscriptionID})
	case protocol.Ping:
		data, err := protocol.EncodePong(b.clock.Now())
		if err != nil {
			slog.ErrorContext(ctx, "Failed to marshal pong", "error", err)
			return
		}
		conn.writer.enqueue(data)
	case protocol.Auth:
		// Identity is fixed at connect time.
		slog.DebugContext(ctx, "Ignoring in-band auth message")
	}
}
