// Command eventtail prints live events from a broadcast server. It signs its
// own admin token when given the server's JWT secret.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/muzlik-gm/Portfolio-sub000/internal/auth"
	"github.com/muzlik-gm/Portfolio-sub000/internal/client"
	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
	"github.com/muzlik-gm/Portfolio-sub000/internal/platform/logging"
)

func main() {
	_ = godotenv.Load()

	var (
		url      string
		token    string
		secret   string
		issuer   string
		types    string
		userID   string
		logLevel string
	)
	flag.StringVar(&url, "url", "ws://localhost:8080/ws", "WebSocket endpoint")
	flag.StringVar(&token, "token", "", "Bearer token; signed from -secret when empty")
	flag.StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "JWT secret used to sign a token")
	flag.StringVar(&issuer, "issuer", envOr("JWT_ISSUER", "portfolio-admin"), "JWT issuer")
	flag.StringVar(&types, "types", "", "Comma-separated event types; empty means all")
	flag.StringVar(&userID, "user", "", "Only print events about this user id")
	flag.StringVar(&logLevel, "log-level", "warn", "Log level")
	flag.Parse()

	logging.InitLogger(logLevel, "text")

	if err := run(url, token, secret, issuer, types, userID); err != nil {
		fmt.Fprintln(os.Stderr, "eventtail:", err)
		os.Exit(1)
	}
}

func run(url, token, secret, issuer, types, userID string) error {
	if token == "" {
		if secret == "" {
			return errors.New("either -token or -secret (JWT_SECRET) is required")
		}
		signed, err := auth.Sign(secret, issuer, domain.Identity{
			UserID: "eventtail",
			Email:  "eventtail@localhost",
			Role:   domain.RoleAdmin,
		}, 12*time.Hour, time.Now())
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		token = signed
	}

	eventTypes, err := parseTypes(types)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	c := client.New(client.Config{
		URL:   url,
		Token: token,
		OnEvent: func(env domain.Envelope) {
			if err := enc.Encode(env); err != nil {
				slog.Warn("Failed to print event", "event_id", env.ID, "error", err)
			}
		},
		OnStateChange: func(s client.State) {
			if s.Connected {
				slog.Info("Connected", "url", url)
			} else if s.Error != "" {
				slog.Warn("Disconnected", "error", s.Error)
			}
		},
	})
	system := client.SystemEvents(c, 20)

	var filter *domain.Filter
	if userID != "" {
		filter = &domain.Filter{UserID: userID}
	}
	if _, err := c.Subscribe(eventTypes, filter); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		c.Disconnect()
	}()

	err = c.Run(ctx)

	if last, ok := system.Latest(); ok {
		slog.Info("Last system notice", "type", last.Envelope.Type, "status", last.Data.Status, "seen", system.Len())
	}
	switch {
	case errors.Is(err, client.ErrAuthRejected):
		return fmt.Errorf("token rejected: %w", err)
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

// parseTypes turns "content.published,user.login" into event types. Empty
// input subscribes to every type.
func parseTypes(s string) ([]domain.EventType, error) {
	if strings.TrimSpace(s) == "" {
		return domain.AllEventTypes(), nil
	}
	var out []domain.EventType
	for _, part := range strings.Split(s, ",") {
		t, err := domain.ParseEventType(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
