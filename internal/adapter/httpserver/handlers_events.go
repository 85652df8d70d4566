package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
	"github.com/muzlik-gm/Portfolio-sub000/internal/events"
	apperrors "github.com/muzlik-gm/Portfolio-sub000/internal/platform/errors"
	"github.com/muzlik-gm/Portfolio-sub000/internal/pool"
)

const (
	apiSource     = "api"
	statsCacheKey = "realtime:stats"
)

// publishRequest is an envelope whose id, timestamp, source and priority
// may be left for the server to fill in.
type publishRequest struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp *time.Time      `json:"timestamp"`
	Source    string          `json:"source"`
	UserID    string          `json:"userId"`
	Priority  domain.Priority `json:"priority"`
}

type publishResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handlePublishEvent(c echo.Context) error {
	var req publishRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return apperrors.ValidationError("request body must be a JSON event", err)
	}

	env, err := s.envelopeFrom(req)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if err := s.publisher.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	if identity := identityFrom(c); identity != nil {
		slog.DebugContext(ctx, "Event published", "event_id", env.ID, "type", env.Type, "published_by", identity.UserID)
	}

	resp := publishResponse{ID: env.ID, Type: string(env.Type), Timestamp: env.Timestamp}
	if err := c.JSON(http.StatusAccepted, resp); err != nil {
		return fmt.Errorf("failed to write publish response: %w", err)
	}
	return nil
}

func (s *Server) envelopeFrom(req publishRequest) (domain.Envelope, error) {
	t, err := domain.ParseEventType(req.Type)
	if err != nil {
		return domain.Envelope{}, apperrors.ValidationError("unknown event type", err).WithContext("type", req.Type)
	}

	raw := req.Data
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	data, err := domain.DecodePayload(t, raw)
	if err != nil {
		return domain.Envelope{}, apperrors.ValidationError("data does not match event type", err)
	}

	env := domain.Envelope{
		ID:       req.ID,
		Type:     t,
		Data:     data,
		Source:   req.Source,
		UserID:   req.UserID,
		Priority: req.Priority,
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if req.Timestamp != nil {
		env.Timestamp = *req.Timestamp
	} else {
		env.Timestamp = s.clock.Now()
	}
	if env.Source == "" {
		env.Source = apiSource
	}
	if env.Priority == "" {
		env.Priority = events.PriorityOf(t)
	}

	if err := env.Validate(); err != nil {
		return domain.Envelope{}, apperrors.ValidationError(err.Error(), err)
	}
	return env, nil
}

type statsResponse struct {
	NodeID    string     `json:"nodeId"`
	Pool      pool.Stats `json:"pool"`
	Timestamp time.Time  `json:"timestamp"`
}

// handleStats reports pool statistics. With a cache the snapshot is shared
// for StatsCacheTTL so dashboards polling in a loop do not each query every
// broadcaster.
func (s *Server) handleStats(c echo.Context) error {
	ctx := c.Request().Context()

	load := func() ([]byte, error) {
		return json.Marshal(statsResponse{NodeID: s.nodeID, Pool: s.pool.Stats(), Timestamp: s.clock.Now()})
	}

	var (
		body []byte
		err  error
	)
	if s.cache != nil {
		body, err = s.cache.GetOrLoad(ctx, statsCacheKey+":"+s.nodeID, s.config.StatsCacheTTL, func(context.Context) ([]byte, error) {
			return load()
		})
	} else {
		body, err = load()
	}
	if err != nil {
		return apperrors.InternalError("failed to collect stats", err)
	}

	if err := c.JSONBlob(http.StatusOK, body); err != nil {
		return fmt.Errorf("failed to write stats response: %w", err)
	}
	return nil
}
