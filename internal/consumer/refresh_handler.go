package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"example.com/biometrics/internal/domain"
	"example.com/biometrics/internal/events"
	"example.com/biometrics/internal/refresh"
)

// Refresher is the slice of refresh.Service the handler drives.
type Refresher interface {
	Refresh(context.Context, refresh.Request) (refresh.Report, error)
}

// RefreshHandler runs a refresh for every sync.requested event.
type RefreshHandler struct {
	refresher Refresher
	logger    log.FieldLogger
}

// NewRefreshHandler constructs a handler that forwards sync requests to refresher.
func NewRefreshHandler(refresher Refresher, logger log.FieldLogger) *RefreshHandler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RefreshHandler{refresher: refresher, logger: logger}
}

// Handle decodes the sync request and blocks until the refresh finishes.
// A refresh superseded by a newer overlapping one counts as handled.
func (h *RefreshHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != events.SyncRequestedType {
		return fmt.Errorf("%w: unsupported event_type %q", ErrPoison, msg.EventType)
	}

	var event events.SyncRequested
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("%w: decode sync request: %v", ErrPoison, err)
	}

	req := refresh.Request{
		From: domain.DateKey(event.StartDate),
		To:   domain.DateKey(event.EndDate),
	}
	report, err := h.refresher.Refresh(ctx, req)
	logger := h.logger.WithFields(log.Fields{
		"refresh_id":   report.RefreshID,
		"requested_at": event.RequestedAt,
		"status":       report.Status,
	})
	switch {
	case err == nil:
		logger.WithField("committed", len(report.Committed)).Info("sync request handled")
		return nil
	case errors.Is(err, domain.ErrInvalidRange):
		return fmt.Errorf("%w: %v", ErrPoison, err)
	case errors.Is(err, domain.ErrRefreshSuperseded):
		logger.Info("sync request superseded by a newer refresh")
		return nil
	default:
		return err
	}
}
