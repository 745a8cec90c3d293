package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/luckygarg1810/exam-platform/internal/broker"
	"github.com/luckygarg1810/exam-platform/internal/metrics"
	"github.com/luckygarg1810/exam-platform/internal/risk"
	"github.com/luckygarg1810/exam-platform/internal/store"
)

// EventStore persists raw behavior events; the relational store satisfies it.
type EventStore interface {
	InsertBehaviorEvent(ctx context.Context, event *store.BehaviorEvent) error
}

// BehaviorPipeline scores discrete client-side behavior events against each
// session's rolling history.
type BehaviorPipeline struct {
	windows   *SessionWindows
	scorer    *risk.Scorer
	publisher Publisher
	events    EventStore // nil when the database is unavailable
	logger    zerolog.Logger

	now func() time.Time
}

func NewBehaviorPipeline(windows *SessionWindows, scorer *risk.Scorer, publisher Publisher, events EventStore, logger zerolog.Logger) *BehaviorPipeline {
	return &BehaviorPipeline{
		windows:   windows,
		scorer:    scorer,
		publisher: publisher,
		events:    events,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle processes one behavior event. Persistence is best-effort; only
// malformed JSON fails the message.
func (p *BehaviorPipeline) Handle(body []byte) error {
	var msg map[string]any
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("parse behavior event: %w", err)
	}

	sessionID := stringField(msg, "sessionId", "unknown")
	eventType := stringField(msg, "type", "UNKNOWN")
	timestampMS := numberField(msg, "timestamp", float64(p.now().UnixMilli()))

	p.persistEvent(sessionID, eventType, timestampMS, msg)

	features := p.windows.Observe(sessionID, eventType, timestampMS/1000.0)

	assessment := p.scorer.ScoreBehavior(features)
	metrics.RiskScore.WithLabelValues("behavior").Observe(assessment.RiskScore)

	if assessment.RiskScore < 0.30 && len(assessment.Violations) == 0 {
		return nil
	}

	meta := map[string]any{
		"event_type": eventType,
		"feature_vector": map[string]any{
			"tab_switches":       features.TabSwitches,
			"copy_paste_count":   features.CopyPasteCount,
			"context_menu_count": features.ContextMenuCount,
			"fullscreen_exits":   features.FullscreenExits,
			"focus_loss_count":   features.FocusLossCount,
			"event_rate_per_min": round2(features.EventRatePerMin),
		},
	}
	for _, v := range assessment.Violations {
		confidence := v.Confidence
		p.publisher.Publish(broker.Result{
			SessionID:   sessionID,
			EventType:   v.EventType,
			Severity:    string(v.Severity),
			Confidence:  &confidence,
			Description: v.Description,
			RiskScore:   assessment.RiskScore,
			Metadata:    meta,
		})
	}
	return nil
}

// persistEvent appends the raw event row. The metadata column carries every
// inbound field except the envelope; failures are logged and swallowed.
func (p *BehaviorPipeline) persistEvent(sessionID, eventType string, timestampMS float64, msg map[string]any) {
	if p.events == nil {
		return
	}

	var metadata store.JSONB
	for k, v := range msg {
		switch k {
		case "sessionId", "type", "timestamp":
			continue
		}
		if metadata == nil {
			metadata = store.JSONB{}
		}
		metadata[k] = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.events.InsertBehaviorEvent(ctx, &store.BehaviorEvent{
		SessionID: sessionID,
		EventType: eventType,
		Timestamp: time.UnixMilli(int64(timestampMS)).UTC(),
		Metadata:  metadata,
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Behavior event persistence failed")
	}
}

func stringField(msg map[string]any, key, fallback string) string {
	if v, ok := msg[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func numberField(msg map[string]any, key string, fallback float64) float64 {
	if v, ok := msg[key].(float64); ok {
		return v
	}
	return fallback
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
