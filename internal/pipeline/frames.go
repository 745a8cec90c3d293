// Package pipeline holds the message handlers behind each inbound queue:
// frames, audio chunks, and behavior events. Handlers return nil to ack and
// an error to nack without requeue; anything recoverable inside a message
// (undecodable media, failed snapshot upload, failed persistence) is logged
// and absorbed so one degraded dependency never poisons the queue.
package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/luckygarg1810/exam-platform/internal/broker"
	"github.com/luckygarg1810/exam-platform/internal/metrics"
	"github.com/luckygarg1810/exam-platform/internal/risk"
	"github.com/luckygarg1810/exam-platform/internal/vision"
)

const snapshotJPEGQuality = 85

// Publisher is the outbound seam; the broker publisher satisfies it and
// tests substitute a recorder.
type Publisher interface {
	Publish(r broker.Result)
}

// Uploader stores violation snapshots; the blob client satisfies it.
type Uploader interface {
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)
}

// frameMessage is the inbound frame.analysis payload.
type frameMessage struct {
	SessionID string `json:"sessionId"`
	FrameData string `json:"frameData"`
	Timestamp int64  `json:"timestamp"`
}

// FramePipeline analyzes one camera frame per message.
type FramePipeline struct {
	analyzer  *vision.Analyzer
	scorer    *risk.Scorer
	publisher Publisher
	uploader  Uploader
	bucket    string
	logger    zerolog.Logger
}

func NewFramePipeline(analyzer *vision.Analyzer, scorer *risk.Scorer, publisher Publisher, uploader Uploader, bucket string, logger zerolog.Logger) *FramePipeline {
	return &FramePipeline{
		analyzer:  analyzer,
		scorer:    scorer,
		publisher: publisher,
		uploader:  uploader,
		bucket:    bucket,
		logger:    logger,
	}
}

// Handle processes one frame message. Undecodable frames are dropped with an
// ack (nil return); only malformed JSON is treated as a poison message.
func (p *FramePipeline) Handle(body []byte) error {
	var msg frameMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("parse frame message: %w", err)
	}

	img, ok := p.decodeFrame(msg)
	if !ok {
		return nil
	}

	face := p.analyzer.Faces(img)
	gaze := p.analyzer.Gaze(img)
	mouth := p.analyzer.Mouth(img)
	objects := p.analyzer.Objects(img)

	assessment := p.scorer.ScoreFrame(risk.FrameSignals{
		FacePresent:     face.FacePresent,
		FaceCount:       face.FaceCount,
		GazeOffScreen:   gaze.GazeOffScreen,
		EyesClosed:      gaze.EyesClosed,
		MouthOpen:       mouth.MouthOpen,
		PhoneDetected:   objects.PhoneDetected,
		NotesDetected:   objects.NotesDetected,
		ExtraPerson:     objects.ExtraPerson,
		PhoneConfidence: objects.PhoneConfidence,
		NotesConfidence: objects.NotesConfidence,
	})
	metrics.RiskScore.WithLabelValues("frame").Observe(assessment.RiskScore)

	if len(assessment.Violations) == 0 {
		return nil
	}

	var snapshotPath *string
	if assessment.Severity == risk.SeverityHigh || assessment.Severity == risk.SeverityCritical {
		if key, err := p.uploadSnapshot(msg.SessionID, img); err != nil {
			metrics.SnapshotFailures.Inc()
			p.logger.Warn().Err(err).Str("session_id", msg.SessionID).Msg("Snapshot upload failed")
		} else {
			metrics.SnapshotsUploaded.Inc()
			snapshotPath = &key
		}
	}

	meta := map[string]any{
		"head_yaw":         gaze.HeadYaw,
		"head_pitch":       gaze.HeadPitch,
		"face_count":       face.FaceCount,
		"phone_confidence": objects.PhoneConfidence,
		"notes_confidence": objects.NotesConfidence,
		"lip_ratio":        mouth.LipRatio,
	}
	for _, v := range assessment.Violations {
		confidence := v.Confidence
		p.publisher.Publish(broker.Result{
			SessionID:    msg.SessionID,
			EventType:    v.EventType,
			Severity:     string(v.Severity),
			Confidence:   &confidence,
			Description:  v.Description,
			SnapshotPath: snapshotPath,
			RiskScore:    assessment.RiskScore,
			Metadata:     meta,
		})
	}
	return nil
}

// decodeFrame turns the base64 JPEG payload into an image; failures are
// logged and reported as a drop, never an error.
func (p *FramePipeline) decodeFrame(msg frameMessage) (image.Image, bool) {
	raw, err := base64.StdEncoding.DecodeString(msg.FrameData)
	if err != nil {
		p.logger.Warn().Err(err).Str("session_id", msg.SessionID).Msg("Cannot decode frame base64, dropping")
		return nil, false
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		p.logger.Warn().Err(err).Str("session_id", msg.SessionID).Msg("Cannot decode frame image, dropping")
		return nil, false
	}
	return img, true
}

// uploadSnapshot re-encodes the frame and stores it under the session's
// prefix with a random name.
func (p *FramePipeline) uploadSnapshot(sessionID string, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: snapshotJPEGQuality}); err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	id := uuid.New()
	key := fmt.Sprintf("%s/%s.jpg", sessionID, hex.EncodeToString(id[:]))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return p.uploader.Upload(ctx, p.bucket, key, buf.Bytes(), "image/jpeg")
}
