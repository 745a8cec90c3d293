package pipeline

import (
	"context"
	"errors"
	"image"

	"github.com/luckygarg1810/exam-platform/internal/broker"
	"github.com/luckygarg1810/exam-platform/internal/ml"
	"github.com/luckygarg1810/exam-platform/internal/store"
)

// fakePublisher records outbound results.
type fakePublisher struct {
	published []broker.Result
}

func (f *fakePublisher) Publish(r broker.Result) {
	f.published = append(f.published, r)
}

// fakeUploader records snapshot uploads and can be made to fail.
type fakeUploader struct {
	uploads map[string][]byte
	err     error
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{uploads: map[string][]byte{}}
}

func (f *fakeUploader) Upload(_ context.Context, _, key string, data []byte, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploads[key] = data
	return key, nil
}

// fakeEventStore records behavior event rows.
type fakeEventStore struct {
	rows []store.BehaviorEvent
	err  error
}

func (f *fakeEventStore) InsertBehaviorEvent(_ context.Context, event *store.BehaviorEvent) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, *event)
	return nil
}

// stubMesh and stubDetector back the vision analyzer with fixed outputs.
type stubMesh struct {
	count     int
	countConf float64
	landmarks ml.FaceLandmarks
	found     bool
}

func (s *stubMesh) CountFaces(image.Image) (int, float64, error) {
	return s.count, s.countConf, nil
}

func (s *stubMesh) Landmarks(image.Image) (ml.FaceLandmarks, bool, error) {
	return s.landmarks, s.found, nil
}

type stubDetector struct {
	detections []ml.Detection
}

func (s *stubDetector) Detect(image.Image) ([]ml.Detection, error) {
	return s.detections, nil
}

var errUnavailable = errors.New("unavailable")
