package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	_ "image/jpeg" // reference photos and selfies are JPEG first
	_ "image/png"  // with a PNG fallback
	"math"
	"net/http"
	"strings"

	"github.com/luckygarg1810/exam-platform/internal/blob"
	"github.com/luckygarg1810/exam-platform/internal/ml"
)

// verifyIdentityRequest carries the live selfie of a student about to start
// an exam session.
type verifyIdentityRequest struct {
	LiveSelfieBase64 string `json:"liveSelfieBase64"`
	StudentID        string `json:"studentId"`
}

type verifyIdentityResponse struct {
	Match      bool    `json:"match"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
}

// handleVerifyIdentity compares a live selfie against the student's stored
// reference photo by face-embedding distance.
func (s *Server) handleVerifyIdentity(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "Too many verification requests")
		return
	}

	var req verifyIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.LiveSelfieBase64 == "" || req.StudentID == "" {
		writeError(w, http.StatusBadRequest, "liveSelfieBase64 and studentId are required")
		return
	}

	encoder, ok := s.registry.FaceEncoder.Get()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "face-recognition model not available")
		return
	}

	liveEncoding, ok, err := s.encodeSelfie(encoder, req.LiveSelfieBase64)
	if err != nil {
		s.logger.Warn().Err(err).Msg("verify-identity: live selfie decode failed")
		writeError(w, http.StatusBadRequest, "Cannot decode live selfie image")
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, verifyIdentityResponse{
			Match: false, Confidence: 0, Message: "No face detected in submitted photo",
		})
		return
	}

	refBytes, err := s.referencePhoto(r, req.StudentID)
	if err != nil {
		s.logger.Warn().Err(err).Str("student_id", req.StudentID).
			Msg("verify-identity: reference photo fetch failed")
		writeError(w, http.StatusNotFound, "Reference photo not found for student")
		return
	}

	refImg, _, err := image.Decode(bytes.NewReader(refBytes))
	if err != nil {
		s.logger.Warn().Err(err).Str("student_id", req.StudentID).
			Msg("verify-identity: reference photo decode failed")
		writeError(w, http.StatusInternalServerError, "Cannot process reference photo")
		return
	}
	refEncodings, err := encoder.Encodings(refImg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Cannot process reference photo")
		return
	}
	if len(refEncodings) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "No face found in reference photo")
		return
	}

	distance := faceDistance(refEncodings[0], liveEncoding)
	confidence := round3(math.Max(0, math.Min(1, 1-distance)))
	match := distance <= s.cfg.FaceMatchThreshold

	message := "Identity verification failed"
	if match {
		message = "Identity verified"
	}
	s.logger.Info().
		Str("student_id", req.StudentID).
		Bool("match", match).
		Float64("distance", round3(distance)).
		Msg("Identity verification completed")

	writeJSON(w, http.StatusOK, verifyIdentityResponse{
		Match: match, Confidence: confidence, Message: message,
	})
}

// encodeSelfie decodes the base64 image and extracts the first face
// embedding; ok is false when no face is found.
func (s *Server) encodeSelfie(encoder ml.FaceEncoder, selfieBase64 string) ([]float64, bool, error) {
	raw, err := base64.StdEncoding.DecodeString(selfieBase64)
	if err != nil {
		return nil, false, err
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, false, err
	}
	encodings, err := encoder.Encodings(img)
	if err != nil {
		return nil, false, err
	}
	if len(encodings) == 0 {
		return nil, false, nil
	}
	return encodings[0], true, nil
}

// referencePhoto locates the stored reference image: the path on the user
// row first, then the conventional {studentId}.jpg and .png keys.
func (s *Server) referencePhoto(r *http.Request, studentID string) ([]byte, error) {
	var keys []string
	if s.db != nil {
		if user, err := s.db.GetUser(r.Context(), studentID); err == nil {
			if key := profileKey(user.IDPhotoPath, s.cfg.ProfilesBucket); key != "" {
				keys = append(keys, key)
			}
			if key := profileKey(user.ProfilePhotoPath, s.cfg.ProfilesBucket); key != "" {
				keys = append(keys, key)
			}
		}
	}
	keys = append(keys, studentID+".jpg", studentID+".png")

	var lastErr error
	for _, key := range keys {
		data, err := s.blobs.Download(r.Context(), s.cfg.ProfilesBucket, key)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, blob.ErrNotFound) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// profileKey normalizes a stored photo path to an object key inside the
// profiles bucket.
func profileKey(path, bucket string) string {
	if path == "" {
		return ""
	}
	return strings.TrimPrefix(path, bucket+"/")
}

// faceDistance is the Euclidean distance between two embeddings; shorter
// embeddings are zero-padded implicitly by iterating the longer one.
func faceDistance(a, b []float64) float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		var av, bv float64
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		d := av - bv
		sum += d * d
	}
	return math.Sqrt(sum)
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
