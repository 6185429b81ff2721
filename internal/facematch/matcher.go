// Package facematch wraps the external face detection capability and owns
// the matching policy: gallery clustering, nearest-neighbor lookup, and
// the largest-face heuristic. Detection and embedding themselves stay
// behind the Detector port.
package facematch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/biowallet/backend/internal/core"
)

// UnknownLabel marks a detection whose nearest match was at or beyond the
// distance threshold. Unknown faces never resolve to a profile.
const UnknownLabel = "unknown"

// DefaultThreshold is looser than the recognition library's 0.6 default,
// trading precision for recall on consumer webcams.
const DefaultThreshold = 0.7

// Errors surfaced to the user as actionable, non-fatal episode steps.
var (
	ErrNoFacesDetected = errors.New("no faces detected in frame")
	ErrEmptyGallery    = errors.New("no faces registered")
	ErrUnknownFace     = errors.New("largest face did not match a registered profile")
	ErrBadDescriptor   = errors.New("detector returned a malformed descriptor")
)

// Detection is the raw output of the external detector for one face.
type Detection struct {
	Box        core.Box
	Descriptor []float32
}

// Detector is the external computer-vision boundary: it finds faces in a
// captured frame and embeds each one. Implementations typically shell out
// to a recognition library or sidecar service.
type Detector interface {
	Detect(ctx context.Context, frame []byte) ([]Detection, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, frame []byte) ([]Detection, error)

func (f DetectorFunc) Detect(ctx context.Context, frame []byte) ([]Detection, error) {
	return f(ctx, frame)
}

// Service resolves detections against the gallery.
type Service struct {
	detector  Detector
	threshold float64
}

// NewService creates a match service. A zero threshold selects
// DefaultThreshold.
func NewService(detector Detector, threshold float64) *Service {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	return &Service{detector: detector, threshold: threshold}
}

// cluster groups every descriptor registered under one profile name.
type cluster struct {
	profile     core.Profile
	descriptors [][]float32
}

func buildClusters(gallery []core.SavedFace) []cluster {
	index := make(map[string]int, len(gallery))
	clusters := make([]cluster, 0, len(gallery))

	for _, face := range gallery {
		if i, ok := index[face.Label.Name]; ok {
			clusters[i].descriptors = append(clusters[i].descriptors, face.Descriptor)
			continue
		}
		index[face.Label.Name] = len(clusters)
		clusters = append(clusters, cluster{
			profile:     face.Label,
			descriptors: [][]float32{face.Descriptor},
		})
	}
	return clusters
}

// euclideanDistance over two descriptors of equal length.
func euclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// meanDistance averages the distance from probe to every descriptor in a
// cluster, the recognition library's convention for multi-descriptor
// identities.
func meanDistance(probe []float32, descriptors [][]float32) float64 {
	var sum float64
	for _, d := range descriptors {
		sum += euclideanDistance(probe, d)
	}
	return sum / float64(len(descriptors))
}

// findBestMatch returns the nearest cluster and its distance. Distances at
// or beyond the threshold come back with the unknown label and no profile.
func (s *Service) findBestMatch(probe []float32, clusters []cluster) (string, float64, *core.Profile) {
	best := -1
	bestDist := math.Inf(1)
	for i := range clusters {
		if d := meanDistance(probe, clusters[i].descriptors); d < bestDist {
			best, bestDist = i, d
		}
	}

	if best < 0 || bestDist >= s.threshold {
		return UnknownLabel, bestDist, nil
	}
	profile := clusters[best].profile
	return profile.Name, bestDist, &profile
}

// DetectFaces runs detection on a captured frame and matches every found
// face against the gallery. Zero gallery entries and zero detections are
// distinct reportable errors.
func (s *Service) DetectFaces(ctx context.Context, frame []byte, gallery []core.SavedFace) ([]core.DetectedFace, error) {
	if len(gallery) == 0 {
		return nil, ErrEmptyGallery
	}

	detections, err := s.detector.Detect(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("face detection: %w", err)
	}
	if len(detections) == 0 {
		return nil, ErrNoFacesDetected
	}
	for _, det := range detections {
		if len(det.Descriptor) != core.DescriptorLength {
			return nil, fmt.Errorf("%w: %d values, want %d",
				ErrBadDescriptor, len(det.Descriptor), core.DescriptorLength)
		}
	}

	clusters := buildClusters(gallery)
	slog.Debug("[FaceMatch] Matching detections",
		"detections", len(detections), "clusters", len(clusters))

	results := make([]core.DetectedFace, 0, len(detections))
	for _, det := range detections {
		label, dist, profile := s.findBestMatch(det.Descriptor, clusters)
		results = append(results, core.DetectedFace{
			Box:        det.Box,
			Descriptor: det.Descriptor,
			MatchLabel: label,
			Distance:   dist,
			Profile:    profile,
		})
	}
	return results, nil
}

// PickLargest selects the candidate with the greatest bounding-box area;
// the first element wins exact ties. Returns nil for an empty slice.
func PickLargest(candidates []core.DetectedFace) *core.DetectedFace {
	if len(candidates) == 0 {
		return nil
	}

	largest := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Box.Area() > largest.Box.Area() {
			largest = &candidates[i]
		}
	}
	return largest
}
