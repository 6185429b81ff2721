package facematch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biowallet/backend/internal/core"
)

// descriptor builds a padded test descriptor whose first component
// carries the value; Euclidean distance then equals the difference.
func descriptor(v float32) []float32 {
	d := make([]float32, core.DescriptorLength)
	d[0] = v
	return d
}

func savedFace(name string, v float32) core.SavedFace {
	return core.SavedFace{
		Label:      core.Profile{Name: name, Telegram: name + "_tg"},
		Descriptor: descriptor(v),
	}
}

func fixedDetector(detections ...Detection) Detector {
	return DetectorFunc(func(context.Context, []byte) ([]Detection, error) {
		return detections, nil
	})
}

func TestDetectFaces_MatchWithinThreshold(t *testing.T) {
	det := fixedDetector(Detection{Descriptor: descriptor(0.1)})
	svc := NewService(det, 0.7)
	gallery := []core.SavedFace{savedFace("Alice", 0.0), savedFace("Bob", 5.0)}

	faces, err := svc.DetectFaces(context.Background(), []byte("frame"), gallery)
	require.NoError(t, err)
	require.Len(t, faces, 1)
	assert.Equal(t, "Alice", faces[0].MatchLabel)
	require.NotNil(t, faces[0].Profile)
	assert.Equal(t, "Alice_tg", faces[0].Profile.Telegram)
	assert.InDelta(t, 0.1, faces[0].Distance, 1e-6)
}

func TestDetectFaces_DistanceAtThresholdIsUnknown(t *testing.T) {
	// 0.5 is exactly representable in float32, so the computed distance
	// lands precisely on the threshold.
	det := fixedDetector(Detection{Descriptor: descriptor(0.5)})
	svc := NewService(det, 0.5)
	gallery := []core.SavedFace{savedFace("Alice", 0.0)}

	faces, err := svc.DetectFaces(context.Background(), []byte("frame"), gallery)
	require.NoError(t, err)
	require.Len(t, faces, 1)
	assert.Equal(t, UnknownLabel, faces[0].MatchLabel)
	assert.Nil(t, faces[0].Profile, "unknown faces resolve no profile")
}

func TestDetectFaces_MultipleDescriptorsPerIdentity(t *testing.T) {
	det := fixedDetector(Detection{Descriptor: descriptor(0.2)})
	svc := NewService(det, 0.7)
	// Two registrations for Alice form one cluster.
	gallery := []core.SavedFace{
		savedFace("Alice", 0.0),
		savedFace("Alice", 0.4),
		savedFace("Bob", 3.0),
	}

	faces, err := svc.DetectFaces(context.Background(), []byte("frame"), gallery)
	require.NoError(t, err)
	assert.Equal(t, "Alice", faces[0].MatchLabel)
}

func TestDetectFaces_MalformedDescriptorIsNonFatal(t *testing.T) {
	// A sidecar bug must surface as an error, never a panic.
	oversized := make([]float32, core.DescriptorLength+1)
	det := fixedDetector(Detection{Descriptor: oversized})
	svc := NewService(det, 0.7)
	gallery := []core.SavedFace{savedFace("Alice", 0.0)}

	require.NotPanics(t, func() {
		_, err := svc.DetectFaces(context.Background(), []byte("frame"), gallery)
		require.ErrorIs(t, err, ErrBadDescriptor)
	})
}

func TestDetectFaces_EmptyGallery(t *testing.T) {
	det := fixedDetector(Detection{Descriptor: descriptor(0.1)})
	svc := NewService(det, 0.7)

	_, err := svc.DetectFaces(context.Background(), []byte("frame"), nil)
	require.ErrorIs(t, err, ErrEmptyGallery)
}

func TestDetectFaces_NoFaces(t *testing.T) {
	det := fixedDetector()
	svc := NewService(det, 0.7)

	_, err := svc.DetectFaces(context.Background(), []byte("frame"),
		[]core.SavedFace{savedFace("Alice", 0.0)})
	require.ErrorIs(t, err, ErrNoFacesDetected)
}

func TestPickLargest_Empty(t *testing.T) {
	assert.Nil(t, PickLargest(nil))
	assert.Nil(t, PickLargest([]core.DetectedFace{}))
}

func TestPickLargest_Single(t *testing.T) {
	faces := []core.DetectedFace{{Box: core.Box{Width: 10, Height: 10}}}
	got := PickLargest(faces)
	require.NotNil(t, got)
	assert.Equal(t, 100.0, got.Box.Area())
}

func TestPickLargest_FirstMaxWinsTies(t *testing.T) {
	faces := []core.DetectedFace{
		{MatchLabel: "small", Box: core.Box{Width: 2, Height: 2}},
		{MatchLabel: "first", Box: core.Box{Width: 10, Height: 10}},
		{MatchLabel: "second", Box: core.Box{Width: 5, Height: 20}},
	}
	got := PickLargest(faces)
	require.NotNil(t, got)
	assert.Equal(t, "first", got.MatchLabel, "equal areas keep the earlier face")
}
