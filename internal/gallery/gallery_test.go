package gallery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biowallet/backend/internal/core"
)

func face(name string, seed float32) core.SavedFace {
	d := make([]float32, core.DescriptorLength)
	d[0] = seed
	return core.SavedFace{
		Label:      core.Profile{Name: name, LinkedIn: name + "-in"},
		Descriptor: d,
	}
}

func TestGallery_AddValidation(t *testing.T) {
	g := New()

	err := g.Add(core.SavedFace{Descriptor: make([]float32, core.DescriptorLength)})
	require.Error(t, err, "missing name is rejected")

	err = g.Add(core.SavedFace{
		Label:      core.Profile{Name: "Alice"},
		Descriptor: make([]float32, 10),
	})
	require.Error(t, err, "short descriptor is rejected")
	assert.Equal(t, 0, g.Len())
}

func TestGallery_ReRegistrationReplaces(t *testing.T) {
	g := New()
	require.NoError(t, g.Add(face("Alice", 1)))
	require.NoError(t, g.Add(face("Bob", 2)))
	require.NoError(t, g.Add(face("Alice", 3)))

	assert.Equal(t, 2, g.Len())
	for _, f := range g.Snapshot() {
		if f.Label.Name == "Alice" {
			assert.Equal(t, float32(3), f.Descriptor[0], "newest Alice descriptor wins")
		}
	}
}

func TestGallery_SnapshotIsCopy(t *testing.T) {
	g := New()
	require.NoError(t, g.Add(face("Alice", 1)))

	snap := g.Snapshot()
	snap[0].Label.Name = "Mallory"
	assert.Equal(t, "Alice", g.Snapshot()[0].Label.Name)
}

func TestMerge_LocalPrecedenceAndDedup(t *testing.T) {
	local := []core.SavedFace{face("Alice", 1), face("Bob", 2)}
	reference := []core.SavedFace{face("Alice", 9), face("Carol", 3)}

	merged := Merge(local, reference)
	require.Len(t, merged, 3)

	byName := map[string]core.SavedFace{}
	for _, f := range merged {
		byName[f.Label.Name] = f
	}
	assert.Equal(t, float32(1), byName["Alice"].Descriptor[0], "local entry wins on collision")
	assert.Contains(t, byName, "Carol")
}

func TestMerge_Idempotent(t *testing.T) {
	local := []core.SavedFace{face("Alice", 1)}
	reference := []core.SavedFace{face("Alice", 9), face("Carol", 3)}

	once := Merge(local, reference)
	twice := Merge(once, reference)
	assert.Equal(t, once, twice)
}

// fakeRedis implements RedisClient in memory.
type fakeRedis struct {
	data map[string][]byte
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: map[string][]byte{}} }

func (f *fakeRedis) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.data[key] = value
	return nil
}

func (f *fakeRedis) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := f.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func TestRedisStore_SaveLoadRoundTrip(t *testing.T) {
	store := NewRedisStore(newFakeRedis(), "test:")
	ctx := context.Background()

	faces := []core.SavedFace{face("Alice", 1), face("Bob", 2)}
	require.NoError(t, store.SaveFaces(ctx, faces))

	loaded, err := store.LoadFaces(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "Alice", loaded[0].Label.Name)
}

func TestRedisStore_MissingKeyIsEmptyGallery(t *testing.T) {
	store := NewRedisStore(newFakeRedis(), "test:")

	loaded, err := store.LoadFaces(context.Background())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRedisStore_ProfileBlobID(t *testing.T) {
	store := NewRedisStore(newFakeRedis(), "test:")
	ctx := context.Background()

	_, err := store.LoadProfileBlobID(ctx, "0xabc")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveProfileBlobID(ctx, "0xabc", "blob-1"))
	id, err := store.LoadProfileBlobID(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "blob-1", id)
}
