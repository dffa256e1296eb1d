package mbtiles_test

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/monkut/servembtiles/internal/errors"
	"github.com/monkut/servembtiles/internal/mbtiles"
	"github.com/monkut/servembtiles/internal/mbtiles/mbtilestest"
)

type staticMetadata map[string]string

func (m staticMetadata) MetadataValue(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

type failingMetadata struct{ err error }

func (f failingMetadata) MetadataValue(context.Context, string) (string, bool, error) {
	return "", false, f.err
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		raw       string
		want      mbtiles.Version
		supported bool
	}{
		{raw: "1.0.0", want: mbtiles.Version{Major: 1, Minor: 0, Patch: 0}, supported: true},
		{raw: "1.1.0", want: mbtiles.Version{Major: 1, Minor: 1, Patch: 0}, supported: true},
		{raw: "1.2.9", want: mbtiles.Version{Major: 1, Minor: 2, Patch: 9}, supported: true},
		{raw: " 1 . 2 . 0 ", want: mbtiles.Version{Major: 1, Minor: 2, Patch: 0}, supported: true},
		{raw: "1.3.0", want: mbtiles.Version{Major: 1, Minor: 3, Patch: 0}, supported: false},
		{raw: "2.0.0", want: mbtiles.Version{Major: 2, Minor: 0, Patch: 0}, supported: false},
		{raw: "0.9.0", want: mbtiles.Version{Major: 0, Minor: 9, Patch: 0}, supported: false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			v, err := mbtiles.ParseVersion(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
			assert.Equal(t, tt.supported, v.Supported())
		})
	}

	for _, raw := range []string{"", "1.1", "1.1.0.0", "1.x.0", "one.two.three", "1.-1.0"} {
		t.Run("malformed "+raw, func(t *testing.T) {
			_, err := mbtiles.ParseVersion(raw)
			var target *apierrors.UnsupportedVersionError
			require.ErrorAs(t, err, &target)
			assert.Equal(t, raw, target.Version)
		})
	}
}

func TestLoadCapabilities_SupportedVersions(t *testing.T) {
	for minor := 0; minor <= 2; minor++ {
		for _, patch := range []int{0, 3} {
			raw := fmt.Sprintf("1.%d.%d", minor, patch)
			t.Run(raw, func(t *testing.T) {
				caps, err := mbtiles.LoadCapabilities(context.Background(), staticMetadata{"version": raw}, "test")
				require.NoError(t, err)
				assert.Equal(t, raw, caps.Version.String())
			})
		}
	}
}

func TestLoadCapabilities_UnsupportedVersions(t *testing.T) {
	for _, raw := range []string{"1.3.0", "2.0.0", "0.1.0", "3.0", "banana"} {
		t.Run(raw, func(t *testing.T) {
			_, err := mbtiles.LoadCapabilities(context.Background(), staticMetadata{"version": raw}, "test")
			var target *apierrors.UnsupportedVersionError
			require.ErrorAs(t, err, &target)
			assert.Equal(t, raw, target.Version)
		})
	}
}

func TestLoadCapabilities_MissingVersion(t *testing.T) {
	_, err := mbtiles.LoadCapabilities(context.Background(), staticMetadata{"name": "x"}, "/data/world.mbtiles")

	var target *apierrors.MissingVersionError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, "/data/world.mbtiles", target.Path)
}

func TestLoadCapabilities_ZoomBounds(t *testing.T) {
	t.Run("both absent", func(t *testing.T) {
		caps, err := mbtiles.LoadCapabilities(context.Background(), staticMetadata{"version": "1.1.0"}, "test")
		require.NoError(t, err)
		assert.False(t, caps.MinZoom.Valid)
		assert.False(t, caps.MaxZoom.Valid)
		assert.False(t, caps.Constrained())
		for _, z := range []uint64{0, 1, 18, 31, 32, 40, math.MaxUint64} {
			assert.True(t, caps.ZoomInRange(z))
		}
	})

	t.Run("only one present", func(t *testing.T) {
		caps, err := mbtiles.LoadCapabilities(context.Background(), staticMetadata{"version": "1.1.0", "maxzoom": "4"}, "test")
		require.NoError(t, err)
		assert.True(t, caps.MaxZoom.Valid)
		assert.False(t, caps.MinZoom.Valid)
		assert.True(t, caps.ZoomInRange(12))
	})

	t.Run("inclusive range", func(t *testing.T) {
		caps, err := mbtiles.LoadCapabilities(context.Background(), staticMetadata{"version": "1.1.0", "minzoom": "2", "maxzoom": "10"}, "test")
		require.NoError(t, err)
		assert.Equal(t, mbtiles.ZoomBound{Level: 2, Valid: true}, caps.MinZoom)
		assert.Equal(t, mbtiles.ZoomBound{Level: 10, Valid: true}, caps.MaxZoom)

		assert.False(t, caps.ZoomInRange(1))
		assert.True(t, caps.ZoomInRange(2))
		assert.True(t, caps.ZoomInRange(10))
		assert.False(t, caps.ZoomInRange(11))
		assert.False(t, caps.ZoomInRange(40))
		assert.False(t, caps.ZoomInRange(math.MaxUint64))
	})

	t.Run("zero minzoom is a real bound", func(t *testing.T) {
		caps, err := mbtiles.LoadCapabilities(context.Background(), staticMetadata{"version": "1.1.0", "minzoom": "0", "maxzoom": "3"}, "test")
		require.NoError(t, err)
		assert.True(t, caps.Constrained())
		assert.True(t, caps.ZoomInRange(0))
		assert.False(t, caps.ZoomInRange(4))
	})

	t.Run("negative maxzoom admits nothing", func(t *testing.T) {
		caps, err := mbtiles.LoadCapabilities(context.Background(), staticMetadata{"version": "1.1.0", "minzoom": "-3", "maxzoom": "-1"}, "test")
		require.NoError(t, err)
		assert.False(t, caps.ZoomInRange(0))
	})

	t.Run("non-integer bound", func(t *testing.T) {
		_, err := mbtiles.LoadCapabilities(context.Background(), staticMetadata{"version": "1.1.0", "minzoom": "two"}, "test")
		var target *apierrors.InvalidMetadataError
		require.ErrorAs(t, err, &target)
		assert.Equal(t, "minzoom", target.Key)
		assert.Equal(t, "two", target.Value)
	})
}

func TestLoadCapabilities_StorageFailure(t *testing.T) {
	cause := apierrors.ErrStorageUnavailable.New("disk I/O error")

	_, err := mbtiles.LoadCapabilities(context.Background(), failingMetadata{err: cause}, "test")

	require.Error(t, err)
	assert.True(t, apierrors.ErrStorageUnavailable.Has(err))
}

func TestLoadCapabilities_FromArchive(t *testing.T) {
	path := mbtilestest.Standard(t, nil, [2]string{"minzoom", "2"}, [2]string{"maxzoom", "10"})
	archive := openArchive(t, path)

	caps, err := mbtiles.LoadCapabilities(context.Background(), archive, archive.Path())
	require.NoError(t, err)
	assert.Equal(t, mbtiles.Version{Major: 1, Minor: 1}, caps.Version)
	assert.Equal(t, "2", caps.MinZoom.String())
	assert.Equal(t, "10", caps.MaxZoom.String())
}
