package tile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/monkut/servembtiles/internal/errors"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		ext         string
		wantExt     string
		contentType string
	}{
		{ext: ".png", wantExt: ".png", contentType: "image/png"},
		{ext: ".jpg", wantExt: ".jpg", contentType: "image/jpeg"},
		{ext: ".jpeg", wantExt: ".jpeg", contentType: "image/jpeg"},
		{ext: ".PNG", wantExt: ".png", contentType: "image/png"},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			format, err := ParseFormat(tt.ext)
			require.NoError(t, err)
			assert.Equal(t, tt.wantExt, format.Ext)
			assert.Equal(t, tt.contentType, format.ContentType)
		})
	}

	for _, ext := range []string{".gif", "png", "", ".webp"} {
		t.Run("unsupported "+ext, func(t *testing.T) {
			_, err := ParseFormat(ext)
			var target *apierrors.UnsupportedExtensionError
			require.ErrorAs(t, err, &target)
			assert.Equal(t, ext, target.Ext)
		})
	}
}

func TestParseScheme(t *testing.T) {
	s, err := ParseScheme("tms")
	require.NoError(t, err)
	assert.Equal(t, TMS, s)

	s, err = ParseScheme(" XYZ ")
	require.NoError(t, err)
	assert.Equal(t, XYZ, s)
	assert.Equal(t, "xyz", s.String())

	_, err = ParseScheme("google")
	assert.Error(t, err)
}
