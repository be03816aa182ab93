package vision

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/wrenware/roverd/internal/errors"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultProfile().Validate())

	err := Profile{}.Validate()
	assert.True(t, errors.HasCode(err, errors.ErrInvalidProfile))

	dup := Profile{
		{Name: "red", Material: "a", Ranges: []Range{{Hi: HSV{10, 255, 255}}}},
		{Name: "red", Material: "b", Ranges: []Range{{Hi: HSV{10, 255, 255}}}},
	}
	assert.True(t, errors.HasCode(dup.Validate(), errors.ErrInvalidProfile))

	badHue := Profile{
		{Name: "x", Material: "a", Ranges: []Range{{Lo: HSV{0, 0, 0}, Hi: HSV{200, 255, 255}}}},
	}
	assert.True(t, errors.HasCode(badHue.Validate(), errors.ErrInvalidProfile))

	inverted := Profile{
		{Name: "x", Material: "a", Ranges: []Range{{Lo: HSV{50, 0, 0}, Hi: HSV{10, 255, 255}}}},
	}
	assert.True(t, errors.HasCode(inverted.Validate(), errors.ErrInvalidProfile))
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colors.toml")
	content := `
[[colors]]
name = "red"
material = "palladium"
display = "#ff0000"
ranges = [[0, 120, 70, 10, 255, 255], [170, 120, 70, 179, 255, 255]]

[[colors]]
name = "green"
material = "copper"
ranges = [[40, 40, 40, 80, 255, 255]]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	profile, err := LoadProfile(path)
	require.NoError(t, err)
	require.Len(t, profile, 2)
	assert.Equal(t, "palladium", profile[0].Material)
	assert.Len(t, profile[0].Ranges, 2)
	assert.Equal(t, HSV{170, 120, 70}, profile[0].Ranges[1].Lo)
	assert.Equal(t, "copper", profile[1].Material)
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestLoadProfileShortRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colors.toml")
	content := `
[[colors]]
name = "red"
material = "palladium"
ranges = [[0, 120, 70]]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadProfile(path)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidProfile))
}
