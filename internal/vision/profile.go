package vision

import (
	"codeberg.org/wrenware/roverd/internal/errors"
	"github.com/spf13/viper"
)

const maxHue = 179

// HSV is a pixel in OpenCV scaling: H in [0,179], S and V in [0,255].
// The reduced hue scale keeps profiles interchangeable with the tooling
// the color ranges were calibrated with.
type HSV struct {
	H, S, V uint8
}

// Range is an inclusive HSV box.
type Range struct {
	Lo, Hi HSV
}

func (r Range) contains(c HSV) bool {
	return c.H >= r.Lo.H && c.H <= r.Hi.H &&
		c.S >= r.Lo.S && c.S <= r.Hi.S &&
		c.V >= r.Lo.V && c.V <= r.Hi.V
}

// Entry maps one named color to a material. A color may need several
// disjoint ranges, e.g. red wrapping around the hue circle.
type Entry struct {
	Name     string
	Material string
	Display  string
	Ranges   []Range
}

func (e Entry) matches(c HSV) bool {
	for _, r := range e.Ranges {
		if r.contains(c) {
			return true
		}
	}

	return false
}

// Profile is an ordered set of color entries. Order matters: on equal
// confidence the earlier entry wins, which keeps classification
// deterministic.
type Profile []Entry

// Validate checks the profile is non-empty and internally consistent.
func (p Profile) Validate() error {
	errFactory := errors.New()

	if len(p) == 0 {
		return errFactory.WithMessage(errors.ErrInvalidProfile, "profile has no entries")
	}

	seen := make(map[string]bool, len(p))
	for _, e := range p {
		if e.Name == "" || e.Material == "" {
			return errFactory.WithMessage(errors.ErrInvalidProfile, "entry missing name or material")
		}
		if seen[e.Name] {
			return errFactory.WithData(errors.ErrInvalidProfile, e.Name)
		}
		seen[e.Name] = true

		if len(e.Ranges) == 0 {
			return errFactory.WithData(errors.ErrInvalidProfile, e.Name)
		}
		for _, r := range e.Ranges {
			if r.Lo.H > maxHue || r.Hi.H > maxHue {
				return errFactory.WithData(errors.ErrInvalidProfile, e.Name)
			}
			if r.Lo.H > r.Hi.H || r.Lo.S > r.Hi.S || r.Lo.V > r.Hi.V {
				return errFactory.WithData(errors.ErrInvalidProfile, e.Name)
			}
		}
	}

	return nil
}

// DefaultProfile returns the built-in mining materials. Red wraps the hue
// circle, so it carries two ranges.
func DefaultProfile() Profile {
	return Profile{
		{
			Name:     "red",
			Material: "palladium",
			Display:  "#ff0000",
			Ranges: []Range{
				{Lo: HSV{0, 120, 70}, Hi: HSV{10, 255, 255}},
				{Lo: HSV{170, 120, 70}, Hi: HSV{179, 255, 255}},
			},
		},
		{
			Name:     "brown",
			Material: "dirt",
			Display:  "#a52a2a",
			Ranges: []Range{
				{Lo: HSV{10, 50, 20}, Hi: HSV{20, 255, 200}},
			},
		},
		{
			Name:     "green",
			Material: "copper",
			Display:  "#00ff00",
			Ranges: []Range{
				{Lo: HSV{40, 40, 40}, Hi: HSV{80, 255, 255}},
			},
		},
	}
}

type profileFile struct {
	Colors []struct {
		Name     string  `mapstructure:"name"`
		Material string  `mapstructure:"material"`
		Display  string  `mapstructure:"display"`
		Ranges   [][]int `mapstructure:"ranges"`
	} `mapstructure:"colors"`
}

// LoadProfile reads a profile from a TOML file. Each range is six values:
// lo H,S,V then hi H,S,V. The profile is loaded once and immutable after.
func LoadProfile(path string) (Profile, error) {
	errFactory := errors.New()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	var raw profileFile
	if err := v.Unmarshal(&raw); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidProfile, err)
	}

	profile := make(Profile, 0, len(raw.Colors))
	for _, c := range raw.Colors {
		entry := Entry{Name: c.Name, Material: c.Material, Display: c.Display}
		for _, bounds := range c.Ranges {
			if len(bounds) != 6 {
				return nil, errFactory.WithData(errors.ErrInvalidProfile, c.Name)
			}
			for _, b := range bounds {
				if b < 0 || b > 255 {
					return nil, errFactory.WithData(errors.ErrInvalidProfile, c.Name)
				}
			}
			entry.Ranges = append(entry.Ranges, Range{
				Lo: HSV{uint8(bounds[0]), uint8(bounds[1]), uint8(bounds[2])},
				Hi: HSV{uint8(bounds[3]), uint8(bounds[4]), uint8(bounds[5])},
			})
		}
		profile = append(profile, entry)
	}

	if err := profile.Validate(); err != nil {
		return nil, err
	}

	return profile, nil
}
