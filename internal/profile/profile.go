// Package profile defines the request profiles understood by the
// acquisition client: the evalscript to run, the responses it produces and
// the data filter applied to the collection.
package profile

import (
	"embed"
	"errors"
	"fmt"
	"strings"
)

//go:embed evalscripts/*.js
var scripts embed.FS

var ErrUnsupportedMode = errors.New("unsupported mode")

type Mode string

const (
	RGB     Mode = "RGB"
	ALL     Mode = "ALL"
	INDICES Mode = "INDICES"
)

func ParseMode(s string) Mode {
	return Mode(strings.ToUpper(strings.TrimSpace(s)))
}

// Response is one named output of an evalscript.
type Response struct {
	Identifier string
	Format     string
	Bands      int
}

// Profile describes how one mode is requested.
type Profile struct {
	Mode       Mode
	Evalscript string
	Responses  []Response
	// Mosaicking goes to the processing options (ORBIT for per-orbit
	// composites). Empty keeps the provider default.
	Mosaicking       string
	MosaickingOrder  string
	MaxCloudCoverage int
	// BandNames label the decoded bands in response order.
	BandNames []string
}

// Bands is the total band count across responses.
func (p Profile) Bands() int {
	n := 0
	for _, r := range p.Responses {
		n += r.Bands
	}
	return n
}

// Multipart reports whether the provider answers with a TAR archive.
func (p Profile) Multipart() bool {
	return len(p.Responses) > 1
}

func (p Profile) clone() Profile {
	p.Responses = append([]Response(nil), p.Responses...)
	p.BandNames = append([]string(nil), p.BandNames...)
	return p
}

// Registry is an immutable set of profiles keyed by mode.
type Registry struct {
	profiles map[Mode]Profile
	modes    []Mode
}

func NewRegistry(profiles ...Profile) (*Registry, error) {
	r := &Registry{profiles: make(map[Mode]Profile, len(profiles))}
	for _, p := range profiles {
		if p.Mode == "" {
			return nil, errors.New("profile without mode")
		}
		if _, ok := r.profiles[p.Mode]; ok {
			return nil, fmt.Errorf("duplicate profile %s", p.Mode)
		}
		if len(p.Responses) == 0 {
			return nil, fmt.Errorf("profile %s has no responses", p.Mode)
		}
		r.profiles[p.Mode] = p.clone()
		r.modes = append(r.modes, p.Mode)
	}
	return r, nil
}

// Lookup returns a copy of the profile registered for mode.
func (r *Registry) Lookup(mode Mode) (Profile, error) {
	p, ok := r.profiles[mode]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q is not a valid mode, valid modes are %v", ErrUnsupportedMode, mode, r.modes)
	}
	return p.clone(), nil
}

func (r *Registry) Modes() []Mode {
	return append([]Mode(nil), r.modes...)
}

// Default returns the RGB, ALL and INDICES profiles.
func Default() *Registry {
	r, err := NewRegistry(
		Profile{
			Mode:             RGB,
			Evalscript:       mustScript("rgb.js"),
			Responses:        []Response{{Identifier: "default", Format: "image/jpeg", Bands: 3}},
			MosaickingOrder:  "leastCC",
			MaxCloudCoverage: 20,
			BandNames:        []string{"red", "green", "blue"},
		},
		Profile{
			Mode:       ALL,
			Evalscript: mustScript("all.js"),
			Responses: []Response{
				{Identifier: "bands", Format: "image/tiff", Bands: 9},
				{Identifier: "scl", Format: "image/tiff", Bands: 1},
			},
			MosaickingOrder:  "leastCC",
			MaxCloudCoverage: 20,
			BandNames:        []string{"B02", "B03", "B04", "B05", "B06", "B07", "B08", "B11", "B12", "SCL"},
		},
		Profile{
			Mode:       INDICES,
			Evalscript: mustScript("indices.js"),
			Responses: []Response{
				{Identifier: "indices", Format: "image/tiff", Bands: 9},
				{Identifier: "scl", Format: "image/tiff", Bands: 1},
			},
			Mosaicking: "ORBIT",
			BandNames:  []string{"savi", "evi", "ndre705", "ndre740", "ndre783", "ndvi", "ndwigao", "ndwimcf", "nbr", "scl"},
		},
	)
	if err != nil {
		panic(err)
	}
	return r
}

func mustScript(name string) string {
	b, err := scripts.ReadFile("evalscripts/" + name)
	if err != nil {
		panic(err)
	}
	return string(b)
}
