package sentinel

import (
	"fmt"
	"strings"
	"time"

	"github.com/forest-guardian/forest-health-mosaic/internal/geometry"
	"github.com/forest-guardian/forest-health-mosaic/internal/profile"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const (
	// MaxDimension is the provider's per-request pixel limit on each axis.
	MaxDimension      = 2500
	DefaultCollection = "sentinel-2-l2a"

	crsURIPrefix = "http://www.opengis.net/def/crs/EPSG/0/"
	crs84URI     = "http://www.opengis.net/def/crs/OGC/1.3/CRS84"
)

// Request is the Process API payload. Profile is kept alongside so the
// response can be decoded in the declared band order.
type Request struct {
	Input      Input           `json:"input"`
	Output     Output          `json:"output"`
	Evalscript string          `json:"evalscript"`
	Profile    profile.Profile `json:"-"`
}

type Input struct {
	Bounds Bounds       `json:"bounds"`
	Data   []DataSource `json:"data"`
}

type Bounds struct {
	BBox       []float64         `json:"bbox,omitempty"`
	Geometry   *geojson.Geometry `json:"geometry,omitempty"`
	Properties BoundsProperties  `json:"properties"`
}

type BoundsProperties struct {
	CRS string `json:"crs,omitempty"`
}

type DataSource struct {
	Type       string     `json:"type"`
	DataFilter DataFilter `json:"dataFilter"`
	Processing Processing `json:"processing"`
}

type DataFilter struct {
	TimeRange        TimeRange `json:"timeRange"`
	MosaickingOrder  string    `json:"mosaickingOrder,omitempty"`
	MaxCloudCoverage *int      `json:"maxCloudCoverage,omitempty"`
}

type TimeRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type Processing struct {
	Mosaicking string `json:"mosaicking,omitempty"`
}

type Output struct {
	Width     int              `json:"width"`
	Height    int              `json:"height"`
	Responses []OutputResponse `json:"responses"`
}

type OutputResponse struct {
	Identifier string `json:"identifier"`
	Format     Format `json:"format"`
}

type Format struct {
	Type string `json:"type"`
}

// RequestParams describe one tile request. Exactly one of BBox and
// Geometry must be set; both are expressed in CRS.
type RequestParams struct {
	Mode     profile.Mode
	Start    time.Time
	End      time.Time
	BBox     *orb.Bound
	Geometry orb.Geometry
	CRS      geometry.CRS
	Width    int
	Height   int
}

// RequestBuilder turns RequestParams into provider payloads.
type RequestBuilder struct {
	registry   *profile.Registry
	collection string
}

func NewRequestBuilder(registry *profile.Registry, collection string) *RequestBuilder {
	if registry == nil {
		registry = profile.Default()
	}
	if collection == "" {
		collection = DefaultCollection
	}
	return &RequestBuilder{registry: registry, collection: collection}
}

func (b *RequestBuilder) BuildRequest(p RequestParams) (*Request, error) {
	if p.Width > MaxDimension || p.Height > MaxDimension {
		return nil, fmt.Errorf("%w: %dx%d exceeds the %d pixel limit", ErrValidation, p.Width, p.Height, MaxDimension)
	}
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("%w: output size %dx%d must be positive", ErrValidation, p.Width, p.Height)
	}
	if p.BBox == nil && p.Geometry == nil {
		return nil, fmt.Errorf("%w: either bbox or geometry must be provided", ErrValidation)
	}
	if p.BBox != nil && p.Geometry != nil {
		return nil, fmt.Errorf("%w: bbox and geometry are mutually exclusive", ErrValidation)
	}
	if p.End.Before(p.Start) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrValidation, p.End.Format(time.DateOnly), p.Start.Format(time.DateOnly))
	}
	prof, err := b.registry.Lookup(p.Mode)
	if err != nil {
		return nil, err
	}
	crsURI, err := crsURI(p.CRS)
	if err != nil {
		return nil, err
	}

	filter := DataFilter{
		TimeRange: TimeRange{
			From: p.Start.Format(time.DateOnly) + "T00:00:00Z",
			To:   p.End.Format(time.DateOnly) + "T23:59:59Z",
		},
		MosaickingOrder: prof.MosaickingOrder,
	}
	if prof.MaxCloudCoverage > 0 {
		cc := prof.MaxCloudCoverage
		filter.MaxCloudCoverage = &cc
	}

	req := &Request{
		Input: Input{
			Bounds: Bounds{Properties: BoundsProperties{CRS: crsURI}},
			Data: []DataSource{{
				Type:       strings.ToUpper(b.collection),
				DataFilter: filter,
				Processing: Processing{Mosaicking: prof.Mosaicking},
			}},
		},
		Output: Output{
			Width:  p.Width,
			Height: p.Height,
		},
		Evalscript: prof.Evalscript,
		Profile:    prof,
	}
	for _, r := range prof.Responses {
		req.Output.Responses = append(req.Output.Responses, OutputResponse{Identifier: r.Identifier, Format: Format{Type: r.Format}})
	}
	if p.BBox != nil {
		req.Input.Bounds.BBox = []float64{p.BBox.Min[0], p.BBox.Min[1], p.BBox.Max[0], p.BBox.Max[1]}
	} else {
		req.Input.Bounds.Geometry = geojson.NewGeometry(p.Geometry)
	}
	return req, nil
}

// crsURI maps a CRS to the identifier the provider expects. Geographic
// input always goes out as CRS84 so coordinates stay in lon/lat order.
func crsURI(c geometry.CRS) (string, error) {
	if c == "" || c.Geographic() {
		return crs84URI, nil
	}
	code, err := c.EPSG()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return fmt.Sprintf("%s%d", crsURIPrefix, code), nil
}
