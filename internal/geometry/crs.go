package geometry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrGeometry = errors.New("geometry error")

// CRS is a coordinate reference system identifier in "EPSG:<code>" form,
// or CRS84 for the OGC longitude/latitude variant of WGS84.
type CRS string

const (
	WGS84       CRS = "EPSG:4326"
	CRS84       CRS = "CRS84"
	WebMercator CRS = "EPSG:3857"
)

// ParseCRS normalises the common spellings of a CRS identifier.
func ParseCRS(s string) (CRS, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	switch v {
	case "CRS84", "OGC:CRS84", "URN:OGC:DEF:CRS:OGC:1.3:CRS84", "HTTP://WWW.OPENGIS.NET/DEF/CRS/OGC/1.3/CRS84":
		return CRS84, nil
	}
	v = strings.TrimPrefix(v, "URN:OGC:DEF:CRS:")
	v = strings.Replace(v, "EPSG::", "EPSG:", 1)
	if strings.HasPrefix(v, "HTTP://WWW.OPENGIS.NET/DEF/CRS/EPSG/0/") {
		v = "EPSG:" + strings.TrimPrefix(v, "HTTP://WWW.OPENGIS.NET/DEF/CRS/EPSG/0/")
	}
	code, ok := strings.CutPrefix(v, "EPSG:")
	if !ok {
		return "", fmt.Errorf("%w: unsupported crs %q", ErrGeometry, s)
	}
	n, err := strconv.Atoi(code)
	if err != nil || n <= 0 {
		return "", fmt.Errorf("%w: invalid epsg code in %q", ErrGeometry, s)
	}
	return CRS("EPSG:" + strconv.Itoa(n)), nil
}

// EPSG returns the numeric code. CRS84 reports 4326.
func (c CRS) EPSG() (int, error) {
	if c == CRS84 {
		return 4326, nil
	}
	code, ok := strings.CutPrefix(string(c), "EPSG:")
	if !ok {
		return 0, fmt.Errorf("%w: unsupported crs %q", ErrGeometry, string(c))
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid epsg code in %q", ErrGeometry, string(c))
	}
	return n, nil
}

// Geographic reports whether coordinates are longitude/latitude degrees.
func (c CRS) Geographic() bool {
	return c == WGS84 || c == CRS84
}
