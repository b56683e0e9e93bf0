package raster

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/forest-guardian/forest-health-mosaic/internal/profile"
)

var ErrDecode = errors.New("cannot decode tile")

// GDALDecoder decodes provider bodies (GeoTIFF, JPEG, or a TAR of those)
// through GDAL. GDAL needs a file, so bodies are spilled into TempDir.
type GDALDecoder struct {
	TempDir string
}

// Decode returns the tile as a cube with bands in the profile's response
// order. Multipart profiles are read as TAR archives.
func (d GDALDecoder) Decode(body []byte, contentType string, p profile.Profile) (*Cube, error) {
	if p.Multipart() || isTar(contentType, body) {
		parts, err := untar(body)
		if err != nil {
			return nil, err
		}
		cubes := make([]*Cube, 0, len(p.Responses))
		for _, r := range p.Responses {
			part, ok := parts[r.Identifier]
			if !ok {
				return nil, fmt.Errorf("%w: response %q missing from archive", ErrDecode, r.Identifier)
			}
			c, err := d.decodeFile(part, extension(r.Format))
			if err != nil {
				return nil, fmt.Errorf("response %q: %w", r.Identifier, err)
			}
			cubes = append(cubes, c)
		}
		return ConcatBands(cubes...)
	}
	format := contentType
	if len(p.Responses) == 1 && format == "" {
		format = p.Responses[0].Format
	}
	return d.decodeFile(body, extension(format))
}

func (d GDALDecoder) decodeFile(body []byte, ext string) (*Cube, error) {
	f, err := os.CreateTemp(d.TempDir, "tile-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	name := f.Name()
	defer os.Remove(name)
	if _, err := f.Write(body); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	ds, err := godal.Open(name, godal.ErrLogger(func(ec godal.ErrorCategory, code int, msg string) error {
		if ec <= godal.CE_Warning {
			return nil
		}
		return errors.New(msg)
	}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer ds.Close()

	st := ds.Structure()
	bands := ds.Bands()
	if len(bands) == 0 || st.SizeX == 0 || st.SizeY == 0 {
		return nil, fmt.Errorf("%w: empty raster", ErrDecode)
	}
	c := NewCube(len(bands), st.SizeY, st.SizeX)
	for i, band := range bands {
		if err := band.Read(0, 0, c.Band(i), st.SizeX, st.SizeY); err != nil {
			return nil, fmt.Errorf("%w: band %d: %v", ErrDecode, i+1, err)
		}
	}
	return c, nil
}

func isTar(contentType string, body []byte) bool {
	if strings.Contains(contentType, "tar") {
		return true
	}
	// ustar magic at offset 257
	return len(body) > 262 && string(body[257:262]) == "ustar"
}

// untar maps entry names without extension to their contents.
func untar(body []byte) (map[string][]byte, error) {
	parts := map[string][]byte{}
	tr := tar.NewReader(bytes.NewReader(body))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		base := path.Base(hdr.Name)
		parts[strings.TrimSuffix(base, path.Ext(base))] = data
	}
	return parts, nil
}

func extension(format string) string {
	switch {
	case strings.Contains(format, "jpeg"), strings.Contains(format, "jpg"):
		return ".jpg"
	case strings.Contains(format, "png"):
		return ".png"
	}
	return ".tif"
}
