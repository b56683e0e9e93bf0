package raster

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/forest-guardian/forest-health-mosaic/internal/profile"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestUntar(t *testing.T) {
	body := tarball(t, map[string]string{"indices.tif": "aaa", "scl.tif": "b"})
	assert.True(t, isTar("", body))
	assert.True(t, isTar("application/x-tar", nil))

	parts, err := untar(body)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"indices": []byte("aaa"), "scl": []byte("b")}, parts)
}

func TestIsTar_PlainBody(t *testing.T) {
	assert.False(t, isTar("image/tiff", bytes.Repeat([]byte{0}, 2048)))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".jpg", extension("image/jpeg"))
	assert.Equal(t, ".png", extension("image/png"))
	assert.Equal(t, ".tif", extension("image/tiff"))
	assert.Equal(t, ".tif", extension(""))
}

// geotiff writes c through GDAL and returns the file contents.
func geotiff(t *testing.T, c *Cube) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "part.tif")
	ds, err := godal.Create(godal.GTiff, path, c.Bands, godal.Float32, c.Width, c.Height)
	require.NoError(t, err)
	for b, band := range ds.Bands() {
		require.NoError(t, band.Write(0, 0, c.Band(b), c.Width, c.Height))
	}
	require.NoError(t, ds.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

type tarEntry struct {
	name string
	data []byte
}

func orderedTar(t *testing.T, entries ...tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.data)), Typeflag: tar.TypeReg}))
		_, err := tw.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func allProfile(t *testing.T) profile.Profile {
	t.Helper()
	p, err := profile.Default().Lookup(profile.ALL)
	require.NoError(t, err)
	return p
}

func TestGDALDecoder_FollowsResponseOrder(t *testing.T) {
	godal.RegisterAll()
	bands := NewCube(9, 2, 3)
	for b := 0; b < 9; b++ {
		for i := range bands.Band(b) {
			bands.Band(b)[i] = float32(b + 1)
		}
	}
	scl := NewCube(1, 2, 3)
	for i := range scl.Data {
		scl.Data[i] = 42
	}

	// archive order differs from the declared response order
	body := orderedTar(t,
		tarEntry{"scl.tif", geotiff(t, scl)},
		tarEntry{"bands.tif", geotiff(t, bands)},
	)

	got, err := GDALDecoder{TempDir: t.TempDir()}.Decode(body, "application/x-tar", allProfile(t))
	require.NoError(t, err)
	want, err := ConcatBands(bands, scl)
	require.NoError(t, err)
	assert.Equal(t, [3]int{10, 2, 3}, got.Shape())
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("decoded cube mismatch (-want +got):\n%s", diff)
	}
}

func TestGDALDecoder_MultipartWithoutContentType(t *testing.T) {
	godal.RegisterAll()
	body := orderedTar(t,
		tarEntry{"bands.tif", geotiff(t, NewCube(9, 2, 2))},
		tarEntry{"scl.tif", geotiff(t, NewCube(1, 2, 2))},
	)

	got, err := GDALDecoder{}.Decode(body, "", allProfile(t))
	require.NoError(t, err)
	assert.Equal(t, 10, got.Bands)
}

func TestGDALDecoder_MissingPart(t *testing.T) {
	godal.RegisterAll()
	body := orderedTar(t, tarEntry{"bands.tif", geotiff(t, NewCube(9, 2, 3))})

	_, err := GDALDecoder{}.Decode(body, "application/x-tar", allProfile(t))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestGDALDecoder_SingleImage(t *testing.T) {
	godal.RegisterAll()
	c := NewCube(3, 4, 5)
	for i := range c.Data {
		c.Data[i] = float32(i)
	}
	p, err := profile.Default().Lookup(profile.RGB)
	require.NoError(t, err)

	got, err := GDALDecoder{}.Decode(geotiff(t, c), "image/tiff", p)
	require.NoError(t, err)
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("decoded cube mismatch (-want +got):\n%s", diff)
	}

	_, err = GDALDecoder{}.Decode([]byte("not a raster"), "image/tiff", p)
	assert.ErrorIs(t, err, ErrDecode)
}
