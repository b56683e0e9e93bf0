package output

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	"github.com/forest-guardian/forest-health-mosaic/internal/log"
	"github.com/icza/mjpeg"
	"go.uber.org/zap"
)

// WriteTimelapse encodes frames as a Motion JPEG AVI. All frames must share
// the first frame's size.
func WriteTimelapse(outputPath string, frames []image.Image, fps int32) (string, error) {
	if len(frames) == 0 {
		return "", errors.New("no frames provided")
	}
	if !strings.HasSuffix(outputPath, ".avi") {
		outputPath += ".avi"
	}
	if fps <= 0 {
		fps = 2
	}
	bounds := frames[0].Bounds()
	writer, err := mjpeg.New(outputPath, int32(bounds.Dx()), int32(bounds.Dy()), fps)
	if err != nil {
		return "", err
	}

	for i, img := range frames {
		if img.Bounds().Size() != bounds.Size() {
			_ = writer.Close()
			return "", fmt.Errorf("frame %d is %v, expected %v", i, img.Bounds().Size(), bounds.Size())
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			_ = writer.Close()
			return "", err
		}
		if err := writer.AddFrame(buf.Bytes()); err != nil {
			_ = writer.Close()
			return "", err
		}
	}
	if err := writer.Close(); err != nil {
		return "", err
	}
	log.Info(log.TagOutput+"timelapse written", zap.String("path", outputPath), zap.Int("frames", len(frames)))
	return outputPath, nil
}
