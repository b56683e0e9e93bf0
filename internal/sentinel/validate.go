package sentinel

import (
	"fmt"
	"strings"
)

// MinTileBytes is the smallest body accepted as raster content.
const MinTileBytes = 1000

// ValidateContent rejects bodies that cannot be tile rasters: JSON error
// documents and anything shorter than MinTileBytes.
func ValidateContent(r *Response) error {
	if r == nil {
		return fmt.Errorf("%w: no response", ErrInvalidTileContent)
	}
	if strings.HasPrefix(strings.ToLower(r.ContentType), "application/json") {
		return fmt.Errorf("%w: got %s: %s", ErrInvalidTileContent, r.ContentType, detail(r.Body))
	}
	if len(r.Body) < MinTileBytes {
		return fmt.Errorf("%w: body of %d bytes is too small", ErrInvalidTileContent, len(r.Body))
	}
	return nil
}
