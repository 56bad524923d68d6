package imageopt

import (
	"bytes"
	"strings"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// inspectCamera reports the camera make and model recorded in the image's
// EXIF block, if any. Re-encoding drops that block, so callers log it.
func inspectCamera(data []byte) (string, bool) {
	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("No readable EXIF metadata")
		return "", false
	}
	camera := strings.TrimSpace(strings.TrimSpace(exifData.Make) + " " + strings.TrimSpace(exifData.Model))
	if camera == "" {
		return "", false
	}
	return camera, true
}
