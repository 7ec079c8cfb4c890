package tools

import (
	"bytes"
	"errors"
	"image/png"

	"github.com/kbinani/screenshot"
)

// ScreenshotFunc captures the primary display as PNG bytes.
type ScreenshotFunc func() ([]byte, error)

// CaptureScreen grabs the primary display.
func CaptureScreen() ([]byte, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return nil, errors.New("tools: no active display")
	}
	img, err := screenshot.CaptureDisplay(0)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
