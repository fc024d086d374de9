package service

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

// RenderQR encodes data as a square PNG QR code of size pixels. Medium error
// correction survives a projector's glare without growing the code much.
func RenderQR(data []byte, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}

	code, err := qr.Encode(string(data), qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	code, err = barcode.Scale(code, size, size)
	if err != nil {
		return nil, fmt.Errorf("scale qr: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
