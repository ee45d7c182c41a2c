// Package qr renders join links as QR code images.
package qr

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 256

// Encoder renders PNG QR codes. It satisfies party.Renderer.
type Encoder struct {
	Size  int
	Level qrcode.RecoveryLevel
}

func NewEncoder(size int) *Encoder {
	if size <= 0 {
		size = DefaultSize
	}
	return &Encoder{Size: size, Level: qrcode.Medium}
}

// Render encodes content as a PNG.
func (e *Encoder) Render(content string) ([]byte, error) {
	png, err := qrcode.Encode(content, e.Level, e.Size)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}
	return png, nil
}
