package payments

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// RenderQR encodes a deposit address as a PNG, for gateways that return no QR link.
func RenderQR(address string) ([]byte, error) {
	png, err := qrcode.Encode(address, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("qr encode: %w", err)
	}
	return png, nil
}
