package whatsapp

import (
	"encoding/base64"
	"fmt"

	"github.com/skip2/go-qrcode"
)

const qrImageSize = 256

// RenderDataURI turns a raw login token into a PNG data URI that a browser
// can show directly in an <img> tag.
func RenderDataURI(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
