package qrcode

import (
	"encoding/base64"
	"errors"

	qrcode "github.com/skip2/go-qrcode"
)

const size = 256

// DataURI renders a PIX copy-paste code as a PNG data URI.
func DataURI(pixCode string) (string, error) {
	if pixCode == "" {
		return "", errors.New("empty pix code")
	}
	png, err := qrcode.Encode(pixCode, qrcode.Medium, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
