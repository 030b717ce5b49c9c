package messaging

import (
	"encoding/base64"
	"io"

	"github.com/mdp/qrterminal/v3"
	"rsc.io/qr"
)

// PrintQR renders a pairing code as a half-block QR code on w.
func PrintQR(w io.Writer, code string) {
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}

// QRPNG encodes a pairing code as a PNG image.
func QRPNG(code string) ([]byte, error) {
	c, err := qr.Encode(code, qr.M)
	if err != nil {
		return nil, err
	}
	return c.PNG(), nil
}

// QRDataURL returns the pairing code as a base64 PNG data URL.
func QRDataURL(code string) (string, error) {
	png, err := QRPNG(code)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
