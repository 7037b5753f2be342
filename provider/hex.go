package provider

import (
	"encoding/hex"

	"github.com/wudi/lcpkit/status"
)

// ConvertRawToHex renders raw bytes as lowercase hexadecimal.
func (p *Provider) ConvertRawToHex(data []byte) string {
	return hex.EncodeToString(data)
}

// ConvertHexToRaw decodes a hexadecimal string back to raw bytes.
func (p *Provider) ConvertHexToRaw(encoded string) ([]byte, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, status.New(status.DecryptionError, err.Error())
	}
	return raw, nil
}
