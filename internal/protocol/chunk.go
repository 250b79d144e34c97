package protocol

import "encoding/base64"

// DefaultChunkSize is the advisory chunk size handed to uploading clients and
// used by the download streamer.
const DefaultChunkSize = 4096

// EncodeChunk encodes raw bytes as a standard-base64 string for transport
// inside a JSON field.
func EncodeChunk(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeChunk decodes a base64 chunk back to raw bytes.
func DecodeChunk(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, Errorf(KindTransport, "invalid base64 data: %v", err)
	}
	return raw, nil
}
