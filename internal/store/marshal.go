package store

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/klauspost/compress/s2"

	"github.com/roach88/dwnsync/internal/dwn"
)

// marshalMessage converts a message to canonical JSON TEXT for storage.
// Inline data is never stored in the message body; payloads live in data_blobs.
func marshalMessage(msg *dwn.Message) (string, error) {
	data, err := dwn.MarshalCanonical(msg.WithoutData())
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	return string(data), nil
}

func unmarshalMessage(body string) (*dwn.Message, error) {
	var msg dwn.Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &msg, nil
}

// compressData encodes a payload with s2 for storage.
func compressData(data []byte) []byte {
	return s2.Encode(nil, data)
}

func decompressData(blob []byte) ([]byte, error) {
	data, err := s2.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("decompress data: %w", err)
	}
	return data, nil
}

// parseWatermark converts a watermark to an event seq. The empty watermark
// is the start of the log.
func parseWatermark(wm string) (int64, error) {
	if wm == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(wm, 10, 64)
	if err != nil || seq < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWatermark, wm)
	}
	return seq, nil
}

func formatWatermark(seq int64) string {
	return strconv.FormatInt(seq, 10)
}
