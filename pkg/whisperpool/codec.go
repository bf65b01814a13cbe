package whisperpool

import (
	"fmt"
	"os"
)

// Codec defines the interface for encoding/decoding values. The Proxy Path
// decodes child /inference responses with it; the Status Cache encodes
// pool snapshots with it (statuscache.go).
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	Name() string
}

// CodecType selects a Codec implementation.
type CodecType string

const (
	// CodecJSON uses JSON encoding (default).
	CodecJSON CodecType = "json"
	// CodecMessagePack uses MessagePack encoding.
	CodecMessagePack CodecType = "msgpack"
)

// jsonCodec is the process-wide JSON codec used to decode child responses.
// Its concrete implementation is chosen at compile time by the
// json_goccy/json_segmentio build tags on the JSONCodec type.
var jsonCodec Codec = &JSONCodec{}

// GetJSONCodecType reports which JSON codec implementation is active.
// Can be overridden with the WHISPERPOOL_JSON_CODEC environment variable
// for diagnostics; it does not change which implementation is compiled in.
func GetJSONCodecType() string {
	if codecType := os.Getenv("WHISPERPOOL_JSON_CODEC"); codecType != "" {
		return codecType
	}
	return (&JSONCodec{}).Name()
}

// NewCodec creates a Codec for the given type.
func NewCodec(codecType CodecType) (Codec, error) {
	switch codecType {
	case CodecJSON, "":
		return &JSONCodec{}, nil
	case CodecMessagePack:
		return &MessagePackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec type: %s", codecType)
	}
}
