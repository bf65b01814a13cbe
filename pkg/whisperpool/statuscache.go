package whisperpool

import (
	"fmt"
	"os"
	"path/filepath"
)

// StatusCache persists the most recent PoolStatus snapshot to disk using a
// Codec, so an operator (or the `whisperpoold status` subcommand) can
// inspect pool health without reaching a running instance over HTTP. The
// Audit Sweep calls Save once per cycle (pool.go's auditSweepOnce).
type StatusCache struct {
	path  string
	codec Codec
}

// NewStatusCache builds a Status Cache writing to path with the given
// codec. A nil codec defaults to MessagePack, the compact on-disk format.
func NewStatusCache(path string, codec Codec) *StatusCache {
	if codec == nil {
		codec = &MessagePackCodec{}
	}
	return &StatusCache{path: path, codec: codec}
}

// Save encodes status and writes it atomically: encode to a temp file in
// the same directory, then rename over the destination, so a reader never
// observes a partially-written snapshot.
func (s *StatusCache) Save(status PoolStatus) error {
	data, err := s.codec.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode pool status: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("create status cache temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write status cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close status cache temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename status cache into place: %w", err)
	}
	return nil
}

// Load decodes the most recently saved snapshot. A missing file is returned
// as the os.ReadFile error; the `status` subcommand reports it as an error.
func (s *StatusCache) Load() (PoolStatus, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return PoolStatus{}, err
	}
	var status PoolStatus
	if err := s.codec.Unmarshal(data, &status); err != nil {
		return PoolStatus{}, fmt.Errorf("decode pool status: %w", err)
	}
	return status, nil
}
