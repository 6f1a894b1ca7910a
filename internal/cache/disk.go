package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Entries larger than this are compressed before hitting disk; smaller ones
// are written raw, the zstd framing overhead is not worth it.
const compressThreshold = 1024

const (
	extCompressed = ".zst"
	extRaw        = ".bin"
)

// diskStore is the persistent cache level. Entries are one file per digest;
// the extension records whether the payload is zstd-compressed. There is no
// separate index file: the directory is rescanned on open. Not safe for
// concurrent use; the owning Cache serializes access.
type diskStore struct {
	dir       string
	capacity  int64
	size      int64
	evictions int64

	entries map[string]*diskEntry
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

type diskEntry struct {
	path       string
	size       int64 // bytes on disk
	lastAccess time.Time
	compressed bool
}

func newDiskStore(dir string, capacity int64, level int) (*diskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	s := &diskStore{
		dir:     dir,
		capacity: capacity,
		entries: make(map[string]*diskEntry),
		encoder: encoder,
		decoder: decoder,
	}
	if err := s.scan(); err != nil {
		return nil, err
	}
	return s, nil
}

// scan rebuilds the index from the cache directory, picking up entries left
// by earlier runs. File modification time stands in for last access until
// the entry is touched again.
func (s *diskStore) scan() error {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, de := range dirents {
		name := de.Name()
		ext := filepath.Ext(name)
		if de.IsDir() || (ext != extCompressed && ext != extRaw) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		digest := strings.TrimSuffix(name, ext)
		s.entries[digest] = &diskEntry{
			path:       filepath.Join(s.dir, name),
			size:       info.Size(),
			lastAccess: info.ModTime(),
			compressed: ext == extCompressed,
		}
		s.size += info.Size()
	}
	return nil
}

func (s *diskStore) get(digest string) ([]byte, bool) {
	entry, ok := s.entries[digest]
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(entry.path)
	if err != nil {
		// Removed or unreadable behind our back; drop the entry.
		s.forget(digest)
		return nil, false
	}
	if entry.compressed {
		decompressed, err := s.decoder.DecodeAll(data, nil)
		if err != nil {
			os.Remove(entry.path)
			s.forget(digest)
			return nil, false
		}
		data = decompressed
	}
	entry.lastAccess = time.Now()
	return data, true
}

func (s *diskStore) put(digest string, data []byte) error {
	payload := data
	compressed := false
	if len(data) > compressThreshold {
		if c := s.encoder.EncodeAll(data, nil); len(c) < len(data) {
			payload = c
			compressed = true
		}
	}
	if int64(len(payload)) > s.capacity {
		return ErrTooLarge
	}
	if existing, ok := s.entries[digest]; ok {
		os.Remove(existing.path)
		s.forget(digest)
	}
	for s.size+int64(len(payload)) > s.capacity && len(s.entries) > 0 {
		s.evictOldest()
	}

	ext := extRaw
	if compressed {
		ext = extCompressed
	}
	path := filepath.Join(s.dir, digest+ext)
	if err := writeAtomic(path, payload); err != nil {
		return err
	}
	s.entries[digest] = &diskEntry{
		path:       path,
		size:       int64(len(payload)),
		lastAccess: time.Now(),
		compressed: compressed,
	}
	s.size += int64(len(payload))
	return nil
}

func (s *diskStore) forget(digest string) {
	if entry, ok := s.entries[digest]; ok {
		s.size -= entry.size
		delete(s.entries, digest)
	}
}

func (s *diskStore) evictOldest() {
	var oldest string
	var oldestAt time.Time
	for digest, entry := range s.entries {
		if oldest == "" || entry.lastAccess.Before(oldestAt) {
			oldest = digest
			oldestAt = entry.lastAccess
		}
	}
	if oldest == "" {
		return
	}
	os.Remove(s.entries[oldest].path)
	s.forget(oldest)
	s.evictions++
}

func (s *diskStore) clear() error {
	for digest, entry := range s.entries {
		os.Remove(entry.path)
		delete(s.entries, digest)
	}
	s.size = 0
	return nil
}

func (s *diskStore) close() error {
	s.decoder.Close()
	return s.encoder.Close()
}

// writeAtomic writes to a sibling temp file and renames it into place so a
// crash never leaves a truncated cache entry behind.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
