package store

import (
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/meterlog/tmpod/internal/block"
	"github.com/meterlog/tmpod/internal/infrastructure/logging"
)

// Filesystem constants.
const (
	// dirPermissions is the permission mode for block directories.
	dirPermissions = 0750

	// filePermissions is the permission mode for block files.
	filePermissions = 0640

	// sensorDir is the fixed directory under the root holding all sensors.
	sensorDir = "sensor"
)

// Store is a filesystem block store rooted at a single directory.
//
// All methods are plain filesystem operations; the store carries no in-memory
// state besides its root, so it is safe to share between the engine and the
// startup scrub.
type Store struct {
	root string
	log  *logging.Logger
}

// New creates a store rooted at the given directory. The directory itself is
// created on demand by the first write.
func New(root string, log *logging.Logger) *Store {
	return &Store{root: root, log: log}
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the file path of a block. Pure computation; the file need not
// exist.
func (s *Store) Path(sid string, rid, lvl int, bid uint32) string {
	return filepath.Join(s.root, sensorDir, sid,
		strconv.Itoa(rid), strconv.Itoa(lvl), strconv.FormatUint(uint64(bid), 10))
}

// Exists reports whether a block file is present.
func (s *Store) Exists(sid string, rid, lvl int, bid uint32) bool {
	_, err := os.Stat(s.Path(sid, rid, lvl, bid))
	return err == nil
}

// WriteBlock persists a block as a gzip file.
//
// Parent directories are created as needed. The write refuses to overwrite:
// if the path already exists it returns ErrBlockExists and the caller is
// expected to unlink its source group instead. Any other I/O error may leave
// a partial file behind for the startup scrub to collect.
func (s *Store) WriteBlock(sid string, rid, lvl int, bid uint32, b *block.Block) error {
	sink, err := s.CreateSink(sid, rid, lvl, bid)
	if err != nil {
		return err
	}
	if err := b.Encode(sink); err != nil {
		sink.Close()
		return fmt.Errorf("encoding block %s: %w", s.Path(sid, rid, lvl, bid), err)
	}
	return sink.Commit()
}

// ReadBlock reads and fully decodes a block. Used by tests and validation;
// the hot paths stream instead.
func (s *Store) ReadBlock(sid string, rid, lvl int, bid uint32) (*block.Block, error) {
	f, err := os.Open(s.Path(sid, rid, lvl, bid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlockNotFound
		}
		return nil, fmt.Errorf("opening block: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer zr.Close()

	return block.Decode(zr)
}

// ReadRaw returns the compressed on-disk bytes of a block, ready to hand to
// an MQTT publish.
func (s *Store) ReadRaw(sid string, rid, lvl int, bid uint32) ([]byte, error) {
	data, err := os.ReadFile(s.Path(sid, rid, lvl, bid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlockNotFound
		}
		return nil, fmt.Errorf("reading block: %w", err)
	}
	return data, nil
}

// Unlink removes a block file. A missing file is not an error.
func (s *Store) Unlink(sid string, rid, lvl int, bid uint32) error {
	if err := os.Remove(s.Path(sid, rid, lvl, bid)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlinking block: %w", err)
	}
	return nil
}

// List returns the entries of a directory in block order: names that parse as
// integers sort numerically ascending, everything else sorts lexicographically
// after them. A missing directory yields an empty listing.
func (s *Store) List(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", path, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Slice(names, func(i, j int) bool {
		ni, iok := parseUint(names[i])
		nj, jok := parseUint(names[j])
		switch {
		case iok && jok:
			return ni < nj
		case iok != jok:
			return iok
		default:
			return names[i] < names[j]
		}
	})
	return names, nil
}

// Sensors returns all sensor ids present in the store, in listing order.
func (s *Store) Sensors() ([]string, error) {
	return s.List(filepath.Join(s.root, sensorDir))
}

// Rids returns all reset ids present for a sensor, ascending.
func (s *Store) Rids(sid string) ([]int, error) {
	names, err := s.List(filepath.Join(s.root, sensorDir, sid))
	if err != nil {
		return nil, err
	}
	rids := make([]int, 0, len(names))
	for _, n := range names {
		if v, ok := parseUint(n); ok {
			rids = append(rids, int(v))
		}
	}
	return rids, nil
}

// Bids returns all block ids present at a (sensor, rid, level), ascending.
func (s *Store) Bids(sid string, rid, lvl int) ([]uint32, error) {
	dir := filepath.Join(s.root, sensorDir, sid, strconv.Itoa(rid), strconv.Itoa(lvl))
	names, err := s.List(dir)
	if err != nil {
		return nil, err
	}
	bids := make([]uint32, 0, len(names))
	for _, n := range names {
		if v, ok := parseUint(n); ok && v <= 1<<32-1 {
			bids = append(bids, uint32(v))
		}
	}
	return bids, nil
}

// parseUint parses a directory entry as an unsigned integer.
func parseUint(name string) (uint64, bool) {
	v, err := strconv.ParseUint(name, 10, 64)
	return v, err == nil
}

// Sink is a streaming gzip writer for one block file, used by the compactor
// to emit merged blocks without buffering them.
type Sink struct {
	path string
	f    *os.File
	zw   *gzip.Writer
	done bool
}

// CreateSink opens a new block file for streaming writes.
//
// Like WriteBlock it creates parent directories and refuses to overwrite an
// existing block.
func (s *Store) CreateSink(sid string, rid, lvl int, bid uint32) (*Sink, error) {
	path := s.Path(sid, rid, lvl, bid)
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating block directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePermissions)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrBlockExists
		}
		return nil, fmt.Errorf("creating block file: %w", err)
	}

	zw, err := gzip.NewWriterLevel(f, gzip.BestCompression)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	return &Sink{path: path, f: f, zw: zw}, nil
}

// Write implements io.Writer.
func (k *Sink) Write(p []byte) (int, error) {
	return k.zw.Write(p)
}

// Commit flushes the gzip stream, fsyncs and closes the file.
func (k *Sink) Commit() error {
	k.done = true
	if err := k.zw.Close(); err != nil {
		k.f.Close()
		return fmt.Errorf("closing gzip stream: %w", err)
	}
	if err := k.f.Sync(); err != nil {
		k.f.Close()
		return fmt.Errorf("syncing block file: %w", err)
	}
	if err := k.f.Close(); err != nil {
		return fmt.Errorf("closing block file: %w", err)
	}
	return nil
}

// Abort closes and removes the partial file. Safe to call after Commit, in
// which case it does nothing.
func (k *Sink) Abort() {
	if k.done {
		return
	}
	k.done = true
	k.zw.Close()
	k.f.Close()
	os.Remove(k.path)
}

// Close aborts the sink if it was not committed.
func (k *Sink) Close() {
	k.Abort()
}
