package medicine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

const dataFilePerm = 0o644

// document is the on-disk layout of the data file. Top-level keys other than
// medicines are kept in extra so a rewrite does not drop them.
type document struct {
	Medicines []Record
	extra     map[string]json.RawMessage
}

func (d document) MarshalJSON() ([]byte, error) {
	recs := d.Medicines
	if recs == nil {
		recs = []Record{}
	}
	medicines, err := codec.Marshal(recs)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"medicines":`)
	buf.Write(medicines)
	if err := writeExtra(&buf, d.extra); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *document) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}

	var doc document
	if raw, ok := fields["medicines"]; ok {
		if err := codec.Unmarshal(raw, &doc.Medicines); err != nil {
			return fmt.Errorf("medicines: %w", err)
		}
	}
	delete(fields, "medicines")
	if len(fields) > 0 {
		doc.extra = fields
	}

	*d = doc
	return nil
}

// FileStore keeps the whole collection in one JSON file. Every mutation
// rewrites the file through a temp file and a rename, holding the write lock
// for the full read-modify-write cycle.
type FileStore struct {
	mu   sync.RWMutex
	path string
}

// NewFileStore opens the data file at path, creating it with an empty
// collection when it does not exist yet.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := os.Stat(path)
	switch {
	case err == nil:
		return s, nil
	case errors.Is(err, fs.ErrNotExist):
		if err := s.write(document{}); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, &StorageError{Op: "init", Path: path, Err: err}
	}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(s.path); err != nil {
		return &StorageError{Op: "ping", Path: s.path, Err: err}
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) ListAll(ctx context.Context) ([]Record, error) {
	var out []Record
	err := s.view(ctx, func(recs []Record) {
		out = recs
	})
	return out, err
}

func (s *FileStore) GetByName(ctx context.Context, name string) (Record, Outcome, error) {
	var (
		rec Record
		out = NotFound
	)
	err := s.view(ctx, func(recs []Record) {
		if i := indexOf(recs, name); i >= 0 {
			rec, out = recs[i], OK
		}
	})
	if err != nil {
		return Record{}, OK, err
	}
	return rec, out, nil
}

func (s *FileStore) AveragePrice(ctx context.Context) (float64, Outcome, error) {
	var (
		avg float64
		out Outcome
	)
	err := s.view(ctx, func(recs []Record) {
		avg, out = averagePrice(recs)
	})
	if err != nil {
		return 0, OK, err
	}
	return avg, out, nil
}

func (s *FileStore) Create(ctx context.Context, name string, price float64) (Outcome, error) {
	p, err := NewPrice(price)
	if err != nil {
		return OK, err
	}
	return s.mutate(ctx, func(recs []Record) ([]Record, Outcome) {
		if indexOf(recs, name) >= 0 {
			return nil, AlreadyExists
		}
		return append(recs, Record{Name: name, Price: p}), OK
	})
}

func (s *FileStore) UpdatePrice(ctx context.Context, name string, price float64) (Outcome, error) {
	p, err := NewPrice(price)
	if err != nil {
		return OK, err
	}
	return s.mutate(ctx, func(recs []Record) ([]Record, Outcome) {
		i := indexOf(recs, name)
		if i < 0 {
			return nil, NotFound
		}
		recs[i].Price = p
		return recs, OK
	})
}

func (s *FileStore) Delete(ctx context.Context, name string) (Outcome, error) {
	return s.mutate(ctx, func(recs []Record) ([]Record, Outcome) {
		i := indexOf(recs, name)
		if i < 0 {
			return nil, NotFound
		}
		return removeAt(recs, i), OK
	})
}

func (s *FileStore) view(ctx context.Context, fn func([]Record)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	fn(doc.Medicines)
	return nil
}

// mutate runs one read-modify-write cycle. fn returns the new collection and
// OK, or any other outcome to leave the file untouched. Cancellation is only
// honoured before the lock is taken; a started write always completes.
func (s *FileStore) mutate(ctx context.Context, fn func([]Record) ([]Record, Outcome)) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return OK, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return OK, err
	}

	next, out := fn(doc.Medicines)
	if out != OK {
		return out, nil
	}
	doc.Medicines = next
	if err := s.write(doc); err != nil {
		return OK, err
	}
	return OK, nil
}

func (s *FileStore) read() (document, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return document{}, &StorageError{Op: "read", Path: s.path, Err: err}
	}

	var doc document
	if err := codec.Unmarshal(b, &doc); err != nil {
		return document{}, &StorageError{Op: "decode", Path: s.path, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
	}
	if doc.Medicines == nil {
		doc.Medicines = []Record{}
	}
	return doc, nil
}

func (s *FileStore) write(doc document) error {
	b, err := codec.Marshal(doc)
	if err != nil {
		return &StorageError{Op: "encode", Path: s.path, Err: err}
	}

	// Marshaler output is written verbatim by the codec, so indent here.
	var out bytes.Buffer
	if err := json.Indent(&out, b, "", "    "); err != nil {
		return &StorageError{Op: "encode", Path: s.path, Err: err}
	}
	out.WriteByte('\n')

	if err := writeFileAtomic(s.path, out.Bytes(), dataFilePerm); err != nil {
		return &StorageError{Op: "write", Path: s.path, Err: err}
	}
	return nil
}

// writeFileAtomic replaces path with data. Readers see either the old or the
// new content, never a partial file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Chmod(perm); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	return syncDir(dir)
}

// syncDir flushes the directory entry so a completed rename survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
