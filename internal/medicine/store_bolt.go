package medicine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	recordsBucket = []byte("medicines")
	namesBucket   = []byte("medicine_names")
)

const boltOpenTimeout = 2 * time.Second

// BoltStore keeps records in a bbolt file. Records are keyed by a sequence
// number so cursor order is insertion order; a second bucket maps the folded
// name to that key. bbolt serializes writers and gives readers a consistent
// snapshot, so no extra locking is needed.
type BoltStore struct {
	db   *bolt.DB
	path string
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(recordsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(namesBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, &StorageError{Op: "init", Path: path, Err: err}
	}

	return &BoltStore{db: db, path: path}, nil
}

func (s *BoltStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.view("ping", func(*bolt.Tx) error { return nil })
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) ListAll(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Record
	err := s.view("list", func(tx *bolt.Tx) error {
		recs, err := loadAll(tx)
		out = recs
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) GetByName(ctx context.Context, name string) (Record, Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, OK, err
	}

	var (
		rec Record
		out = NotFound
	)
	err := s.view("get", func(tx *bolt.Tx) error {
		key := tx.Bucket(namesBucket).Get([]byte(foldName(name)))
		if key == nil {
			return nil
		}
		r, err := loadOne(tx, key)
		if err != nil {
			return err
		}
		rec, out = r, OK
		return nil
	})
	if err != nil {
		return Record{}, OK, err
	}
	return rec, out, nil
}

func (s *BoltStore) AveragePrice(ctx context.Context) (float64, Outcome, error) {
	recs, err := s.ListAll(ctx)
	if err != nil {
		return 0, OK, err
	}
	avg, out := averagePrice(recs)
	return avg, out, nil
}

func (s *BoltStore) Create(ctx context.Context, name string, price float64) (Outcome, error) {
	p, err := NewPrice(price)
	if err != nil {
		return OK, err
	}
	if err := ctx.Err(); err != nil {
		return OK, err
	}

	out := OK
	err = s.update("create", func(tx *bolt.Tx) error {
		names := tx.Bucket(namesBucket)
		nameKey := []byte(foldName(name))
		if names.Get(nameKey) != nil {
			out = AlreadyExists
			return nil
		}

		records := tx.Bucket(recordsBucket)
		seq, err := records.NextSequence()
		if err != nil {
			return err
		}
		key := seqKey(seq)
		if err := putRecord(records, key, Record{Name: name, Price: p}); err != nil {
			return err
		}
		return names.Put(nameKey, key)
	})
	return out, err
}

func (s *BoltStore) UpdatePrice(ctx context.Context, name string, price float64) (Outcome, error) {
	p, err := NewPrice(price)
	if err != nil {
		return OK, err
	}
	if err := ctx.Err(); err != nil {
		return OK, err
	}

	out := OK
	err = s.update("update", func(tx *bolt.Tx) error {
		key := tx.Bucket(namesBucket).Get([]byte(foldName(name)))
		if key == nil {
			out = NotFound
			return nil
		}
		rec, err := loadOne(tx, key)
		if err != nil {
			return err
		}
		rec.Price = p
		return putRecord(tx.Bucket(recordsBucket), key, rec)
	})
	return out, err
}

func (s *BoltStore) Delete(ctx context.Context, name string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return OK, err
	}

	out := OK
	err := s.update("delete", func(tx *bolt.Tx) error {
		names := tx.Bucket(namesBucket)
		nameKey := []byte(foldName(name))
		key := names.Get(nameKey)
		if key == nil {
			out = NotFound
			return nil
		}
		// key points into the mmap and is invalid after the delete below.
		key = append([]byte(nil), key...)
		if err := names.Delete(nameKey); err != nil {
			return err
		}
		return tx.Bucket(recordsBucket).Delete(key)
	})
	return out, err
}

func (s *BoltStore) view(op string, fn func(*bolt.Tx) error) error {
	if err := s.db.View(fn); err != nil {
		return s.wrap(op, err)
	}
	return nil
}

func (s *BoltStore) update(op string, fn func(*bolt.Tx) error) error {
	if err := s.db.Update(fn); err != nil {
		return s.wrap(op, err)
	}
	return nil
}

func (s *BoltStore) wrap(op string, err error) error {
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Path: s.path, Err: err}
}

func loadAll(tx *bolt.Tx) ([]Record, error) {
	out := []Record{}
	err := tx.Bucket(recordsBucket).ForEach(func(k, v []byte) error {
		var r Record
		if err := codec.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("%w: record %x: %v", ErrCorrupt, k, err)
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

func loadOne(tx *bolt.Tx, key []byte) (Record, error) {
	v := tx.Bucket(recordsBucket).Get(key)
	if v == nil {
		return Record{}, fmt.Errorf("%w: dangling name index %x", ErrCorrupt, key)
	}
	var r Record
	if err := codec.Unmarshal(v, &r); err != nil {
		return Record{}, fmt.Errorf("%w: record %x: %v", ErrCorrupt, key, err)
	}
	return r, nil
}

func putRecord(b *bolt.Bucket, key []byte, r Record) error {
	v, err := codec.Marshal(r)
	if err != nil {
		return err
	}
	return b.Put(key, v)
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
