package medicine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

var (
	ErrCorrupt      = errors.New("medicine store data is corrupt")
	ErrInvalidPrice = errors.New("price must be a finite number")
)

// StorageError is returned when the backing store cannot be read or written.
// Domain results such as a missing record are reported as an Outcome instead.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("medicine store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("medicine store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Outcome is the domain result of a store operation.
type Outcome int

const (
	OK Outcome = iota
	NotFound
	AlreadyExists
	Empty
	NoValidPrices
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case Empty:
		return "empty"
	case NoValidPrices:
		return "no_valid_prices"
	default:
		return "unknown"
	}
}

// Price holds the stored JSON value of a record's price. Values that are not
// JSON numbers are kept byte-for-byte so a rewrite never loses them.
type Price struct {
	raw json.RawMessage
}

func NewPrice(v float64) (Price, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Price{}, ErrInvalidPrice
	}
	return Price{raw: json.RawMessage(strconv.FormatFloat(v, 'f', -1, 64))}, nil
}

// Float64 reports the numeric value and whether the stored value is a number.
func (p Price) Float64() (float64, bool) {
	raw := bytes.TrimSpace(p.raw)
	if len(raw) == 0 {
		return 0, false
	}
	if c := raw[0]; c != '-' && (c < '0' || c > '9') {
		return 0, false
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (p Price) MarshalJSON() ([]byte, error) {
	if len(p.raw) == 0 {
		return []byte("null"), nil
	}
	return p.raw, nil
}

func (p *Price) UnmarshalJSON(b []byte) error {
	p.raw = append(p.raw[:0], b...)
	return nil
}

// Record is one stored medicine. Keys other than name and price found in the
// data are carried in extra and written back unchanged.
type Record struct {
	Name  string
	Price Price
	extra map[string]json.RawMessage
}

func (r Record) MarshalJSON() ([]byte, error) {
	name, err := json.Marshal(r.Name)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"name":`)
	buf.Write(name)
	if len(r.Price.raw) > 0 {
		buf.WriteString(`,"price":`)
		buf.Write(r.Price.raw)
	}
	if err := writeExtra(&buf, r.extra); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}

	var rec Record
	if raw, ok := fields["name"]; ok {
		if err := json.Unmarshal(raw, &rec.Name); err != nil {
			return fmt.Errorf("name: %w", err)
		}
	}
	if raw, ok := fields["price"]; ok {
		rec.Price.raw = raw
	}
	delete(fields, "name")
	delete(fields, "price")
	if len(fields) > 0 {
		rec.extra = fields
	}

	*r = rec
	return nil
}

// writeExtra appends the extra keys in sorted order, each preceded by a comma.
func writeExtra(buf *bytes.Buffer, extra map[string]json.RawMessage) error {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(extra[k])
	}
	return nil
}

// Store is implemented by every medicine backend. Each operation is atomic
// with respect to the others on the same instance.
type Store interface {
	ListAll(ctx context.Context) ([]Record, error)
	GetByName(ctx context.Context, name string) (Record, Outcome, error)
	Create(ctx context.Context, name string, price float64) (Outcome, error)
	UpdatePrice(ctx context.Context, name string, price float64) (Outcome, error)
	Delete(ctx context.Context, name string) (Outcome, error)
	AveragePrice(ctx context.Context) (float64, Outcome, error)
	Ping(ctx context.Context) error
	Close() error
}
