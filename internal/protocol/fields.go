package protocol

import (
	"time"

	"trustline/internal/codec"
	"trustline/internal/domain"
)

// Fields reads a list of encoded values in order, remembering the first
// error. Protocols use it to decode their states and inputs.
type Fields struct {
	items []codec.Encoded
	next  int
	err   error
}

// ReadFields starts reading e, which must be a list of exactly n items.
func ReadFields(e codec.Encoded, n int) *Fields {
	items, err := e.ListOf(n)
	return &Fields{items: items, err: err}
}

// FieldsOf reads the given values.
func FieldsOf(items []codec.Encoded) *Fields { return &Fields{items: items} }

// Err returns the first error met.
func (f *Fields) Err() error { return f.err }

func (f *Fields) take() (codec.Encoded, bool) {
	if f.err != nil {
		return codec.Encoded{}, false
	}
	if f.next >= len(f.items) {
		f.err = codec.ErrArity
		return codec.Encoded{}, false
	}
	e := f.items[f.next]
	f.next++
	return e, true
}

// Raw returns the next value as is.
func (f *Fields) Raw() codec.Encoded {
	e, _ := f.take()
	return e
}

func (f *Fields) Identity() domain.Identity {
	e, ok := f.take()
	if !ok {
		return domain.Identity{}
	}
	id, err := DecodeIdentity(e)
	f.err = err
	return id
}

func (f *Fields) UID() domain.UID {
	e, ok := f.take()
	if !ok {
		return domain.UID{}
	}
	u, err := DecodeUID(e)
	f.err = err
	return u
}

func (f *Fields) UIDs() []domain.UID {
	e, ok := f.take()
	if !ok {
		return nil
	}
	u, err := DecodeUIDs(e)
	f.err = err
	return u
}

func (f *Fields) Bytes() []byte {
	e, ok := f.take()
	if !ok {
		return nil
	}
	b, err := e.AsBytes()
	f.err = err
	return b
}

func (f *Fields) Text() string {
	e, ok := f.take()
	if !ok {
		return ""
	}
	s, err := e.AsString()
	f.err = err
	return s
}

func (f *Fields) Int() int64 {
	e, ok := f.take()
	if !ok {
		return 0
	}
	v, err := e.AsInt()
	f.err = err
	return v
}

func (f *Fields) Bool() bool {
	e, ok := f.take()
	if !ok {
		return false
	}
	v, err := e.AsBool()
	f.err = err
	return v
}

func (f *Fields) Time() time.Time {
	e, ok := f.take()
	if !ok {
		return time.Time{}
	}
	t, err := e.AsTime()
	f.err = err
	return t
}
