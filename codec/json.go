package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// JSON is the default codec. The zero value is ready to use.
//
// Strict rejects payloads carrying fields V does not declare, so a stored
// value from a wider schema is reported as a decode failure (and recomputed)
// instead of silently losing data.
type JSON[V any] struct {
	Strict bool
}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[V]) Name() string { return "json" }

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }

func (c JSON[V]) Decode(b []byte) (V, error) {
	var v V
	if !c.Strict {
		err := json.Unmarshal(b, &v)
		return v, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		var zero V
		return zero, errors.New("codec: trailing data after json value")
	}
	return v, nil
}
