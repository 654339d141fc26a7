// Copyright 2024 Canonical.

package keycrypto

import (
	"bytes"
	"encoding/json"

	"github.com/canonical/keyturn/internal/errors"
)

// CanonicalJSON serializes the given value as canonical JSON: object
// keys sorted lexicographically, no insignificant whitespace. The
// value is round-tripped through a generic decode so that struct
// field order does not leak into the output.
func CanonicalJSON(value any) ([]byte, error) {
	const op = errors.Op("keycrypto.CanonicalJSON")

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, errors.E(op, errors.CodeBadRequest, err)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, errors.E(op, errors.CodeBadRequest, err)
	}
	// encoding/json writes map keys in sorted order, which together
	// with the generic decode gives a canonical form.
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, errors.E(op, errors.CodeBadRequest, err)
	}
	return out, nil
}
