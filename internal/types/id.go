package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ID is an opaque identifier for pipelines, connections and events. The
// backend is not consistent about identifier encoding: the same pipeline may
// arrive as "42" in one payload and 42 in another. ID accepts both and always
// marshals as a JSON string. Integral numbers are canonicalised, so 1, 1.0,
// 1e0 and "1" are the same identifier.
type ID string

// String returns the identifier as a plain string.
func (id ID) String() string { return string(id) }

// IsZero reports whether the identifier is empty.
func (id ID) IsZero() bool { return id == "" }

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*id = ID(canonicalNumber(n))
	return nil
}

// maxExactFloat is the largest magnitude below which every integer is exactly
// representable as a float64.
const maxExactFloat = 1 << 53

func canonicalNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > maxExactFloat {
		return n.String()
	}
	return strconv.FormatInt(int64(f), 10)
}
