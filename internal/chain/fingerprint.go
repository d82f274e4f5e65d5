package chain

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// Fingerprint returns a short FNV-1a content hash of an arbitrary value,
// used to tag log entries and spans with a stable handle on the input that
// produced them. It is non-cryptographic and not collision-resistant;
// suitable for display and dedup only.
func Fingerprint(v any) string {
	h := fnv.New64a()
	switch x := v.(type) {
	case nil:
		h.Write([]byte("null"))
	case string:
		h.Write([]byte(x))
	case []byte:
		h.Write(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			// Unmarshalable values (channels, funcs) still get a stable-ish
			// handle from their formatted representation.
			b = []byte(fmt.Sprintf("%#v", x))
		}
		h.Write(b)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
