package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PayloadHash returns the hex SHA-256 of the canonical form of the
// payload. Canonicalization re-serializes JSON objects with sorted keys
// so that two deliveries differing only in key order hash identically.
// Non-JSON payloads fall back to hashing the raw bytes.
func PayloadHash(raw []byte) string {
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		sum := sha256.Sum256(raw)
		return hex.EncodeToString(sum[:])
	}

	var b strings.Builder
	writeCanonical(&b, decoded)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeCanonical(b *strings.Builder, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			encoded, _ := json.Marshal(k)
			b.Write(encoded)
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []interface{}:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	case float64:
		b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case string:
		encoded, _ := json.Marshal(val)
		b.Write(encoded)
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case nil:
		b.WriteString("null")
	default:
		b.WriteString(fmt.Sprintf("%v", val))
	}
}
