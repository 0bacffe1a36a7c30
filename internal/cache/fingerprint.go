package cache

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Fingerprint derives a stable dedup key from the semantically relevant
// fields of a request: symbol, the timestamp truncated to bucket, and any
// request parameters. Two requests with equal fingerprints share one
// computation.
func Fingerprint(symbol string, ts int64, bucket time.Duration, params map[string]string) string {
	bucketSec := int64(bucket / time.Second)
	if bucketSec < 1 {
		bucketSec = 1
	}
	truncated := ts - ts%bucketSec

	var b strings.Builder
	b.WriteString(symbol)
	b.WriteByte('|')
	fmt.Fprintf(&b, "%d", truncated)

	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte('|')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(params[k])
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", sum)
}
