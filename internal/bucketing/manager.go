package bucketing

import (
	"encoding/hex"
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

const DateLayout = "2006-01-02"

// Fingerprinter derives stable murmur3 keys used to narrow duplicate lookups
type Fingerprinter struct {
	hasherPool sync.Pool
}

func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{
		hasherPool: sync.Pool{
			New: func() interface{} {
				return murmur3.New128()
			},
		},
	}
}

// DedupKey fingerprints the (email, phone, subject) triple that defines a
// duplicate enquiry. Inputs are expected to be normalized already.
func (f *Fingerprinter) DedupKey(email, phone, subject string) string {
	h := f.hasherPool.Get().(hash.Hash)
	defer f.hasherPool.Put(h)

	h.Reset()
	h.Write([]byte(email))
	h.Write([]byte{0})
	h.Write([]byte(phone))
	h.Write([]byte{0})
	h.Write([]byte(subject))
	return hex.EncodeToString(h.Sum(nil))
}

// DateBucket returns the UTC day used to partition event rows
func DateBucket(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
