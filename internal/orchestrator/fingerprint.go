package orchestrator

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"

	"github.com/phrazzld/dispatch/internal/task"
)

// Fingerprint derives a stable identity for a request from its kind
// and payload. Two requests with identical inputs always produce the
// same fingerprint, which is what makes caching and request collapsing
// deterministic. Metadata keys are folded in sorted order so map
// iteration order cannot change the hash.
func Fingerprint(kind task.Kind, p task.Payload) string {
	h := sha256.New()

	writeField := func(field string, data []byte) {
		h.Write([]byte(field))
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(data)))
		h.Write(n[:])
		h.Write(data)
	}

	writeField("kind", []byte(kind))
	writeField("data", p.Data)
	writeField("lang", []byte(p.Language))
	if p.Translate {
		writeField("translate", []byte{1})
	} else {
		writeField("translate", []byte{0})
	}

	keys := make([]string, 0, len(p.Metadata))
	for k := range p.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField("meta:"+k, []byte(p.Metadata[k]))
	}

	return hex.EncodeToString(h.Sum(nil))
}
