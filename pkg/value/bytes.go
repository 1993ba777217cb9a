// Package value provides ready-to-use V types for meshmap.Map: Bytes, a
// plain defensively-copied byte blob, and Counter, a diffable
// meshmap.Replicable value that demonstrates incremental replication.
package value

// Bytes is a defensively-copied byte blob, adapted from the copy-in/
// copy-out discipline the teacher's kv.Store used around its own
// []byte values (Put/Get both copy, so no caller can mutate storage
// through a returned slice). Bytes does not implement Replicable: every
// change ships as a full value, which is the right default for an
// opaque blob with no meaningful diff.
type Bytes struct {
	data []byte
}

// NewBytes copies src into a new Bytes.
func NewBytes(src []byte) Bytes {
	return Bytes{data: append([]byte(nil), src...)}
}

// Get returns a defensive copy of the stored bytes.
func (b Bytes) Get() []byte {
	return append([]byte(nil), b.data...)
}

func (b Bytes) Equal(other Bytes) bool {
	if len(b.data) != len(other.data) {
		return false
	}
	for i := range b.data {
		if b.data[i] != other.data[i] {
			return false
		}
	}
	return true
}

// GobEncode/GobDecode make Bytes round-trip through gob despite its
// field being unexported — gob otherwise silently drops unexported
// fields, which would turn every replicated Bytes value into an empty
// blob.
func (b Bytes) GobEncode() ([]byte, error) {
	return b.data, nil
}

func (b *Bytes) GobDecode(data []byte) error {
	b.data = append([]byte(nil), data...)
	return nil
}
