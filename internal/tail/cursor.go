package tail

// Cursor is the per-file read state. Offset counts bytes consumed from the
// file, including any partial trailing line already buffered; Offset never
// exceeds the last observed size. A shrink or identity change resets it.
type Cursor struct {
	Path     string
	Offset   int64
	Size     int64
	Identity uint64

	// partial holds a trailing line that has not seen its terminator yet.
	// It is parsed only once the terminator arrives in a later read.
	partial []byte
}

func (c *Cursor) reset() {
	c.Offset = 0
	c.Size = 0
	c.partial = nil
}
