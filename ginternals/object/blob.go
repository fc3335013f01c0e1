package object

// Blob represents a git blob object: an opaque byte payload with no
// further structure. Any object can be viewed as a blob since its
// bytes are always meaningful on their own.
type Blob struct {
	rawObject *Object
}

// NewBlob wraps an object as a Blob.
func NewBlob(o *Object) *Blob {
	return &Blob{rawObject: o}
}

// ID returns the Oid of the blob.
func (b *Blob) ID() Oid {
	return b.rawObject.ID()
}

// Bytes returns the raw content of the blob.
func (b *Blob) Bytes() []byte {
	return b.rawObject.Bytes()
}

// Size returns the size, in bytes, of the blob's content.
func (b *Blob) Size() int {
	return b.rawObject.Size()
}

// ToObject returns the underlying Object backing this blob.
func (b *Blob) ToObject() *Object {
	return b.rawObject
}
