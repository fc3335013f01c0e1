package object_test

import (
	"testing"

	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/stretchr/testify/assert"
)

func TestBlob(t *testing.T) {
	t.Parallel()

	data := "this is a fake content"
	o := object.New(githash.SHA1, object.TypeBlob, []byte(data))
	blob := object.NewBlob(o)

	assert.Equal(t, len(data), blob.Size())
	assert.Equal(t, []byte(data), blob.Bytes())
	assert.Equal(t, o, blob.ToObject())
	assert.Equal(t, o.ID(), blob.ID())
}
