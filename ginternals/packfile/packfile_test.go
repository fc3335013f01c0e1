package packfile_test

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"testing"

	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/gitkit-go/gitkit/ginternals/packfile"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// packBuilder assembles a minimal, valid packfile + index pair for
// tests, sidestepping the need for fixture tarballs.
type packBuilder struct {
	hash    githash.Hash
	entries []builtEntry
}

type builtEntry struct {
	oid    githash.Oid
	offset uint64
}

func newPackBuilder(hash githash.Hash) *packBuilder {
	return &packBuilder{hash: hash}
}

func (pb *packBuilder) writeHeader(buf *bytes.Buffer, typ object.Type, size int) {
	first := byte(typ)<<4 | byte(size&0x0f)
	size >>= 4
	if size > 0 {
		first |= 0b_1000_0000
	}
	buf.WriteByte(first)
	for size > 0 {
		b := byte(size & 0x7f)
		size >>= 7
		if size > 0 {
			b |= 0b_1000_0000
		}
		buf.WriteByte(b)
	}
}

// addBlob writes a non-deltified blob entry and returns its oid.
func (pb *packBuilder) addBlob(buf *bytes.Buffer, content []byte) githash.Oid {
	offset := uint64(buf.Len())
	pb.writeHeader(buf, object.TypeBlob, len(content))

	zbuf := new(bytes.Buffer)
	zw := zlib.NewWriter(zbuf)
	zw.Write(content) //nolint:errcheck
	zw.Close()         //nolint:errcheck
	buf.Write(zbuf.Bytes())

	o := object.New(pb.hash, object.TypeBlob, content)
	pb.entries = append(pb.entries, builtEntry{oid: o.ID(), offset: offset})
	return o.ID()
}

func (pb *packBuilder) buildIndex(t *testing.T) []byte {
	t.Helper()

	entries := append([]builtEntry{}, pb.entries...)
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if bytes.Compare(entries[j].oid.Bytes(), entries[i].oid.Bytes()) < 0 {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	buf := new(bytes.Buffer)
	buf.Write([]byte{255, 't', 'O', 'c', 0, 0, 0, 2})

	fanout := make([]uint32, 256)
	for _, e := range entries {
		b := e.oid.Bytes()[0]
		for i := int(b); i < 256; i++ {
			fanout[i]++
		}
	}
	for _, c := range fanout {
		binary.Write(buf, binary.BigEndian, c) //nolint:errcheck
	}
	for _, e := range entries {
		buf.Write(e.oid.Bytes())
	}
	for range entries {
		buf.Write([]byte{0, 0, 0, 0})
	}
	for _, e := range entries {
		binary.Write(buf, binary.BigEndian, uint32(e.offset)) //nolint:errcheck
	}
	buf.Write(make([]byte, pb.hash.Size()))
	buf.Write(make([]byte, pb.hash.Size()))

	return buf.Bytes()
}

func TestPackGetObject(t *testing.T) {
	t.Parallel()

	hash := githash.SHA1
	pb := newPackBuilder(hash)

	content := new(bytes.Buffer)
	content.Write([]byte{'P', 'A', 'C', 'K', 0, 0, 0, 2})
	binary.Write(content, binary.BigEndian, uint32(1)) //nolint:errcheck

	oid := pb.addBlob(content, []byte("hello world"))
	content.Write(make([]byte, hash.Size())) // footer checksum, unchecked by GetObject

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/pack-test.pack", content.Bytes(), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/pack-test.idx", pb.buildIndex(t), 0o644))

	pack, err := packfile.NewFromFile(fs, "/pack-test.pack", hash)
	require.NoError(t, err)
	t.Cleanup(func() { pack.Close() }) //nolint:errcheck

	o, err := pack.GetObject(oid)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(o.Bytes()))
	assert.Equal(t, object.TypeBlob, o.Type())
	assert.Equal(t, uint32(1), pack.ObjectCount())
	assert.True(t, pack.HasObject(oid))
}

func TestPackInvalidMagic(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bad.pack", []byte("NOPE\x00\x00\x00\x02\x00\x00\x00\x00"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/bad.idx", []byte{255, 't', 'O', 'c', 0, 0, 0, 2}, 0o644))

	_, err := packfile.NewFromFile(fs, "/bad.pack", githash.SHA1)
	assert.Error(t, err)
}
