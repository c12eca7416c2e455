package packed

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hpcpipeline/profcore/internal/model"
)

const (
	nodeTag = 0x01
)

// EncodeContexts walks root's subtree depth-first preorder, writing each
// Context as (relation, scope, id) followed by its children, with each
// subtree closed by the literal sentinel constant so a rank-0/rank-N round
// trip stays bit-identical.
func EncodeContexts(root *model.Context, res Resolvers) []byte {
	var buf bytes.Buffer
	encodeContextNode(&buf, root, res)
	return buf.Bytes()
}

func encodeContextNode(buf *bytes.Buffer, c *model.Context, res Resolvers) {
	buf.WriteByte(nodeTag)
	edge := c.Edge()
	buf.WriteByte(byte(edge.Relation))
	encodeScope(buf, edge.Scope, res)
	id, _ := c.ID()
	writeUvarint(buf, uint64(id))

	for _, child := range c.Children() {
		encodeContextNode(buf, child, res)
	}

	var s [8]byte
	binary.BigEndian.PutUint64(s[:], sentinel)
	buf.Write(s[:])
}

// DecodedContext is the receiving side's plain-data mirror of a Context
// node, since IdUnpacker materializes real Contexts under its own Arena
// rather than reusing rank 0's.
type DecodedContext struct {
	Relation model.Relation
	Scope    model.Scope
	ID       int
	Children []*DecodedContext
}

// DecodeContexts parses the blob EncodeContexts produced, returning the
// root node's DecodedContext tree.
func DecodeContexts(blob []byte, res Resolvers) (*DecodedContext, error) {
	r := bytes.NewReader(blob)
	node, err := decodeContextNode(r, res)
	if err != nil {
		return nil, err
	}
	return node, nil
}

func decodeContextNode(r *bytes.Reader, res Resolvers) (*DecodedContext, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if tag != nodeTag {
		return nil, fmt.Errorf("packed: expected context node tag, got 0x%02x", tag)
	}
	relByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	scope, err := decodeScope(r, res)
	if err != nil {
		return nil, err
	}
	id64, err := readUvarint(r)
	if err != nil {
		return nil, err
	}

	node := &DecodedContext{Relation: model.Relation(relByte), Scope: scope, ID: int(id64)}

	for {
		atEnd, err := peekSentinel(r)
		if err != nil {
			return nil, err
		}
		if atEnd {
			break
		}
		child, err := decodeContextNode(r, res)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

// peekSentinel consumes the closing sentinel if present and reports true,
// or leaves the reader untouched (having peeked one byte) and reports false
// so the caller can decode another child node.
func peekSentinel(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	if b != byte(sentinel>>56) {
		if err := r.UnreadByte(); err != nil {
			return false, err
		}
		return false, nil
	}
	var rest [7]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return false, fmt.Errorf("packed: truncated sentinel")
	}
	var got [8]byte
	got[0] = b
	copy(got[1:], rest[:])
	if binary.BigEndian.Uint64(got[:]) != sentinel {
		return false, fmt.Errorf("packed: corrupt sentinel %x", got)
	}
	return true, nil
}
