package packed

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hpcpipeline/profcore/internal/model"
)

// ModuleResolver/FileResolver let scope encode/decode translate between a
// Module/File pointer and its dense integer id (assigned by the DenseIds
// Finalizer, see internal/finalizer) — the packed wire format never
// carries pointers, only ids, the path back to a pointer on the receiving
// rank is IdUnpacker's job.
type ModuleResolver interface {
	ModuleID(*model.Module) int64
	ModuleByID(int64) *model.Module
}

type FileResolver interface {
	FileID(*model.File) int64
	FileByID(int64) *model.File
}

// Resolvers bundles the two lookups scope encode/decode needs.
type Resolvers struct {
	Modules ModuleResolver
	Files   FileResolver
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	return binary.ReadUvarint(r)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUvarint(r)
	if err != nil {
		return "", err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return "", err
	}
	return string(out), nil
}

// encodeScope writes sc's tagged-variant payload. moduleID(-1) and
// fileID(-1) stand in for a nil Module/File.
func encodeScope(buf *bytes.Buffer, sc model.Scope, res Resolvers) {
	buf.WriteByte(byte(sc.Kind))
	switch sc.Kind {
	case model.ScopeGlobal, model.ScopeUnknown:
	case model.ScopePlaceholder:
		writeUvarint(buf, sc.Offset)
	case model.ScopePoint:
		writeUvarint(buf, uint64(moduleID(res, sc.Module)+1))
		writeUvarint(buf, sc.Offset)
	case model.ScopeFunction:
		encodeFunction(buf, sc.Function, res)
	case model.ScopeLexicalLoop:
		writeUvarint(buf, uint64(fileID(res, sc.File)+1))
		writeUvarint(buf, sc.Line)
	case model.ScopeBinaryLoop:
		writeUvarint(buf, uint64(moduleID(res, sc.Module)+1))
		writeUvarint(buf, sc.Offset)
		writeUvarint(buf, uint64(fileID(res, sc.File)+1))
		writeUvarint(buf, sc.Line)
	case model.ScopeLine:
		writeUvarint(buf, uint64(fileID(res, sc.File)+1))
		writeUvarint(buf, sc.Line)
	}
}

func encodeFunction(buf *bytes.Buffer, f *model.Function, res Resolvers) {
	writeUvarint(buf, uint64(moduleID(res, f.Module)+1))
	writeString(buf, f.Name)
	if f.HasEntry {
		buf.WriteByte(1)
		writeUvarint(buf, f.Entry)
	} else {
		buf.WriteByte(0)
	}
	writeUvarint(buf, uint64(fileID(res, f.File)+1))
	writeUvarint(buf, f.Line)
}

func moduleID(res Resolvers, m *model.Module) int64 {
	if m == nil || res.Modules == nil {
		return -1
	}
	return res.Modules.ModuleID(m)
}

func fileID(res Resolvers, f *model.File) int64 {
	if f == nil || res.Files == nil {
		return -1
	}
	return res.Files.FileID(f)
}

// decodeScope is the inverse of encodeScope.
func decodeScope(r *bytes.Reader, res Resolvers) (model.Scope, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return model.Scope{}, err
	}
	kind := model.ScopeKind(kindByte)
	switch kind {
	case model.ScopeGlobal:
		return model.GlobalScope(), nil
	case model.ScopeUnknown:
		return model.UnknownScope(), nil
	case model.ScopePlaceholder:
		id, err := readUvarint(r)
		if err != nil {
			return model.Scope{}, err
		}
		return model.Placeholder(id), nil
	case model.ScopePoint:
		mid, err := readUvarint(r)
		if err != nil {
			return model.Scope{}, err
		}
		off, err := readUvarint(r)
		if err != nil {
			return model.Scope{}, err
		}
		return model.PointScope(resolveModule(res, mid), off), nil
	case model.ScopeFunction:
		f, err := decodeFunction(r, res)
		if err != nil {
			return model.Scope{}, err
		}
		return model.FunctionScope(f), nil
	case model.ScopeLexicalLoop:
		fid, err := readUvarint(r)
		if err != nil {
			return model.Scope{}, err
		}
		line, err := readUvarint(r)
		if err != nil {
			return model.Scope{}, err
		}
		return model.LexicalLoopScope(resolveFile(res, fid), line), nil
	case model.ScopeBinaryLoop:
		mid, err := readUvarint(r)
		if err != nil {
			return model.Scope{}, err
		}
		off, err := readUvarint(r)
		if err != nil {
			return model.Scope{}, err
		}
		fid, err := readUvarint(r)
		if err != nil {
			return model.Scope{}, err
		}
		line, err := readUvarint(r)
		if err != nil {
			return model.Scope{}, err
		}
		return model.BinaryLoopScope(resolveModule(res, mid), off, resolveFile(res, fid), line), nil
	case model.ScopeLine:
		fid, err := readUvarint(r)
		if err != nil {
			return model.Scope{}, err
		}
		line, err := readUvarint(r)
		if err != nil {
			return model.Scope{}, err
		}
		return model.LineScope(resolveFile(res, fid), line), nil
	default:
		return model.Scope{}, fmt.Errorf("packed: unknown scope kind %d", kindByte)
	}
}

func decodeFunction(r *bytes.Reader, res Resolvers) (*model.Function, error) {
	mid, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	hasEntryByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	var entry uint64
	if hasEntryByte == 1 {
		entry, err = readUvarint(r)
		if err != nil {
			return nil, err
		}
	}
	fid, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	line, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	return &model.Function{
		Module:   resolveModule(res, mid),
		Name:     name,
		HasEntry: hasEntryByte == 1,
		Entry:    entry,
		File:     resolveFile(res, fid),
		Line:     line,
	}, nil
}

func resolveModule(res Resolvers, encoded uint64) *model.Module {
	if encoded == 0 || res.Modules == nil {
		return nil
	}
	return res.Modules.ModuleByID(int64(encoded) - 1)
}

func resolveFile(res Resolvers, encoded uint64) *model.File {
	if encoded == 0 || res.Files == nil {
		return nil
	}
	return res.Files.FileByID(int64(encoded) - 1)
}
