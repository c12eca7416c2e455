package packed

// ModuleRef/FileRef are one Module/File's references-section projection: the
// canonical path it was interned by and its Finalizer-resolved path.
type ModuleRef struct {
	Path    string
	RelPath string
}

type FileRef struct {
	Path    string
	RelPath string
}

// ReferencesPayload is the full "references" section.
type ReferencesPayload struct {
	Modules []ModuleRef
	Files   []FileRef
}

// EncodeReferences Avro-encodes p, mirroring EncodeAttributes.
func EncodeReferences(p ReferencesPayload) ([]byte, error) {
	modules := make([]interface{}, 0, len(p.Modules))
	for _, m := range p.Modules {
		modules = append(modules, map[string]interface{}{
			"path":    m.Path,
			"relPath": m.RelPath,
		})
	}
	files := make([]interface{}, 0, len(p.Files))
	for _, f := range p.Files {
		files = append(files, map[string]interface{}{
			"path":    f.Path,
			"relPath": f.RelPath,
		})
	}
	native := map[string]interface{}{
		"modules": modules,
		"files":   files,
	}
	return referencesCodec.BinaryFromNative(nil, native)
}

// DecodeReferences is the inverse of EncodeReferences.
func DecodeReferences(blob []byte) (ReferencesPayload, error) {
	native, _, err := referencesCodec.NativeFromBinary(blob)
	if err != nil {
		return ReferencesPayload{}, err
	}
	rec := native.(map[string]interface{})

	var p ReferencesPayload
	for _, raw := range rec["modules"].([]interface{}) {
		m := raw.(map[string]interface{})
		p.Modules = append(p.Modules, ModuleRef{Path: m["path"].(string), RelPath: m["relPath"].(string)})
	}
	for _, raw := range rec["files"].([]interface{}) {
		f := raw.(map[string]interface{})
		p.Files = append(p.Files, FileRef{Path: f["path"].(string), RelPath: f["relPath"].(string)})
	}
	return p, nil
}
