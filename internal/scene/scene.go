// Package scene is the boundary to the collaborative scene editor. The
// coordination layer treats scene content as opaque bytes; only the editor
// side knows how to merge or interpret a document.
package scene

// DocumentSource produces a serialized scene document plus the revision
// token identifying that exact serialization. Revisions are opaque: equal
// means same document, nothing more.
type DocumentSource interface {
	Serialize() ([]byte, error)
	Revision() string
}

// StaticDocument is a DocumentSource over already-serialized bytes, used
// when the document arrives over the wire rather than from a live editor.
type StaticDocument struct {
	Bytes []byte
	Rev   string
}

func (d StaticDocument) Serialize() ([]byte, error) {
	return d.Bytes, nil
}

func (d StaticDocument) Revision() string {
	return d.Rev
}
