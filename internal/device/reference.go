package device

import (
	"github.com/google/uuid"
)

type referenceKind uint8

const (
	byName referenceKind = iota + 1
	byHandle
)

// Reference identifies a device either by its advertised name or by the
// handle of its channel. The zero Reference resolves to nothing.
type Reference struct {
	kind   referenceKind
	name   string
	handle uuid.UUID
}

// ByName refers to the device registered under name.
func ByName(name string) Reference {
	return Reference{kind: byName, name: name}
}

// ByHandle refers to the device whose channel has the given ID.
func ByHandle(id uuid.UUID) Reference {
	return Reference{kind: byHandle, handle: id}
}

// Name returns the name and true for a by-name reference.
func (r Reference) Name() (string, bool) {
	return r.name, r.kind == byName
}

// Handle returns the channel ID and true for a by-handle reference.
func (r Reference) Handle() (uuid.UUID, bool) {
	return r.handle, r.kind == byHandle
}

func (r Reference) String() string {
	switch r.kind {
	case byName:
		return "name:" + r.name
	case byHandle:
		return "handle:" + r.handle.String()
	default:
		return "none"
	}
}
