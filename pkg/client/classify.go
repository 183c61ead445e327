package client

import "slices"

// DropKind is what a drag-and-drop payload should be uploaded as.
type DropKind int

const (
	DropUnknown DropKind = iota
	DropFiles
	DropText
)

func (k DropKind) String() string {
	switch k {
	case DropFiles:
		return "files"
	case DropText:
		return "text"
	default:
		return "unknown"
	}
}

// Classify picks the upload kind from the data transfer types of a drop.
// Files win wherever they appear in the list, including first.
func Classify(types []string) DropKind {
	switch {
	case slices.Contains(types, "Files"):
		return DropFiles
	case slices.Contains(types, "text/plain"):
		return DropText
	default:
		return DropUnknown
	}
}
