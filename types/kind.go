package types

import "fmt"

// Kind categorizes the content of an import request.
type Kind int

const (
	// KindUnknown for unrecognized content
	KindUnknown Kind = iota
	// KindBlob for file content
	KindBlob
	// KindTree for directory listings
	KindTree
)

func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindTree:
		return "tree"
	}
	return "unknown"
}

// MarshalText converts the kind to the text used in serialized trees.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText converts text from a serialized tree back to a kind.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "blob":
		*k = KindBlob
	case "tree":
		*k = KindTree
	case "unknown":
		*k = KindUnknown
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrParsingFailed, string(b))
	}
	return nil
}
