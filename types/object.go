package types

import (
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Object is one imported unit of content, a file blob or a serialized tree.
type Object struct {
	Kind Kind          `json:"kind"`
	Hash digest.Digest `json:"hash"`
	Data []byte        `json:"data"`
}

// Tree is the decoded payload of a KindTree object.
type Tree struct {
	Entries []TreeEntry `json:"entries"`
}

// TreeEntry names one child of a tree. The proxy reference allows the child
// to be imported later from its hash alone.
type TreeEntry struct {
	Name  string        `json:"name"`
	Kind  Kind          `json:"kind"`
	Hash  digest.Digest `json:"hash"`
	Proxy ProxyRef      `json:"proxy"`
}

// ParseTree decodes the payload of a tree object.
func ParseTree(obj Object) (*Tree, error) {
	if obj.Kind != KindTree {
		return nil, fmt.Errorf("%w: cannot parse %s object %s as a tree", ErrKindMismatch, obj.Kind, obj.Hash)
	}
	t := Tree{}
	err := json.Unmarshal(obj.Data, &t)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tree %s: %w", obj.Hash, ErrParsingFailed)
	}
	return &t, nil
}

// Marshal encodes the tree for storage as object data.
func (t *Tree) Marshal() ([]byte, error) {
	return json.Marshal(t)
}
