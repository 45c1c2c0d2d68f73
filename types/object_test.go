package types

import (
	"errors"
	"testing"
)

func TestParseTree(t *testing.T) {
	t.Parallel()
	childBlob := ProxyRef{Path: "docs/readme.md", Rev: "abc123"}
	childTree := ProxyRef{Path: "docs/img", Rev: "abc123"}
	src := Tree{
		Entries: []TreeEntry{
			{Name: "readme.md", Kind: KindBlob, Hash: childBlob.ContentHash(), Proxy: childBlob},
			{Name: "img", Kind: KindTree, Hash: childTree.ContentHash(), Proxy: childTree},
		},
	}
	data, err := src.Marshal()
	if err != nil {
		t.Fatalf("failed to marshal tree: %v", err)
	}
	root := ProxyRef{Path: "docs", Rev: "abc123"}
	tree, err := ParseTree(Object{Kind: KindTree, Hash: root.ContentHash(), Data: data})
	if err != nil {
		t.Fatalf("failed to parse tree: %v", err)
	}
	if len(tree.Entries) != 2 {
		t.Fatalf("entry count mismatch, expected 2, received %d", len(tree.Entries))
	}
	if tree.Entries[0].Name != "readme.md" || tree.Entries[0].Kind != KindBlob {
		t.Errorf("unexpected first entry: %v", tree.Entries[0])
	}
	if tree.Entries[1].Proxy != childTree {
		t.Errorf("proxy reference mismatch, expected %s, received %s", childTree, tree.Entries[1].Proxy)
	}
}

func TestParseTreeErrors(t *testing.T) {
	t.Parallel()
	blobProxy := ProxyRef{Path: "a.txt", Rev: "abc123"}
	_, err := ParseTree(Object{Kind: KindBlob, Hash: blobProxy.ContentHash(), Data: []byte("hello")})
	if err == nil {
		t.Errorf("parsing a blob as a tree did not fail")
	} else if !errors.Is(err, ErrKindMismatch) {
		t.Errorf("unexpected error, expected %v, received %v", ErrKindMismatch, err)
	}
	treeProxy := ProxyRef{Path: "dir", Rev: "abc123"}
	_, err = ParseTree(Object{Kind: KindTree, Hash: treeProxy.ContentHash(), Data: []byte("not json")})
	if err == nil {
		t.Errorf("parsing invalid payload did not fail")
	} else if !errors.Is(err, ErrParsingFailed) {
		t.Errorf("unexpected error, expected %v, received %v", ErrParsingFailed, err)
	}
}
