package types

import (
	"errors"
	"testing"
)

func TestKindString(t *testing.T) {
	t.Parallel()
	tt := []struct {
		name   string
		kind   Kind
		expect string
	}{
		{
			name:   "blob",
			kind:   KindBlob,
			expect: "blob",
		},
		{
			name:   "tree",
			kind:   KindTree,
			expect: "tree",
		},
		{
			name:   "unknown",
			kind:   KindUnknown,
			expect: "unknown",
		},
		{
			name:   "out of range",
			kind:   Kind(42),
			expect: "unknown",
		},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			if tc.kind.String() != tc.expect {
				t.Errorf("string mismatch, expected %s, received %s", tc.expect, tc.kind.String())
			}
		})
	}
}

func TestKindMarshal(t *testing.T) {
	t.Parallel()
	for _, kind := range []Kind{KindBlob, KindTree, KindUnknown} {
		b, err := kind.MarshalText()
		if err != nil {
			t.Errorf("failed to marshal %s: %v", kind, err)
			continue
		}
		var out Kind
		err = out.UnmarshalText(b)
		if err != nil {
			t.Errorf("failed to unmarshal %s: %v", b, err)
			continue
		}
		if out != kind {
			t.Errorf("kind changed in roundtrip, expected %s, received %s", kind, out)
		}
	}
	var out Kind
	err := out.UnmarshalText([]byte("commit"))
	if err == nil {
		t.Errorf("unmarshal of unknown kind did not fail")
	} else if !errors.Is(err, ErrParsingFailed) {
		t.Errorf("unexpected error, expected %v, received %v", ErrParsingFailed, err)
	}
}
