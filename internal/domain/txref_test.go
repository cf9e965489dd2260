package domain

import "testing"

func TestNormalizeRef(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"prefixed lowercase", "0x06ef51af", "06ef51af"},
		{"prefixed mixed case", "0x06EF51AF", "06ef51af"},
		{"uppercase prefix", "0X06ef51AF", "06ef51af"},
		{"bare mixed case", "06ef51AF", "06ef51af"},
		{"surrounding whitespace", "  0xAB  ", "ab"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeRef(tc.in); got != tc.want {
				t.Errorf("NormalizeRef(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestRefsEqual(t *testing.T) {
	// The on-chain ref and the stored metadata value diverge on prefix and
	// case; they still denote the same transaction.
	if !RefsEqual("0x06ef51af", "06ef51AF") {
		t.Error("prefixed lowercase and bare uppercase should match")
	}
	if !RefsEqual("0xAA", "aa") {
		t.Error("0xAA and aa should match")
	}
	if RefsEqual("0x06ef51af", "0x06ef51ab") {
		t.Error("different values must not match after normalization")
	}
	if RefsEqual("", "") {
		t.Error("empty refs must never match")
	}
	if RefsEqual("0x", "") {
		t.Error("prefix-only ref must never match")
	}
}
