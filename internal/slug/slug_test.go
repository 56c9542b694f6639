package slug

import "testing"

func TestMake(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Family Chat", "family-chat"},
		{"  Weird!! Name__here  ", "weird-name-here"},
		{"---", ""},
		{"Ünïcödé Group", "ncd-group"},
	}
	for _, c := range cases {
		if got := Make(c.in); got != c.want {
			t.Errorf("Make(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMakeIdempotent(t *testing.T) {
	inputs := []string{"Family Chat", "already-a-slug", "Mixed_Case 123!!!", ""}
	for _, in := range inputs {
		s1 := Make(in)
		s2 := Make(s1)
		if s1 != s2 {
			t.Errorf("Make not idempotent for %q: %q != %q", in, s1, s2)
		}
	}
}

func TestMakeOnlyAllowedChars(t *testing.T) {
	allowed := regexpMustAllowed()
	out := Make("Hello, World! @#$%^&*()_+ 2026")
	for _, r := range out {
		if !allowed(r) {
			t.Errorf("Make produced disallowed rune %q in %q", r, out)
		}
	}
}

func regexpMustAllowed() func(rune) bool {
	return func(r rune) bool {
		return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-'
	}
}

func TestMakeTruncatesTo50(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	got := Make(long)
	if len(got) > 50 {
		t.Errorf("Make did not truncate: len=%d", len(got))
	}
}
