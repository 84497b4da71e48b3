package proxy

import (
	"net/http"
	"testing"
)

func TestFirstNonEmpty(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{[]string{"", "", "c"}, "c"},
		{[]string{"a", "b"}, "a"},
		{[]string{"", ""}, ""},
		{nil, ""},
	}
	for _, c := range cases {
		if got := firstNonEmpty(c.in...); got != c.want {
			t.Errorf("firstNonEmpty(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCopyHeaderAppends(t *testing.T) {
	src := http.Header{}
	src.Add("X-Foo", "one")
	src.Add("X-Foo", "two")
	src.Set("X-Bar", "bar")

	dst := http.Header{}
	dst.Set("X-Foo", "existing")

	copyHeader(dst, src)

	got := dst.Values("X-Foo")
	want := []string{"existing", "one", "two"}
	if len(got) != len(want) {
		t.Fatalf("X-Foo values = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("X-Foo values = %v, want %v", got, want)
		}
	}
	if dst.Get("X-Bar") != "bar" {
		t.Fatalf("X-Bar = %q", dst.Get("X-Bar"))
	}
}
