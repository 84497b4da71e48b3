package codec

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []string{
		"https://ex.com/page",
		"https://ex.com/path?q=1&x=2",
		"http://example.org/",
		"https://ex.com/" + string(make([]byte, 0)),
	}
	for _, u := range cases {
		enc := Encode(u)
		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode(%q) failed: %v", enc, err)
		}
		if dec != u {
			t.Fatalf("round trip mismatch: got %q want %q", dec, u)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []string{
		"",
		"not-valid-base64-!!!!",
		Encode("/relative/path"),
		Encode("ftp://ex.com/file"),
	}
	for _, tok := range cases {
		if _, err := Decode(tok); err == nil {
			t.Fatalf("expected Decode(%q) to fail", tok)
		}
	}
}

func TestEncodeIsURLSafe(t *testing.T) {
	enc := Encode("https://ex.com/a/b?x=y&z=1+2 3")
	for _, c := range enc {
		if c == '+' || c == '/' || c == '=' {
			t.Fatalf("encoded token %q contains non-URL-safe char %q", enc, c)
		}
	}
}

func TestLooksLikeToken(t *testing.T) {
	good := Encode("https://ex.com/a/very/long/page/path/indeed")
	if !LooksLikeToken(good) {
		t.Fatalf("expected %q to look like a token", good)
	}
	bad := []string{"short", "style.css", "app.min.js"}
	for _, b := range bad {
		if LooksLikeToken(b) {
			t.Fatalf("did not expect %q to look like a token", b)
		}
	}
}

func TestStripExternalAlias(t *testing.T) {
	tok, alias := StripExternalAlias("/external/abc123")
	if !alias || tok != "abc123" {
		t.Fatalf("got (%q, %v)", tok, alias)
	}
	tok, alias = StripExternalAlias("/p/abc123")
	if alias || tok != "abc123" {
		t.Fatalf("got (%q, %v)", tok, alias)
	}
}

func TestResolveAgainstProtocolRelative(t *testing.T) {
	resolved, ok := ResolveAgainst("https://ex.com/page", "//cdn.ex.com/a.js")
	if !ok || resolved != "https://cdn.ex.com/a.js" {
		t.Fatalf("got (%q, %v)", resolved, ok)
	}
}

func TestResolveAgainstRelative(t *testing.T) {
	resolved, ok := ResolveAgainst("https://ex.com/dir/page", "../other")
	if !ok || resolved != "https://ex.com/other" {
		t.Fatalf("got (%q, %v)", resolved, ok)
	}
}
