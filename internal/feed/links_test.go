package feed

import "testing"

func TestExtractLinksResolvesRelativeHrefs(t *testing.T) {
	html := `<html><body>
		<a href="/x">x</a>
		<a href="http://other.com">other</a>
		<a HREF='y?z=1'>y</a>
	</body></html>`

	got := ExtractLinks(html, "http://example.com/page")
	want := []string{"http://example.com/x", "http://other.com", "http://example.com/y?z=1"}

	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExtractLinksIgnoresMalformedHTML(t *testing.T) {
	if got := ExtractLinks("no anchors here", "http://example.com"); len(got) != 0 {
		t.Fatalf("got %v, want no links", got)
	}
}

func TestSameHostComparesHostnameOnly(t *testing.T) {
	cases := []struct {
		parent, candidate string
		want              bool
	}{
		{"http://example.com/a", "http://example.com/b", true},
		{"http://example.com", "https://example.com/x", true},
		{"http://example.com", "http://other.com", false},
		{"http://example.com", "not a url", false},
	}
	for _, c := range cases {
		if got := SameHost(c.parent, c.candidate); got != c.want {
			t.Errorf("SameHost(%q, %q) = %v, want %v", c.parent, c.candidate, got, c.want)
		}
	}
}
