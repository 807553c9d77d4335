package uri_test

import (
	"net/url"
	"testing"

	"github.com/signalpath/sipcore/uri"
)

func TestAny_Render(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		uri  *uri.Any
		want string
	}{
		{"nil", (*uri.Any)(nil), ""},
		{"empty", &uri.Any{}, ""},
		{"scheme and host", &uri.Any{URL: url.URL{Scheme: "http", Host: "example.com"}}, "http://example.com"},
		{"scheme and opaque", &uri.Any{URL: url.URL{Scheme: "mailto", Opaque: "bob@example.com"}}, "mailto:bob@example.com"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			if got := c.uri.Render(nil); got != c.want {
				t.Errorf("uri.Render(nil) = %q, want %q", got, c.want)
			}
		})
	}
}

func TestParseAny(t *testing.T) {
	t.Parallel()

	if _, err := uri.ParseAny(""); err == nil {
		t.Fatal("uri.ParseAny(\"\") error = nil, want error")
	}

	u, err := uri.ParseAny("http://example.com/path?k=v")
	if err != nil {
		t.Fatalf("uri.ParseAny() error = %v, want nil", err)
	}
	if got, want := u.Scheme(), "http"; got != want {
		t.Errorf("u.Scheme() = %q, want %q", got, want)
	}
	if !u.IsValid() {
		t.Error("u.IsValid() = false, want true")
	}
}

func TestAny_Equal(t *testing.T) {
	t.Parallel()

	u1 := &uri.Any{URL: url.URL{Scheme: "http", Host: "example.com"}}
	u2 := &uri.Any{URL: url.URL{Scheme: "HTTP", Host: "EXAMPLE.COM"}}

	if !u1.Equal(u2) {
		t.Errorf("u1.Equal(u2) = false, want true")
	}
	if u1.Equal(&uri.Any{URL: url.URL{Scheme: "http", Host: "other.com"}}) {
		t.Errorf("u1.Equal(other) = true, want false")
	}
	if u1.Equal(42) {
		t.Errorf("u1.Equal(42) = true, want false")
	}
}
