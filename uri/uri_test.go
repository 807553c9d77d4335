package uri_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/signalpath/sipcore/uri"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		input      string
		wantScheme string
		wantAddr   string
	}{
		{"sip", "sip:alice@example.com:5060", "sip", "example.com:5060"},
		{"sips", "sips:bob@example.com", "sips", "example.com"},
		{"http", "http://localhost/abc", "http", "localhost/abc"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			u, err := uri.Parse(c.input)
			if err != nil {
				t.Fatalf("uri.Parse(%q) error = %v, want nil", c.input, err)
			}
			if got := uri.GetScheme(u); got != c.wantScheme {
				t.Errorf("uri.GetScheme(u) = %q, want %q", got, c.wantScheme)
			}
			if got := uri.GetAddr(u); got != c.wantAddr {
				t.Errorf("uri.GetAddr(u) = %q, want %q", got, c.wantAddr)
			}
		})
	}
}

func TestGetParams(t *testing.T) {
	t.Parallel()

	u, err := uri.Parse("sip:alice@example.com;transport=tcp")
	if err != nil {
		t.Fatalf("uri.Parse() error = %v, want nil", err)
	}

	want := make(uri.Values).Set("transport", "tcp")
	if diff := cmp.Diff(uri.GetParams(u), want); diff != "" {
		t.Errorf("uri.GetParams(u) mismatch\ndiff (-got +want):\n%v", diff)
	}

	if got := uri.GetParams(nil); got != nil {
		t.Errorf("uri.GetParams(nil) = %v, want nil", got)
	}
}
