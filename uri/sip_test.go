package uri_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/signalpath/sipcore/uri"
)

func TestSIP_Render(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		uri  *uri.SIP
		want string
	}{
		{"nil", (*uri.SIP)(nil), ""},
		{"zero", &uri.SIP{}, "sip:"},
		{"host and port", &uri.SIP{Addr: uri.HostPort("example.com", 5060)}, "sip:example.com:5060"},
		{"secured", &uri.SIP{Secured: true, Addr: uri.HostPort("example.com", 5060)}, "sips:example.com:5060"},
		{
			"user",
			&uri.SIP{Addr: uri.Host("example.com"), User: uri.User("alice")},
			"sip:alice@example.com",
		},
		{
			"user with password",
			&uri.SIP{Addr: uri.Host("example.com"), User: uri.UserPassword("root", "passwd")},
			"sip:root:passwd@example.com",
		},
		{
			"uri params and headers",
			&uri.SIP{
				User: uri.User("root"),
				Addr: uri.Host("example.com"),
				Params: make(uri.Values).
					Append("transport", "UDP").
					Append("lr", ""),
				Headers: make(uri.Values).
					Append("priority", "emergency").
					Append("replaces", "abc"),
			},
			"sip:root@example.com;lr;transport=UDP?priority=emergency&replaces=abc",
		},
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

func TestSIP_RenderTo(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	u := &uri.SIP{Addr: uri.HostPort("example.com", 5060)}
	if _, err := u.RenderTo(&sb, nil); err != nil {
		t.Fatalf("uri.RenderTo(sb, nil) error = %v, want nil", err)
	}
	if got, want := sb.String(), "sip:example.com:5060"; got != want {
		t.Errorf("sb.String() = %q, want %q", got, want)
	}
}

func TestParseSIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		want    *uri.SIP
		wantErr bool
	}{
		{"empty", "", nil, true},
		{"not sip", "http://example.com", nil, true},
		{"host", "sip:example.com", &uri.SIP{Addr: uri.Host("example.com")}, false},
		{"host and port", "sip:example.com:5060", &uri.SIP{Addr: uri.HostPort("example.com", 5060)}, false},
		{"secured", "sips:example.com", &uri.SIP{Secured: true, Addr: uri.Host("example.com")}, false},
		{
			"user",
			"sip:alice@example.com",
			&uri.SIP{User: uri.User("alice"), Addr: uri.Host("example.com")},
			false,
		},
		{
			"user with password",
			"sip:root:passwd@example.com",
			&uri.SIP{User: uri.UserPassword("root", "passwd"), Addr: uri.Host("example.com")},
			false,
		},
		{
			"ipv6 host with port",
			"sip:[2001:db8::9:1]:5060",
			&uri.SIP{Addr: uri.HostPort("2001:db8::9:1", 5060)},
			false,
		},
		{
			"params and headers",
			"sip:alice@example.com;transport=tcp;lr?priority=emergency",
			&uri.SIP{
				User:    uri.User("alice"),
				Addr:    uri.Host("example.com"),
				Params:  make(uri.Values).Append("transport", "tcp").Append("lr", ""),
				Headers: make(uri.Values).Append("priority", "emergency"),
			},
			false,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			got, err := uri.ParseSIP(c.in)
			if c.wantErr {
				if err == nil {
					t.Fatalf("uri.ParseSIP(%q) error = nil, want error", c.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("uri.ParseSIP(%q) error = %v, want nil", c.in, err)
			}
			if !got.Equal(c.want) {
				t.Errorf("uri.ParseSIP(%q) = %+v, want %+v", c.in, got, c.want)
			}
		})
	}
}

func TestSIP_RoundTripText(t *testing.T) {
	t.Parallel()

	cases := []string{
		"sip:example.com",
		"sips:alice@example.com:5061",
		"sip:alice@example.com;transport=tcp?priority=emergency",
	}

	for _, in := range cases {
		t.Run(in, func(t *testing.T) {
			t.Parallel()

			u, err := uri.ParseSIP(in)
			if err != nil {
				t.Fatalf("uri.ParseSIP(%q) error = %v, want nil", in, err)
			}

			text, err := u.MarshalText()
			if err != nil {
				t.Fatalf("u.MarshalText() error = %v, want nil", err)
			}

			var got uri.SIP
			if err := got.UnmarshalText(text); err != nil {
				t.Fatalf("got.UnmarshalText(%q) error = %v, want nil", text, err)
			}
			if !got.Equal(u) {
				t.Errorf("round-trip mismatch: got %+v, want %+v", &got, u)
			}
		})
	}
}

func TestSIP_Equal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		u1   *uri.SIP
		val  any
		want bool
	}{
		{"nil vs nil ptr", (*uri.SIP)(nil), (*uri.SIP)(nil), true},
		{"nil vs value", (*uri.SIP)(nil), uri.SIP{}, false},
		{"not a URI", &uri.SIP{}, 42, false},
		{
			"case-insensitive host",
			&uri.SIP{User: uri.User("alice"), Addr: uri.Host("example.com")},
			&uri.SIP{User: uri.User("alice"), Addr: uri.Host("EXAMPLE.COM")},
			true,
		},
		{
			"scheme mismatch",
			&uri.SIP{Addr: uri.Host("example.com")},
			&uri.SIP{Secured: true, Addr: uri.Host("example.com")},
			false,
		},
		{
			"special param in one side only",
			&uri.SIP{Addr: uri.Host("example.com"), Params: make(uri.Values).Set("transport", "tcp")},
			&uri.SIP{Addr: uri.Host("example.com")},
			false,
		},
		{
			"non-special param in one side only",
			&uri.SIP{Addr: uri.Host("example.com"), Params: make(uri.Values).Set("foo", "bar")},
			&uri.SIP{Addr: uri.Host("example.com")},
			true,
		},
		{
			"param value mismatch",
			&uri.SIP{Addr: uri.Host("example.com"), Params: make(uri.Values).Set("transport", "tcp")},
			&uri.SIP{Addr: uri.Host("example.com"), Params: make(uri.Values).Set("transport", "udp")},
			false,
		},
		{
			"headers must match",
			&uri.SIP{Addr: uri.Host("example.com"), Headers: make(uri.Values).Set("priority", "emergency")},
			&uri.SIP{Addr: uri.Host("example.com")},
			false,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			if got := c.u1.Equal(c.val); got != c.want {
				t.Errorf("u1.Equal(val) = %v, want %v", got, c.want)
			}
		})
	}
}

func TestSIP_Accessors(t *testing.T) {
	t.Parallel()

	u, err := uri.ParseSIP("sip:alice@example.com;transport=tcp;method=INVITE;maddr=239.255.255.1;ttl=15;lr")
	if err != nil {
		t.Fatalf("uri.ParseSIP() error = %v, want nil", err)
	}

	if tp, ok := u.Transport(); !ok || tp != "tcp" {
		t.Errorf("u.Transport() = (%q, %v), want (\"tcp\", true)", tp, ok)
	}
	if mtd, ok := u.Method(); !ok || mtd != "INVITE" {
		t.Errorf("u.Method() = (%q, %v), want (\"INVITE\", true)", mtd, ok)
	}
	if maddr, ok := u.MAddr(); !ok || maddr != "239.255.255.1" {
		t.Errorf("u.MAddr() = (%q, %v), want (\"239.255.255.1\", true)", maddr, ok)
	}
	if ttl, ok := u.TTL(); !ok || ttl != 15 {
		t.Errorf("u.TTL() = (%d, %v), want (15, true)", ttl, ok)
	}
	if !u.LR() {
		t.Error("u.LR() = false, want true")
	}
}

func TestSIP_Clone(t *testing.T) {
	t.Parallel()

	u := &uri.SIP{
		User:   uri.User("alice"),
		Addr:   uri.HostPort("example.com", 5060),
		Params: make(uri.Values).Set("transport", "tcp"),
	}

	got, ok := u.Clone().(*uri.SIP)
	if !ok {
		t.Fatalf("u.Clone() type = %T, want *uri.SIP", u.Clone())
	}
	if !got.Equal(u) {
		t.Fatalf("u.Clone() = %+v, want %+v", got, u)
	}

	got.Params.Set("transport", "udp")
	if diff := cmp.Diff(u.Params, make(uri.Values).Set("transport", "tcp")); diff != "" {
		t.Errorf("clone mutation leaked into original\ndiff (-got +want):\n%v", diff)
	}
}
