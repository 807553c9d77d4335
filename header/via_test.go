package header_test

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/signalpath/sipcore/header"
)

func TestVia_Render(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		hdr  header.Via
		opts *header.RenderOptions
		want string
	}{
		{"nil", nil, nil, ""},
		{
			"single hop",
			header.Via{{
				Proto:     header.ProtoInfo{Name: "SIP", Version: "2.0"},
				Transport: "UDP",
				Addr:      header.HostPort("10.0.0.1", 5060),
				Params:    header.Values{}.Set("branch", "z9hG4bKabc"),
			}},
			nil,
			"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKabc",
		},
		{
			"compact",
			header.Via{{
				Proto:     header.ProtoInfo{Name: "SIP", Version: "2.0"},
				Transport: "TCP",
				Addr:      header.Host("proxy.example.com"),
			}},
			&header.RenderOptions{Compact: true},
			"v: SIP/2.0/TCP proxy.example.com",
		},
		{
			"multiple hops",
			header.Via{
				{
					Proto:     header.ProtoInfo{Name: "SIP", Version: "2.0"},
					Transport: "UDP",
					Addr:      header.HostPort("10.0.0.1", 5060),
					Params:    header.Values{}.Set("branch", "z9hG4bKabc"),
				},
				{
					Proto:     header.ProtoInfo{Name: "SIP", Version: "2.0"},
					Transport: "TCP",
					Addr:      header.HostPort("10.0.0.2", 5061),
					Params:    header.Values{}.Set("branch", "z9hG4bKdef").Set("received", "192.0.2.5"),
				},
			},
			nil,
			"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKabc, " +
				"SIP/2.0/TCP 10.0.0.2:5061;branch=z9hG4bKdef;received=192.0.2.5",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			if got := c.hdr.Render(c.opts); got != c.want {
				t.Errorf("hdr.Render(opts) = %q, want %q", got, c.want)
			}
		})
	}
}

func TestVia_Parse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		want    header.Via
		wantErr bool
	}{
		{"malformed", "Via: SIP/2.0", nil, true},
		{
			"single",
			"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKabc;rport",
			header.Via{{
				Proto:     header.ProtoInfo{Name: "SIP", Version: "2.0"},
				Transport: "UDP",
				Addr:      header.HostPort("10.0.0.1", 5060),
				Params:    header.Values{}.Set("branch", "z9hG4bKabc").Set("rport", ""),
			}},
			false,
		},
		{
			"lowercase transport",
			"Via: SIP/2.0/tcp example.com",
			header.Via{{
				Proto:     header.ProtoInfo{Name: "SIP", Version: "2.0"},
				Transport: "TCP",
				Addr:      header.Host("example.com"),
			}},
			false,
		},
		{
			"multiple",
			"Via: SIP/2.0/UDP a.example.com;branch=z9hG4bK1, SIP/2.0/UDP b.example.com;branch=z9hG4bK2",
			header.Via{
				{
					Proto:     header.ProtoInfo{Name: "SIP", Version: "2.0"},
					Transport: "UDP",
					Addr:      header.Host("a.example.com"),
					Params:    header.Values{}.Set("branch", "z9hG4bK1"),
				},
				{
					Proto:     header.ProtoInfo{Name: "SIP", Version: "2.0"},
					Transport: "UDP",
					Addr:      header.Host("b.example.com"),
					Params:    header.Values{}.Set("branch", "z9hG4bK2"),
				},
			},
			false,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			got, err := header.Parse(c.in)
			if gotErr := err != nil; gotErr != c.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", c.in, err, c.wantErr)
			}
			if err != nil {
				return
			}
			if diff := cmp.Diff(got, c.want, cmpOpts...); diff != "" {
				t.Errorf("Parse(%q) mismatch\ndiff (-got +want):\n%v", c.in, diff)
			}
		})
	}
}

func TestViaHop_Accessors(t *testing.T) {
	t.Parallel()

	hop := header.ViaHop{
		Proto:     header.ProtoInfo{Name: "SIP", Version: "2.0"},
		Transport: "UDP",
		Addr:      header.HostPort("10.0.0.1", 5060),
		Params: header.Values{}.
			Set("branch", "z9hG4bKabc").
			Set("received", "192.0.2.5").
			Set("rport", "12345").
			Set("maddr", "224.0.0.1").
			Set("ttl", "16"),
	}

	if got, ok := hop.Branch(); !ok || got != "z9hG4bKabc" {
		t.Errorf("hop.Branch() = %q, %v, want %q, true", got, ok, "z9hG4bKabc")
	}
	if got, ok := hop.Received(); !ok || got != netip.MustParseAddr("192.0.2.5") {
		t.Errorf("hop.Received() = %v, %v, want 192.0.2.5, true", got, ok)
	}
	if got, ok := hop.RPort(); !ok || got != 12345 {
		t.Errorf("hop.RPort() = %d, %v, want 12345, true", got, ok)
	}
	if got, ok := hop.MAddr(); !ok || got != "224.0.0.1" {
		t.Errorf("hop.MAddr() = %q, %v, want %q, true", got, ok, "224.0.0.1")
	}
	if got, ok := hop.TTL(); !ok || got != 16 {
		t.Errorf("hop.TTL() = %d, %v, want 16, true", got, ok)
	}

	var empty header.ViaHop
	if _, ok := empty.Branch(); ok {
		t.Error("empty.Branch() ok = true, want false")
	}
	if _, ok := empty.Received(); ok {
		t.Error("empty.Received() ok = true, want false")
	}
}

func TestVia_Equal(t *testing.T) {
	t.Parallel()

	hop1 := header.ViaHop{
		Proto:     header.ProtoInfo{Name: "SIP", Version: "2.0"},
		Transport: "UDP",
		Addr:      header.HostPort("10.0.0.1", 5060),
		Params:    header.Values{}.Set("branch", "z9hG4bKabc"),
	}
	hop2 := hop1.Clone()
	hop2.Params = header.Values{}.Set("branch", "z9hG4bKxyz")

	cases := []struct {
		name string
		hdr  header.Via
		val  any
		want bool
	}{
		{"nil to nil", nil, header.Via(nil), true},
		{"nil to non-via", nil, 42, false},
		{"equal single", header.Via{hop1}, header.Via{hop1.Clone()}, true},
		{"branch mismatch", header.Via{hop1}, header.Via{hop2}, false},
		{"length mismatch", header.Via{hop1}, header.Via{hop1, hop1}, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			if got := c.hdr.Equal(c.val); got != c.want {
				t.Errorf("hdr.Equal(val) = %v, want %v", got, c.want)
			}
		})
	}
}
