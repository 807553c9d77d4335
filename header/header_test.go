package header_test

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/signalpath/sipcore/header"
	"github.com/signalpath/sipcore/uri"
)

var cmpOpts = []cmp.Option{
	cmp.AllowUnexported(header.Addr{}, uri.SIP{}, uri.UserInfo{}),
	cmp.Comparer(func(a1, a2 netip.Addr) bool { return a1 == a2 }),
}

func TestCanonicName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want header.Name
	}{
		{"canonical", "Content-Type", "Content-Type"},
		{"lower", "content-type", "Content-Type"},
		{"upper", "CONTENT-TYPE", "Content-Type"},
		{"compact content-type", "c", "Content-Type"},
		{"compact via", "v", "Via"},
		{"compact from", "f", "From"},
		{"compact event", "o", "Event"},
		{"call-id", "call-id", "Call-ID"},
		{"cseq", "cseq", "CSeq"},
		{"www-authenticate", "www-authenticate", "WWW-Authenticate"},
		{"subscription-state", "subscription-state", "Subscription-State"},
		{"unknown", "x-custom-header", "X-Custom-Header"},
		{"spaces", "  To  ", "To"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			if got := header.CanonicName(c.in); got != c.want {
				t.Errorf("CanonicName(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		want    header.Header
		wantErr bool
	}{
		{"empty", "", nil, true},
		{"no colon", "Call-ID", nil, true},
		{"call-id", "Call-ID: abc123@host", header.CallID("abc123@host"), false},
		{"call-id compact", "i: abc123@host", header.CallID("abc123@host"), false},
		{"cseq", "CSeq: 4711 INVITE", &header.CSeq{SeqNum: 4711, Method: "INVITE"}, false},
		{"max-forwards", "Max-Forwards: 70", header.MaxForwards(70), false},
		{"expires", "Expires: 3600", header.Expires(3600), false},
		{"content-length", "l: 142", header.ContentLength(142), false},
		{"content-type", "c: application/sdp", header.ContentType("application/sdp"), false},
		{
			"via",
			"v: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKabc",
			header.Via{{
				Proto:     header.ProtoInfo{Name: "SIP", Version: "2.0"},
				Transport: "UDP",
				Addr:      header.HostPort("10.0.0.1", 5060),
				Params:    header.Values{}.Set("branch", "z9hG4bKabc"),
			}},
			false,
		},
		{
			"allow",
			"Allow: INVITE, ACK, BYE",
			header.Allow{"INVITE", "ACK", "BYE"},
			false,
		},
		{
			"supported",
			"k: replaces, timer",
			header.Supported{"replaces", "timer"},
			false,
		},
		{
			"event",
			"Event: presence;id=42",
			&header.Event{Type: "presence", Params: header.Values{}.Set("id", "42")},
			false,
		},
		{
			"subscription-state",
			"Subscription-State: active;expires=600",
			&header.SubscriptionState{State: "active", Params: header.Values{}.Set("expires", "600")},
			false,
		},
		{
			"unknown header",
			"X-Custom: some value",
			&header.Any{Name: "X-Custom", Value: "some value"},
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
				t.Errorf("Parse(%q) = %+v, want %+v\ndiff (-got +want):\n%v", c.in, got, c.want, diff)
			}
		})
	}
}

func TestParse_CustomParser(t *testing.T) {
	header.RegisterParser("x-session-id", func(name, value string) header.Header {
		return &header.Any{Name: "X-Session-ID", Value: "custom:" + value}
	})
	defer header.UnregisterParser("x-session-id")

	got, err := header.Parse("X-Session-ID: qwerty")
	if err != nil {
		t.Fatalf("Parse() error = %v, want nil", err)
	}

	want := &header.Any{Name: "X-Session-ID", Value: "custom:qwerty"}
	if diff := cmp.Diff(got, want, cmpOpts...); diff != "" {
		t.Errorf("Parse() = %+v, want %+v\ndiff (-got +want):\n%v", got, want, diff)
	}
}

func TestToJSON_FromJSON(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		hdr  header.Header
	}{
		{"call-id", header.CallID("abc123@host")},
		{"cseq", &header.CSeq{SeqNum: 1, Method: "INVITE"}},
		{
			"via",
			header.Via{{
				Proto:     header.ProtoInfo{Name: "SIP", Version: "2.0"},
				Transport: "TCP",
				Addr:      header.HostPort("proxy.example.com", 5061),
				Params:    header.Values{}.Set("branch", "z9hG4bKxyz"),
			}},
		},
		{
			"subscription-state",
			&header.SubscriptionState{
				State:  "terminated",
				Params: header.Values{}.Set("reason", "timeout"),
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			data, err := header.ToJSON(c.hdr)
			if err != nil {
				t.Fatalf("ToJSON() error = %v, want nil", err)
			}

			got, err := header.FromJSON(data)
			if err != nil {
				t.Fatalf("FromJSON() error = %v, want nil", err)
			}
			if !got.Equal(c.hdr) {
				t.Errorf("FromJSON(ToJSON(hdr)) = %+v, want equal to %+v", got, c.hdr)
			}
		})
	}
}
