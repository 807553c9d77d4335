package header_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/signalpath/sipcore/header"
	"github.com/signalpath/sipcore/uri"
)

func TestFrom_Parse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		want    *header.From
		wantErr bool
	}{
		{"empty value", "From: ", nil, true},
		{
			"name-addr with tag",
			`From: "Alice" <sip:alice@atlanta.com>;tag=1928301774`,
			&header.From{
				DisplayName: "Alice",
				URI: &uri.SIP{
					User: uri.User("alice"),
					Addr: header.Host("atlanta.com"),
				},
				Params: header.Values{}.Set("tag", "1928301774"),
			},
			false,
		},
		{
			"unquoted display name",
			"From: Bob <sip:bob@biloxi.com>",
			&header.From{
				DisplayName: "Bob",
				URI: &uri.SIP{
					User: uri.User("bob"),
					Addr: header.Host("biloxi.com"),
				},
			},
			false,
		},
		{
			"addr-spec without brackets",
			"f: sip:carol@chicago.com;tag=abc",
			&header.From{
				URI: &uri.SIP{
					User: uri.User("carol"),
					Addr: header.Host("chicago.com"),
				},
				Params: header.Values{}.Set("tag", "abc"),
			},
			false,
		},
		{
			"uri params stay inside brackets",
			"From: <sip:dave@example.com;transport=tcp>;tag=xyz",
			&header.From{
				URI: &uri.SIP{
					User:   uri.User("dave"),
					Addr:   header.Host("example.com"),
					Params: header.Values{}.Set("transport", "tcp"),
				},
				Params: header.Values{}.Set("tag", "xyz"),
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

func TestTo_Render(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		hdr  *header.To
		opts *header.RenderOptions
		want string
	}{
		{"nil", nil, nil, ""},
		{
			"with display name and tag",
			&header.To{
				DisplayName: "Bob",
				URI: &uri.SIP{
					User: uri.User("bob"),
					Addr: header.Host("biloxi.com"),
				},
				Params: header.Values{}.Set("tag", "a6c85cf"),
			},
			nil,
			`To: "Bob" <sip:bob@biloxi.com>;tag=a6c85cf`,
		},
		{
			"compact",
			&header.To{
				URI: &uri.SIP{
					User: uri.User("bob"),
					Addr: header.Host("biloxi.com"),
				},
			},
			&header.RenderOptions{Compact: true},
			"t: <sip:bob@biloxi.com>",
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

func TestFrom_Tag(t *testing.T) {
	t.Parallel()

	hdr := &header.From{
		URI:    &uri.SIP{User: uri.User("alice"), Addr: header.Host("atlanta.com")},
		Params: header.Values{}.Set("tag", "1928301774"),
	}
	if got, ok := hdr.Tag(); !ok || got != "1928301774" {
		t.Errorf("hdr.Tag() = %q, %v, want %q, true", got, ok, "1928301774")
	}

	noTag := &header.From{URI: &uri.SIP{Addr: header.Host("atlanta.com")}}
	if _, ok := noTag.Tag(); ok {
		t.Error("noTag.Tag() ok = true, want false")
	}
}

func TestTo_Equal(t *testing.T) {
	t.Parallel()

	hdr := &header.To{
		DisplayName: "Bob",
		URI:         &uri.SIP{User: uri.User("bob"), Addr: header.Host("biloxi.com")},
		Params:      header.Values{}.Set("tag", "a6c85cf"),
	}

	cases := []struct {
		name string
		val  any
		want bool
	}{
		{"same", hdr.Clone(), true},
		{"display name ignored", &header.To{
			URI:    &uri.SIP{User: uri.User("bob"), Addr: header.Host("biloxi.com")},
			Params: header.Values{}.Set("tag", "a6c85cf"),
		}, true},
		{"tag mismatch", &header.To{
			URI:    &uri.SIP{User: uri.User("bob"), Addr: header.Host("biloxi.com")},
			Params: header.Values{}.Set("tag", "other"),
		}, false},
		{"uri mismatch", &header.To{
			URI:    &uri.SIP{User: uri.User("alice"), Addr: header.Host("biloxi.com")},
			Params: header.Values{}.Set("tag", "a6c85cf"),
		}, false},
		{"different type", &header.From{}, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			if got := hdr.Equal(c.val); got != c.want {
				t.Errorf("hdr.Equal(val) = %v, want %v", got, c.want)
			}
		})
	}
}
