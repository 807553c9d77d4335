package header_test

import (
	"testing"
	"time"

	"github.com/signalpath/sipcore/header"
)

func TestEvent_Render(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		hdr  *header.Event
		opts *header.RenderOptions
		want string
	}{
		{"nil", nil, nil, ""},
		{"plain", &header.Event{Type: "presence"}, nil, "Event: presence"},
		{
			"with id",
			&header.Event{Type: "dialog", Params: header.Values{}.Set("id", "42")},
			nil,
			"Event: dialog;id=42",
		},
		{"compact", &header.Event{Type: "presence"}, &header.RenderOptions{Compact: true}, "o: presence"},
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

func TestEvent_Parse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		want    *header.Event
		wantErr bool
	}{
		{"empty type", "Event: ;id=1", nil, true},
		{"plain", "Event: presence", &header.Event{Type: "presence"}, false},
		{
			"with id",
			"o: dialog;id=42",
			&header.Event{Type: "dialog", Params: header.Values{}.Set("id", "42")},
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
			if !got.Equal(c.want) {
				t.Errorf("Parse(%q) = %+v, want %+v", c.in, got, c.want)
			}
		})
	}
}

func TestEvent_Equal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		hdr  *header.Event
		val  any
		want bool
	}{
		{"case-insensitive type", &header.Event{Type: "presence"}, &header.Event{Type: "PRESENCE"}, true},
		{
			"id must match",
			&header.Event{Type: "dialog", Params: header.Values{}.Set("id", "1")},
			&header.Event{Type: "dialog", Params: header.Values{}.Set("id", "2")},
			false,
		},
		{
			"id on one side only",
			&header.Event{Type: "dialog", Params: header.Values{}.Set("id", "1")},
			&header.Event{Type: "dialog"},
			false,
		},
		{"different type", &header.Event{Type: "presence"}, "presence", false},
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

func TestSubscriptionState_Parse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		want    *header.SubscriptionState
		wantErr bool
	}{
		{"empty", "Subscription-State: ", nil, true},
		{
			"active with expires",
			"Subscription-State: active;expires=3600",
			&header.SubscriptionState{
				State:  header.SubStateActive,
				Params: header.Values{}.Set("expires", "3600"),
			},
			false,
		},
		{
			"mixed case state",
			"Subscription-State: Terminated;reason=timeout",
			&header.SubscriptionState{
				State:  header.SubStateTerminated,
				Params: header.Values{}.Set("reason", header.SubReasonTimeout),
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
			if !got.Equal(c.want) {
				t.Errorf("Parse(%q) = %+v, want %+v", c.in, got, c.want)
			}
		})
	}
}

func TestSubscriptionState_Accessors(t *testing.T) {
	t.Parallel()

	hdr := &header.SubscriptionState{
		State: header.SubStateTerminated,
		Params: header.Values{}.
			Set("reason", header.SubReasonProbation).
			Set("retry-after", "120"),
	}

	if !hdr.IsTerminated() {
		t.Error("hdr.IsTerminated() = false, want true")
	}
	if hdr.IsActive() || hdr.IsPending() {
		t.Error("hdr.IsActive() or hdr.IsPending() = true, want false")
	}
	if got, ok := hdr.Reason(); !ok || got != header.SubReasonProbation {
		t.Errorf("hdr.Reason() = %q, %v, want %q, true", got, ok, header.SubReasonProbation)
	}
	if got, ok := hdr.RetryAfter(); !ok || got != 2*time.Minute {
		t.Errorf("hdr.RetryAfter() = %v, %v, want 2m0s, true", got, ok)
	}
	if _, ok := hdr.Expires(); ok {
		t.Error("hdr.Expires() ok = true, want false")
	}

	active := &header.SubscriptionState{
		State:  header.SubStateActive,
		Params: header.Values{}.Set("expires", "3600"),
	}
	if got, ok := active.Expires(); !ok || got != time.Hour {
		t.Errorf("active.Expires() = %v, %v, want 1h0m0s, true", got, ok)
	}
}
