package header_test

import (
	"testing"

	"github.com/signalpath/sipcore/header"
)

func TestCSeq_Render(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		hdr  *header.CSeq
		want string
	}{
		{"nil", nil, ""},
		{"invite", &header.CSeq{SeqNum: 4711, Method: "INVITE"}, "CSeq: 4711 INVITE"},
		{"zero", &header.CSeq{}, "CSeq: 0 "},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			if got := c.hdr.Render(nil); got != c.want {
				t.Errorf("hdr.Render(nil) = %q, want %q", got, c.want)
			}
		})
	}
}

func TestCSeq_Parse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		want    *header.CSeq
		wantErr bool
	}{
		{"missing method", "CSeq: 1", nil, true},
		{"not a number", "CSeq: one INVITE", nil, true},
		{"negative", "CSeq: -1 INVITE", nil, true},
		{"valid", "CSeq: 4711 INVITE", &header.CSeq{SeqNum: 4711, Method: "INVITE"}, false},
		{"lowercase method", "cseq: 1 register", &header.CSeq{SeqNum: 1, Method: "REGISTER"}, false},
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

func TestCSeq_IsValid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		hdr  *header.CSeq
		want bool
	}{
		{"nil", nil, false},
		{"zero seqnum", &header.CSeq{Method: "INVITE"}, false},
		{"empty method", &header.CSeq{SeqNum: 1}, false},
		{"valid", &header.CSeq{SeqNum: 1, Method: "INVITE"}, true},
		{"at bound", &header.CSeq{SeqNum: header.MaxCSeqNum, Method: "BYE"}, true},
		{"over bound", &header.CSeq{SeqNum: header.MaxCSeqNum + 1, Method: "BYE"}, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			if got := c.hdr.IsValid(); got != c.want {
				t.Errorf("hdr.IsValid() = %v, want %v", got, c.want)
			}
		})
	}
}
