package sip_test

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/signalpath/sipcore/header"
	"github.com/signalpath/sipcore/sip"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	testLocAddr = netip.MustParseAddrPort("192.0.2.10:5060")
	testRmtAddr = netip.MustParseAddrPort("198.51.100.20:5060")
)

// testTimings shrinks the standard timers so a transaction runs its full
// lifecycle within a test. The 100 Trying timer is pushed far out so tests
// control every response themselves.
func testTimings() sip.TimingConfig {
	return sip.NewTimings(
		10*time.Millisecond,
		40*time.Millisecond,
		20*time.Millisecond,
		50*time.Millisecond,
		time.Hour,
	)
}

// testTimingsAuto100 keeps the shrunk timers but arms the automatic
// 100 Trying almost immediately.
func testTimingsAuto100() sip.TimingConfig {
	return sip.NewTimings(
		10*time.Millisecond,
		40*time.Millisecond,
		20*time.Millisecond,
		50*time.Millisecond,
		5*time.Millisecond,
	)
}

// testTransport captures everything sent through it on buffered channels.
type testTransport struct {
	reliable bool

	mu      sync.Mutex
	sendErr error

	reqs chan *sip.OutboundRequest
	ress chan *sip.OutboundResponse
}

func newTestTransport(reliable bool) *testTransport {
	return &testTransport{
		reliable: reliable,
		reqs:     make(chan *sip.OutboundRequest, 32),
		ress:     make(chan *sip.OutboundResponse, 32),
	}
}

func (tp *testTransport) Reliable() bool { return tp.reliable }

func (tp *testTransport) Proto() sip.TransportProto {
	if tp.reliable {
		return sip.TransportProtoTCP
	}
	return sip.TransportProtoUDP
}

func (tp *testTransport) SendRequest(_ context.Context, req *sip.OutboundRequest, _ *sip.SendRequestOptions) error {
	tp.mu.Lock()
	err := tp.sendErr
	tp.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case tp.reqs <- req:
	default:
	}
	return nil
}

func (tp *testTransport) SendResponse(_ context.Context, res *sip.OutboundResponse, _ *sip.SendResponseOptions) error {
	tp.mu.Lock()
	err := tp.sendErr
	tp.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case tp.ress <- res:
	default:
	}
	return nil
}

func (tp *testTransport) OnRequest(sip.TransportRequestHandler) (cancel func()) { return func() {} }

func (tp *testTransport) OnResponse(sip.TransportResponseHandler) (cancel func()) { return func() {} }

func (tp *testTransport) failSends(err error) {
	tp.mu.Lock()
	tp.sendErr = err
	tp.mu.Unlock()
}

func waitSentRequest(t *testing.T, tp *testTransport) *sip.OutboundRequest {
	t.Helper()
	select {
	case req := <-tp.reqs:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no request sent through the transport")
		return nil
	}
}

// waitSentMethod discards sent requests until one with the given method
// shows up, so retransmissions don't get in the way.
func waitSentMethod(t *testing.T, tp *testTransport, method sip.RequestMethod) *sip.OutboundRequest {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case req := <-tp.reqs:
			if req.Method() == method {
				return req
			}
		case <-deadline:
			t.Fatalf("no %q request sent through the transport", method)
			return nil
		}
	}
}

func waitSentResponse(t *testing.T, tp *testTransport) *sip.OutboundResponse {
	t.Helper()
	select {
	case res := <-tp.ress:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no response sent through the transport")
		return nil
	}
}

func waitSentStatus(t *testing.T, tp *testTransport, sts sip.ResponseStatus) *sip.OutboundResponse {
	t.Helper()
	res := waitSentResponse(t, tp)
	if res.Status() != sts {
		t.Fatalf("sent response status = %d, want %d", res.Status(), sts)
	}
	return res
}

func noSentRequest(t *testing.T, tp *testTransport, wait time.Duration) {
	t.Helper()
	select {
	case req := <-tp.reqs:
		t.Fatalf("unexpected %q request sent through the transport", req.Method())
	case <-time.After(wait):
	}
}

func noSentResponse(t *testing.T, tp *testTransport, wait time.Duration) {
	t.Helper()
	select {
	case res := <-tp.ress:
		t.Fatalf("unexpected %d response sent through the transport", res.Status())
	case <-time.After(wait):
	}
}

func waitTransactionState(t *testing.T, tx sip.Transaction, want sip.TransactionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tx.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("transaction state = %q, want %q", tx.State(), want)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func mustParseURI(t *testing.T, s string) sip.URI {
	t.Helper()
	u, err := sip.ParseURI(s)
	if err != nil {
		t.Fatalf("ParseURI(%q) error: %v", s, err)
	}
	return u
}

func testViaHop(tproto sip.TransportProto) header.ViaHop {
	return header.ViaHop{
		Proto:     sip.ProtoVer20(),
		Transport: tproto,
		Addr:      header.HostPort("client.test.invalid", 5060),
	}
}

// newOutboundRequest builds a client-side request with generated branch,
// From tag and Call-ID.
func newOutboundRequest(t *testing.T, method sip.RequestMethod) *sip.OutboundRequest {
	t.Helper()
	req, err := sip.NewRequest(method, mustParseURI(t, "sip:bob@server.test.invalid"), &sip.RequestOptions{
		Via:  testViaHop(sip.TransportProtoUDP),
		From: header.NameAddr{URI: mustParseURI(t, "sip:alice@client.test.invalid")},
	})
	if err != nil {
		t.Fatalf("NewRequest(%q) error: %v", method, err)
	}
	return req
}

// newInboundRequest builds a server-side request carrying the full
// mandatory header set, keyed on the given branch.
func newInboundRequest(t *testing.T, method sip.RequestMethod, branch string) *sip.InboundRequest {
	t.Helper()
	msg := &sip.Request{
		Method:  method,
		URI:     mustParseURI(t, "sip:bob@server.test.invalid"),
		Proto:   sip.ProtoVer20(),
		Headers: make(sip.Headers, 8),
	}
	msg.Headers.
		Set(header.Via{{
			Proto:     sip.ProtoVer20(),
			Transport: sip.TransportProtoUDP,
			Addr:      header.HostPort("client.test.invalid", 5060),
			Params:    header.Values{}.Set("branch", branch),
		}}).
		Set(&header.From{
			URI:    mustParseURI(t, "sip:alice@client.test.invalid"),
			Params: header.Values{}.Set("tag", "from-tag-1"),
		}).
		Set(&header.To{URI: mustParseURI(t, "sip:bob@server.test.invalid")}).
		Set(header.CallID("call-" + branch)).
		Set(&header.CSeq{SeqNum: 1, Method: method}).
		Set(header.MaxForwards(70))
	return sip.NewInboundRequest(msg, testLocAddr, testRmtAddr)
}

// newInboundResponse builds a response to the given outbound request the
// way a remote server would: Via, From, Call-ID and CSeq copied, To
// optionally tagged.
func newInboundResponse(t *testing.T, req *sip.OutboundRequest, sts sip.ResponseStatus, toTag string) *sip.InboundResponse {
	t.Helper()
	msg := &sip.Response{
		Status: sts,
		Proto:  sip.ProtoVer20(),
		Headers: make(sip.Headers, 6).
			CopyFrom(req.Headers(), "Via", "From", "To", "Call-ID", "CSeq"),
	}
	if toTag != "" {
		setToTag(t, msg.Headers, toTag)
	}
	return sip.NewInboundResponse(msg, testLocAddr, testRmtAddr)
}

func setToTag(t *testing.T, hdrs sip.Headers, tag string) {
	t.Helper()
	to, ok := hdrs.To()
	if !ok {
		t.Fatal("message without To header")
	}
	if to.Params == nil {
		to.Params = header.Values{}
		hdrs.Set(to)
	}
	to.Params.Set("tag", tag)
}

// newInboundAck builds the ACK a remote client would send for a final
// response to the given INVITE.
func newInboundAck(t *testing.T, inv *sip.InboundRequest, toTag string) *sip.InboundRequest {
	t.Helper()
	msg := &sip.Request{
		Method: sip.RequestMethodAck,
		URI:    inv.URI(),
		Proto:  sip.ProtoVer20(),
		Headers: make(sip.Headers, 8).
			CopyFrom(inv.Headers(), "Via", "From", "To", "Call-ID", "Max-Forwards"),
	}
	cseq, ok := inv.Headers().CSeq()
	if !ok {
		t.Fatal("request without CSeq header")
	}
	msg.Headers.Set(&header.CSeq{SeqNum: cseq.SeqNum, Method: sip.RequestMethodAck})
	if toTag != "" {
		setToTag(t, msg.Headers, toTag)
	}
	return sip.NewInboundRequest(msg, testLocAddr, testRmtAddr)
}

// newInboundCancel builds the CANCEL a remote client would send for the
// given INVITE.
func newInboundCancel(t *testing.T, inv *sip.InboundRequest) *sip.InboundRequest {
	t.Helper()
	msg := &sip.Request{
		Method: sip.RequestMethodCancel,
		URI:    inv.URI(),
		Proto:  sip.ProtoVer20(),
		Headers: make(sip.Headers, 8).
			CopyFrom(inv.Headers(), "Via", "From", "To", "Call-ID", "Max-Forwards"),
	}
	cseq, ok := inv.Headers().CSeq()
	if !ok {
		t.Fatal("request without CSeq header")
	}
	msg.Headers.Set(&header.CSeq{SeqNum: cseq.SeqNum, Method: sip.RequestMethodCancel})
	return sip.NewInboundRequest(msg, testLocAddr, testRmtAddr)
}

func topViaBranch(t *testing.T, hdrs sip.Headers) string {
	t.Helper()
	via, ok := hdrs.FirstVia()
	if !ok {
		t.Fatal("message without Via header")
	}
	branch, ok := via.Branch()
	if !ok {
		t.Fatal("top Via without branch")
	}
	return branch
}

func toTag(t *testing.T, hdrs sip.Headers) string {
	t.Helper()
	to, ok := hdrs.To()
	if !ok {
		t.Fatal("message without To header")
	}
	tag, _ := to.Tag()
	return tag
}

func terminateOnCleanup(t *testing.T, tx sip.Transaction) {
	t.Helper()
	t.Cleanup(func() {
		_ = tx.Terminate(context.Background())
	})
}
