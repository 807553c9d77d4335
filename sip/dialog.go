package sip

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"braces.dev/errtrace"

	"github.com/signalpath/sipcore/header"
	"github.com/signalpath/sipcore/internal/log"
	"github.com/signalpath/sipcore/internal/types"
	"github.com/signalpath/sipcore/internal/util"
	"github.com/signalpath/sipcore/uri"
)

// DialogID identifies a dialog as defined in RFC 3261 Section 12:
// the Call-ID together with the local and remote tags.
type DialogID struct {
	CallID    string `json:"call_id"`
	LocalTag  string `json:"loc_tag"`
	RemoteTag string `json:"rmt_tag"`
}

// FillFromMessage fills the dialog ID from the message.
// For inbound requests and outbound responses the local tag is taken
// from the To header, for outbound requests and inbound responses from
// the From header.
func (key *DialogID) FillFromMessage(msg Message) error {
	if err := msg.Validate(); err != nil {
		return errtrace.Wrap(err)
	}

	hdrs := getMsgHdrs(msg)
	callID, _ := hdrs.CallID()
	from, _ := hdrs.From()
	to, _ := hdrs.To()
	fromTag, _ := from.Tag()
	toTag, _ := to.Tag()

	key.CallID = string(callID)
	switch msg.(type) {
	case *InboundRequest, *OutboundResponse:
		key.LocalTag, key.RemoteTag = toTag, fromTag
	case *OutboundRequest, *InboundResponse:
		key.LocalTag, key.RemoteTag = fromTag, toTag
	default:
		return errtrace.Wrap(NewInvalidArgumentError(fmt.Errorf("unexpected message type %T", msg)))
	}
	return nil
}

func getMsgHdrs(msg Message) Headers {
	switch msg := msg.(type) {
	case *InboundRequest:
		return msg.Headers()
	case *OutboundRequest:
		return msg.Headers()
	case *InboundResponse:
		return msg.Headers()
	case *OutboundResponse:
		return msg.Headers()
	default:
		return nil
	}
}

// IsValid returns whether the dialog ID is fully populated.
func (key DialogID) IsValid() bool {
	return key.CallID != "" && key.LocalTag != "" && key.RemoteTag != ""
}

// IsZero returns whether the dialog ID is empty.
func (key DialogID) IsZero() bool { return key == DialogID{} }

// String returns the string representation of the dialog ID.
func (key DialogID) String() string {
	return key.CallID + ";" + key.LocalTag + ";" + key.RemoteTag
}

// Format implements [fmt.Formatter] for custom formatting.
func (key DialogID) Format(f fmt.State, verb rune) {
	switch verb {
	case 's':
		fmt.Fprint(f, key.String())
		return
	case 'q':
		fmt.Fprint(f, strconv.Quote(key.String()))
		return
	default:
		type hideMethods DialogID
		type DialogID hideMethods
		fmt.Fprintf(f, fmt.FormatString(f, verb), DialogID(key))
		return
	}
}

// LogValue implements [slog.LogValuer] for structured logging.
func (key DialogID) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("call_id", key.CallID),
		slog.String("loc_tag", key.LocalTag),
		slog.String("rmt_tag", key.RemoteTag),
	)
}

var zeroDialogID DialogID

// DialogOptions are options for dialog construction.
type DialogOptions struct {
	// Logger used by the dialog. Defaults to the package logger.
	Logger *slog.Logger
}

func (o *DialogOptions) log() *slog.Logger {
	if o == nil || o.Logger == nil {
		return log.Def
	}
	return o.Logger
}

// Dialog is a peer-to-peer SIP relationship defined in RFC 3261 Section 12.
// It tracks the dialog state shared by all requests and responses exchanged
// between the two user agents: the dialog ID, the local and remote sequence
// numbers, the local and remote URIs, the remote target and the route set.
//
// A dialog starts in the early state when created from a provisional
// response and becomes confirmed via [Dialog.Confirm].
// All methods are safe for concurrent use.
type Dialog struct {
	mu            sync.RWMutex
	id            DialogID
	early         bool
	secure        bool
	locSeq        uint32 // 0 until the first local request
	rmtSeq        uint32 // 0 until the first remote request
	locURI        URI
	rmtURI        URI
	rmtTarget     URI
	routeSet      []header.RouteHop
	routeSetFinal bool
	log           *slog.Logger
}

// NewClientDialog creates a dialog from the UAC side, per the rules of
// RFC 3261 Section 12.1.2: req is the dialog-establishing request sent by
// the UAC and res the provisional or final response that creates the dialog.
// The route set is taken from the Record-Route headers of the response in
// reverse order.
func NewClientDialog(req *OutboundRequest, res *InboundResponse, opts *DialogOptions) (*Dialog, error) {
	if req == nil || res == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid request or response"))
	}
	if err := req.Validate(); err != nil {
		return nil, errtrace.Wrap(err)
	}
	if err := res.Validate(); err != nil {
		return nil, errtrace.Wrap(err)
	}

	reqHdrs, resHdrs := req.Headers(), res.Headers()

	from, _ := reqHdrs.From()
	locTag, ok := from.Tag()
	if !ok || locTag == "" {
		return nil, errtrace.Wrap(NewInvalidMessageError("missing From tag"))
	}

	to, _ := resHdrs.To()
	rmtTag, ok := to.Tag()
	if !ok || rmtTag == "" {
		return nil, errtrace.Wrap(NewInvalidMessageError("missing To tag"))
	}

	callID, _ := reqHdrs.CallID()
	cseq, _ := reqHdrs.CSeq()
	reqTo, _ := reqHdrs.To()

	dlg := &Dialog{
		id: DialogID{
			CallID:    string(callID),
			LocalTag:  locTag,
			RemoteTag: rmtTag,
		},
		early:  res.Status().IsProvisional(),
		secure: util.EqFold(uri.GetScheme(req.URI()), "sips"),
		locSeq: cseq.SeqNum,
		locURI: types.Clone[URI](header.NameAddr(*from).URI),
		rmtURI: types.Clone[URI](header.NameAddr(*reqTo).URI),
	}
	if contact, ok := resHdrs.Contact(); ok && len(contact) > 0 {
		dlg.rmtTarget = types.Clone[URI](contact[0].URI)
	}
	if rr, ok := resHdrs.RecordRoute(); ok {
		dlg.routeSet = make([]header.RouteHop, 0, len(rr))
		for i := len(rr) - 1; i >= 0; i-- {
			dlg.routeSet = append(dlg.routeSet, rr[i].Clone())
		}
	}
	dlg.log = opts.log().With(slog.Any("dialog", dlg))
	return dlg, nil
}

// NewServerDialog creates a dialog from the UAS side, per the rules of
// RFC 3261 Section 12.1.1: req is the dialog-establishing request received
// by the UAS and locTag the To tag the UAS places into its responses.
// An empty locTag is taken from the To header of the request, or generated
// when the request carries none. The route set is taken from the
// Record-Route headers of the request in the order they appear.
func NewServerDialog(req *InboundRequest, locTag string, early bool, opts *DialogOptions) (*Dialog, error) {
	if req == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid request"))
	}
	if err := req.Validate(); err != nil {
		return nil, errtrace.Wrap(err)
	}

	hdrs := req.Headers()

	from, _ := hdrs.From()
	rmtTag, ok := from.Tag()
	if !ok || rmtTag == "" {
		return nil, errtrace.Wrap(NewInvalidMessageError("missing From tag"))
	}

	to, _ := hdrs.To()
	if locTag == "" {
		if tag, ok := to.Tag(); ok {
			locTag = tag
		} else {
			locTag = GenerateTag()
		}
	}

	callID, _ := hdrs.CallID()
	cseq, _ := hdrs.CSeq()

	dlg := &Dialog{
		id: DialogID{
			CallID:    string(callID),
			LocalTag:  locTag,
			RemoteTag: rmtTag,
		},
		early:  early,
		secure: util.EqFold(uri.GetScheme(req.URI()), "sips"),
		rmtSeq: cseq.SeqNum,
		locURI: types.Clone[URI](header.NameAddr(*to).URI),
		rmtURI: types.Clone[URI](header.NameAddr(*from).URI),
	}
	if contact, ok := hdrs.Contact(); ok && len(contact) > 0 {
		dlg.rmtTarget = types.Clone[URI](contact[0].URI)
	}
	if rr, ok := hdrs.RecordRoute(); ok {
		dlg.routeSet = make([]header.RouteHop, 0, len(rr))
		for _, hop := range rr {
			dlg.routeSet = append(dlg.routeSet, hop.Clone())
		}
	}
	dlg.log = opts.log().With(slog.Any("dialog", dlg))
	return dlg, nil
}

// ID returns the dialog ID.
func (dlg *Dialog) ID() DialogID {
	dlg.mu.RLock()
	defer dlg.mu.RUnlock()
	return dlg.id
}

// Early returns whether the dialog is still in the early state.
func (dlg *Dialog) Early() bool {
	dlg.mu.RLock()
	defer dlg.mu.RUnlock()
	return dlg.early
}

// Secure returns whether the dialog requires the SIPS scheme.
func (dlg *Dialog) Secure() bool {
	dlg.mu.RLock()
	defer dlg.mu.RUnlock()
	return dlg.secure
}

// LocalSeq returns the last local sequence number,
// zero when no request was sent within the dialog yet.
func (dlg *Dialog) LocalSeq() uint32 {
	dlg.mu.RLock()
	defer dlg.mu.RUnlock()
	return dlg.locSeq
}

// RemoteSeq returns the last remote sequence number,
// zero when no request was received within the dialog yet.
func (dlg *Dialog) RemoteSeq() uint32 {
	dlg.mu.RLock()
	defer dlg.mu.RUnlock()
	return dlg.rmtSeq
}

// LocalURI returns the local URI of the dialog.
func (dlg *Dialog) LocalURI() URI {
	dlg.mu.RLock()
	defer dlg.mu.RUnlock()
	return types.Clone[URI](dlg.locURI)
}

// RemoteURI returns the remote URI of the dialog.
func (dlg *Dialog) RemoteURI() URI {
	dlg.mu.RLock()
	defer dlg.mu.RUnlock()
	return types.Clone[URI](dlg.rmtURI)
}

// RemoteTarget returns the remote target URI of the dialog,
// nil when the dialog-establishing message carried no Contact.
func (dlg *Dialog) RemoteTarget() URI {
	dlg.mu.RLock()
	defer dlg.mu.RUnlock()
	return types.Clone[URI](dlg.rmtTarget)
}

// RouteSet returns a copy of the dialog route set.
func (dlg *Dialog) RouteSet() []header.RouteHop {
	dlg.mu.RLock()
	defer dlg.mu.RUnlock()
	return cloneRouteSet(dlg.routeSet)
}

func cloneRouteSet(src []header.RouteHop) []header.RouteHop {
	if src == nil {
		return nil
	}
	dst := make([]header.RouteHop, 0, len(src))
	for _, hop := range src {
		dst = append(dst, hop.Clone())
	}
	return dst
}

// Log returns the dialog logger.
func (dlg *Dialog) Log() *slog.Logger {
	if dlg == nil {
		return log.Def
	}
	return dlg.log
}

// LogValue implements [slog.LogValuer] for structured logging.
func (dlg *Dialog) LogValue() slog.Value {
	if dlg == nil {
		return slog.Value{}
	}

	dlg.mu.RLock()
	defer dlg.mu.RUnlock()
	return slog.GroupValue(
		slog.Any("id", dlg.id),
		slog.Bool("early", dlg.early),
	)
}

// Confirm moves the dialog from the early to the confirmed state.
// Confirming an already confirmed dialog has no effect.
func (dlg *Dialog) Confirm() {
	dlg.mu.Lock()
	defer dlg.mu.Unlock()
	dlg.early = false
}

// CheckSequence validates and records the CSeq of a request received
// within the dialog, per RFC 3261 Section 12.2.2. It returns false when
// the request is out of order, leaving the remote sequence number
// untouched, in which case the caller must reject the request with a
// 500 Server Internal Error response.
func (dlg *Dialog) CheckSequence(req *InboundRequest) bool {
	if req == nil {
		return false
	}
	cseq, ok := req.Headers().CSeq()
	if !ok {
		return false
	}

	dlg.mu.Lock()
	defer dlg.mu.Unlock()
	if dlg.rmtSeq != 0 && cseq.SeqNum <= dlg.rmtSeq {
		return false
	}
	dlg.rmtSeq = cseq.SeqNum
	return true
}

// RecomputeRouteSet refreshes the dialog route set from the Record-Route
// headers of the confirming 2xx response. The refresh happens at most
// once per dialog and modifies only the route set.
func (dlg *Dialog) RecomputeRouteSet(res *InboundResponse) {
	if res == nil || !res.Status().IsSuccessful() {
		return
	}

	dlg.mu.Lock()
	defer dlg.mu.Unlock()
	if dlg.routeSetFinal {
		return
	}
	dlg.routeSetFinal = true

	var routeSet []header.RouteHop
	if rr, ok := res.Headers().RecordRoute(); ok {
		routeSet = make([]header.RouteHop, 0, len(rr))
		for i := len(rr) - 1; i >= 0; i-- {
			routeSet = append(routeSet, rr[i].Clone())
		}
	}
	dlg.routeSet = routeSet
}

// DialogRequestOptions are options for [Dialog.NewRequest].
type DialogRequestOptions struct {
	// Via is the topmost Via hop of the request. A branch parameter is
	// generated when the hop carries none.
	Via header.ViaHop
	// MaxForwards value for the request. Defaults to 70.
	MaxForwards uint8
	// Headers are additional headers of the request.
	Headers Headers
	// Body is the request body.
	Body []byte
}

func (o *DialogRequestOptions) via() header.ViaHop {
	if o == nil {
		return header.ViaHop{}
	}
	return o.Via.Clone()
}

func (o *DialogRequestOptions) maxForwards() header.MaxForwards {
	if o == nil || o.MaxForwards == 0 {
		return header.MaxForwards(70)
	}
	return header.MaxForwards(o.MaxForwards)
}

func (o *DialogRequestOptions) headers() Headers {
	if o == nil {
		return nil
	}
	return o.Headers
}

func (o *DialogRequestOptions) body() []byte {
	if o == nil {
		return nil
	}
	return o.Body
}

// dlgReqHdrs are headers built by [Dialog.NewRequest] itself,
// additional headers from the options must not shadow them.
var dlgReqHdrs = map[HeaderName]bool{
	"Via":          true,
	"From":         true,
	"To":           true,
	"Call-ID":      true,
	"CSeq":         true,
	"Route":        true,
	"Max-Forwards": true,
}

// NewRequest builds a request to be sent within the dialog, per
// RFC 3261 Section 12.2.1.1: the local sequence number is incremented,
// the From and To headers carry the dialog tags and the request is
// routed through the dialog route set, honoring both loose and strict
// routing. ACK and CANCEL requests reuse the sequence number of the
// request they belong to and cannot be built here.
func (dlg *Dialog) NewRequest(method RequestMethod, opts *DialogRequestOptions) (*OutboundRequest, error) {
	if !method.IsValid() {
		return nil, errtrace.Wrap(NewInvalidArgumentError(fmt.Errorf("invalid method %q", method)))
	}
	if method.Equal(RequestMethodAck) || method.Equal(RequestMethodCancel) {
		return nil, errtrace.Wrap(NewInvalidArgumentError(ErrMethodNotAllowed))
	}

	dlg.mu.Lock()
	defer dlg.mu.Unlock()

	if dlg.locSeq >= header.MaxCSeqNum {
		return nil, errtrace.Wrap(ErrCSeqExhausted)
	}
	dlg.locSeq++

	ruri := types.Clone[URI](dlg.rmtTarget)
	if ruri == nil {
		ruri = types.Clone[URI](dlg.rmtURI)
	}

	var route header.Route
	if len(dlg.routeSet) > 0 {
		if looseRouteHop(dlg.routeSet[0]) {
			route = cloneRouteSet(dlg.routeSet)
		} else {
			// strict routing: the request URI is the first route entry
			// and the remote target goes to the end of the Route header
			first := dlg.routeSet[0].Clone()
			route = append(cloneRouteSet(dlg.routeSet[1:]), header.RouteHop{URI: ruri})
			ruri = first.URI
		}
	}

	msg := &Request{
		Method:  method,
		URI:     ruri,
		Proto:   ProtoVer20(),
		Headers: make(Headers, 8),
		Body:    opts.body(),
	}

	via := opts.via()
	if _, ok := via.Branch(); !ok {
		if via.Params == nil {
			via.Params = make(header.Values)
		}
		via.Params.Set("branch", GenerateBranch())
	}
	msg.Headers.Set(header.Via{via})

	from := header.From(header.NameAddr{
		URI:    types.Clone[URI](dlg.locURI),
		Params: make(header.Values),
	})
	from.Params.Set("tag", dlg.id.LocalTag)
	msg.Headers.Set(&from)

	to := header.To(header.NameAddr{
		URI:    types.Clone[URI](dlg.rmtURI),
		Params: make(header.Values),
	})
	to.Params.Set("tag", dlg.id.RemoteTag)
	msg.Headers.Set(&to)

	msg.Headers.Set(header.CallID(dlg.id.CallID))
	msg.Headers.Set(&header.CSeq{SeqNum: dlg.locSeq, Method: util.UCase(method)})
	msg.Headers.Set(opts.maxForwards())
	if len(route) > 0 {
		msg.Headers.Set(route)
	}
	for name, hdr := range opts.headers() {
		if dlgReqHdrs[name] {
			continue
		}
		msg.Headers.Set(hdr)
	}

	return NewOutboundRequest(msg), nil
}

func looseRouteHop(hop header.RouteHop) bool {
	return uri.GetParams(hop.URI).Has("lr")
}
