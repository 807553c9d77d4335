package sip

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"braces.dev/errtrace"

	"github.com/signalpath/sipcore/header"
	"github.com/signalpath/sipcore/internal/errorutil"
	"github.com/signalpath/sipcore/internal/syncutil"
	"github.com/signalpath/sipcore/internal/types"
)

// HeaderName is a canonical header name.
// See [header.Name].
type HeaderName = header.Name

// Message represents a structured SIP message, either a request or a response.
type Message interface {
	types.Renderer
	types.Cloneable[Message]
	types.ValidFlag
	types.Validatable
	types.Equalable
	fmt.Stringer
}

// MessageMetadata carries arbitrary key/value data attached to a message
// envelope by the layers it passes through.
type MessageMetadata struct {
	vals syncutil.RWMap[string, any]
}

// Get returns the value stored under key.
func (d *MessageMetadata) Get(key string) (any, bool) {
	if d == nil {
		return nil, false
	}
	return d.vals.Get(key)
}

// Set stores val under key.
func (d *MessageMetadata) Set(key string, val any) {
	d.vals.Set(key, val)
}

// Del removes the value stored under key.
func (d *MessageMetadata) Del(key string) {
	d.vals.Del(key)
}

// Clone returns a shallow copy of the metadata.
func (d *MessageMetadata) Clone() *MessageMetadata {
	d2 := new(MessageMetadata)
	if d == nil {
		return d2
	}
	for key, val := range d.vals.All() {
		d2.vals.Set(key, val)
	}
	return d2
}

// message holds a structured message with addressing and timing info shared
// by all envelope types.
type message[T Message] struct {
	msg     T
	msgTime time.Time
	locAddr netip.AddrPort
	rmtAddr netip.AddrPort
	data    *MessageMetadata
}

// inboundMessage is an envelope around a message received from the network.
// It is immutable after construction.
type inboundMessage[T Message] struct {
	msg     T
	msgTime time.Time
	locAddr netip.AddrPort
	rmtAddr netip.AddrPort
	data    *MessageMetadata
}

// Message returns the wrapped message.
func (m *inboundMessage[T]) Message() T { return m.msg }

// MessageTime returns the receive timestamp.
func (m *inboundMessage[T]) MessageTime() time.Time { return m.msgTime }

// LocalAddr returns the local address the message was received on.
func (m *inboundMessage[T]) LocalAddr() netip.AddrPort { return m.locAddr }

// RemoteAddr returns the remote address the message was received from.
func (m *inboundMessage[T]) RemoteAddr() netip.AddrPort { return m.rmtAddr }

// Metadata returns the metadata attached to the envelope.
func (m *inboundMessage[T]) Metadata() *MessageMetadata { return m.data }

// outboundMessage is an envelope around a message to be sent to the network.
// Addresses may be filled in by the transport layer after construction, so
// access is guarded.
type outboundMessage[T Message] struct {
	mu sync.RWMutex
	message[T]
}

// Message returns the wrapped message.
func (m *outboundMessage[T]) Message() T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.msg
}

// MessageTime returns the creation timestamp.
func (m *outboundMessage[T]) MessageTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.msgTime
}

// LocalAddr returns the local address to send from.
func (m *outboundMessage[T]) LocalAddr() netip.AddrPort {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.locAddr
}

// SetLocalAddr sets the local address to send from.
func (m *outboundMessage[T]) SetLocalAddr(addr netip.AddrPort) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locAddr = addr
}

// RemoteAddr returns the remote address to send to.
func (m *outboundMessage[T]) RemoteAddr() netip.AddrPort {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rmtAddr
}

// SetRemoteAddr sets the remote address to send to.
func (m *outboundMessage[T]) SetRemoteAddr(addr netip.AddrPort) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rmtAddr = addr
}

// Metadata returns the metadata attached to the envelope.
func (m *outboundMessage[T]) Metadata() *MessageMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data
}

type envelopeData struct {
	Message    json.RawMessage `json:"message"`
	Time       time.Time       `json:"time"`
	LocalAddr  netip.AddrPort  `json:"local_addr,omitempty"`
	RemoteAddr netip.AddrPort  `json:"remote_addr,omitempty"`
}

// MarshalJSON implements [json.Marshaler].
func (m *inboundMessage[T]) MarshalJSON() ([]byte, error) {
	msg, err := json.Marshal(m.msg)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return errtrace.Wrap2(json.Marshal(envelopeData{
		Message:    msg,
		Time:       m.msgTime,
		LocalAddr:  m.locAddr,
		RemoteAddr: m.rmtAddr,
	}))
}

// UnmarshalJSON implements [json.Unmarshaler].
func (m *inboundMessage[T]) UnmarshalJSON(data []byte) error {
	var d envelopeData
	if err := json.Unmarshal(data, &d); err != nil {
		return errtrace.Wrap(err)
	}
	if err := json.Unmarshal(d.Message, &m.msg); err != nil {
		return errtrace.Wrap(err)
	}
	m.msgTime = d.Time
	m.locAddr = d.LocalAddr
	m.rmtAddr = d.RemoteAddr
	m.data = new(MessageMetadata)
	return nil
}

// MarshalJSON implements [json.Marshaler].
func (m *outboundMessage[T]) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, err := json.Marshal(m.msg)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return errtrace.Wrap2(json.Marshal(envelopeData{
		Message:    msg,
		Time:       m.msgTime,
		LocalAddr:  m.locAddr,
		RemoteAddr: m.rmtAddr,
	}))
}

// UnmarshalJSON implements [json.Unmarshaler].
func (m *outboundMessage[T]) UnmarshalJSON(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var d envelopeData
	if err := json.Unmarshal(data, &d); err != nil {
		return errtrace.Wrap(err)
	}
	if err := json.Unmarshal(d.Message, &m.msg); err != nil {
		return errtrace.Wrap(err)
	}
	m.msgTime = d.Time
	m.locAddr = d.LocalAddr
	m.rmtAddr = d.RemoteAddr
	m.data = new(MessageMetadata)
	return nil
}

// GetMessageHeaders extracts the header collection from a message or any
// message envelope.
func GetMessageHeaders(msg any) Headers {
	switch m := msg.(type) {
	case *Request:
		return m.Headers
	case *Response:
		return m.Headers
	case interface{ Message() *Request }:
		return m.Message().Headers
	case interface{ Message() *Response }:
		return m.Message().Headers
	default:
		return nil
	}
}

func validateHdrs(hdrs Headers) error {
	var errs []error
	for name, hdr := range hdrs {
		if !hdr.IsValid() {
			errs = append(errs, errorutil.Errorf("invalid header %q", name))
		}
	}
	return errtrace.Wrap(errorutil.Join(errs...))
}

func newMissHdrErr(name HeaderName) error {
	return errorutil.NewWrapperError(errMissHdrs, fmt.Sprintf("missing mandatory header %q", name))
}
