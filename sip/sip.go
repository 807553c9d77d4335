package sip

import (
	"braces.dev/errtrace"
	"github.com/google/uuid"

	"github.com/signalpath/sipcore/internal/types"
	"github.com/signalpath/sipcore/internal/util"
	"github.com/signalpath/sipcore/uri"
)

// MagicCookie is the mandatory prefix of every branch parameter generated
// by an RFC 3261 compliant element.
const MagicCookie = "z9hG4bK"

type (
	// Addr is a host with an optional port, as it appears in URIs and Via headers.
	Addr = types.Addr
	// Values is a multimap of parameter names to values.
	Values = types.Values
	// ProtoInfo is a protocol name/version pair, e.g. SIP/2.0.
	ProtoInfo = types.ProtoInfo
	// RequestMethod is a SIP request method.
	RequestMethod = types.RequestMethod
	// ResponseStatus is a SIP response status code.
	ResponseStatus = types.ResponseStatus
	// ResponseReason is a response reason phrase.
	ResponseReason = types.ResponseReason
	// TransportProto is a transport protocol name, e.g. UDP, TCP, TLS.
	TransportProto = types.TransportProto
	// URI is a generic SIP or absolute URI.
	URI = uri.URI
	// RenderOptions controls message and header rendering.
	RenderOptions = types.RenderOptions
)

const (
	RequestMethodAck       = types.RequestMethodAck
	RequestMethodBye       = types.RequestMethodBye
	RequestMethodCancel    = types.RequestMethodCancel
	RequestMethodInfo      = types.RequestMethodInfo
	RequestMethodInvite    = types.RequestMethodInvite
	RequestMethodMessage   = types.RequestMethodMessage
	RequestMethodNotify    = types.RequestMethodNotify
	RequestMethodOptions   = types.RequestMethodOptions
	RequestMethodPrack     = types.RequestMethodPrack
	RequestMethodPublish   = types.RequestMethodPublish
	RequestMethodRefer     = types.RequestMethodRefer
	RequestMethodRegister  = types.RequestMethodRegister
	RequestMethodSubscribe = types.RequestMethodSubscribe
	RequestMethodUpdate    = types.RequestMethodUpdate
)

const (
	ResponseStatusTrying               = types.ResponseStatusTrying
	ResponseStatusRinging              = types.ResponseStatusRinging
	ResponseStatusCallIsBeingForwarded = types.ResponseStatusCallIsBeingForwarded
	ResponseStatusQueued               = types.ResponseStatusQueued
	ResponseStatusSessionProgress      = types.ResponseStatusSessionProgress

	ResponseStatusOK       = types.ResponseStatusOK
	ResponseStatusAccepted = types.ResponseStatusAccepted

	ResponseStatusMultipleChoices    = types.ResponseStatusMultipleChoices
	ResponseStatusMovedPermanently   = types.ResponseStatusMovedPermanently
	ResponseStatusMovedTemporarily   = types.ResponseStatusMovedTemporarily
	ResponseStatusUseProxy           = types.ResponseStatusUseProxy
	ResponseStatusAlternativeService = types.ResponseStatusAlternativeService

	ResponseStatusBadRequest                  = types.ResponseStatusBadRequest
	ResponseStatusUnauthorized                = types.ResponseStatusUnauthorized
	ResponseStatusPaymentRequired             = types.ResponseStatusPaymentRequired
	ResponseStatusForbidden                   = types.ResponseStatusForbidden
	ResponseStatusNotFound                    = types.ResponseStatusNotFound
	ResponseStatusMethodNotAllowed            = types.ResponseStatusMethodNotAllowed
	ResponseStatusNotAcceptable               = types.ResponseStatusNotAcceptable
	ResponseStatusProxyAuthenticationRequired = types.ResponseStatusProxyAuthenticationRequired
	ResponseStatusRequestTimeout              = types.ResponseStatusRequestTimeout
	ResponseStatusGone                        = types.ResponseStatusGone
	ResponseStatusRequestEntityTooLarge       = types.ResponseStatusRequestEntityTooLarge
	ResponseStatusRequestURITooLong           = types.ResponseStatusRequestURITooLong
	ResponseStatusUnsupportedMediaType        = types.ResponseStatusUnsupportedMediaType
	ResponseStatusUnsupportedURIScheme        = types.ResponseStatusUnsupportedURIScheme
	ResponseStatusBadExtension                = types.ResponseStatusBadExtension
	ResponseStatusExtensionRequired           = types.ResponseStatusExtensionRequired
	ResponseStatusIntervalTooBrief            = types.ResponseStatusIntervalTooBrief
	ResponseStatusTemporarilyUnavailable      = types.ResponseStatusTemporarilyUnavailable
	ResponseStatusCallTransactionDoesNotExist = types.ResponseStatusCallTransactionDoesNotExist
	ResponseStatusLoopDetected                = types.ResponseStatusLoopDetected
	ResponseStatusTooManyHops                 = types.ResponseStatusTooManyHops
	ResponseStatusAddressIncomplete           = types.ResponseStatusAddressIncomplete
	ResponseStatusAmbiguous                   = types.ResponseStatusAmbiguous
	ResponseStatusBusyHere                    = types.ResponseStatusBusyHere
	ResponseStatusRequestTerminated           = types.ResponseStatusRequestTerminated
	ResponseStatusNotAcceptableHere           = types.ResponseStatusNotAcceptableHere
	ResponseStatusBadEvent                    = types.ResponseStatusBadEvent
	ResponseStatusRequestPending              = types.ResponseStatusRequestPending
	ResponseStatusUndecipherable              = types.ResponseStatusUndecipherable

	ResponseStatusServerInternalError = types.ResponseStatusServerInternalError
	ResponseStatusNotImplemented      = types.ResponseStatusNotImplemented
	ResponseStatusBadGateway          = types.ResponseStatusBadGateway
	ResponseStatusServiceUnavailable  = types.ResponseStatusServiceUnavailable
	ResponseStatusGatewayTimeout      = types.ResponseStatusGatewayTimeout
	ResponseStatusVersionNotSupported = types.ResponseStatusVersionNotSupported
	ResponseStatusMessageTooLarge     = types.ResponseStatusMessageTooLarge

	ResponseStatusBusyEverywhere       = types.ResponseStatusBusyEverywhere
	ResponseStatusDecline              = types.ResponseStatusDecline
	ResponseStatusDoesNotExistAnywhere = types.ResponseStatusDoesNotExistAnywhere
	ResponseStatusNotAcceptable606     = types.ResponseStatusNotAcceptable606
)

const (
	TransportProtoUDP = types.TransportProtoUDP
	TransportProtoTCP = types.TransportProtoTCP
	TransportProtoTLS = types.TransportProtoTLS
	TransportProtoWS  = types.TransportProtoWS
	TransportProtoWSS = types.TransportProtoWSS
)

// ParseURI parses a SIP, SIPS or absolute URI.
// See [uri.Parse].
func ParseURI[T ~string | ~[]byte](s T) (URI, error) {
	return errtrace.Wrap2(uri.Parse(s))
}

// IsKnownRequestMethod returns whether the method is a known SIP request method.
func IsKnownRequestMethod(method RequestMethod) bool {
	return types.IsKnownRequestMethod(method)
}

// ProtoVer20 returns the SIP/2.0 protocol descriptor.
func ProtoVer20() ProtoInfo { return ProtoInfo{Name: "SIP", Version: "2.0"} }

// IsRFC3261Branch reports whether branch starts with the RFC 3261 magic cookie.
func IsRFC3261Branch(branch string) bool {
	return len(branch) > len(MagicCookie) && branch[:len(MagicCookie)] == MagicCookie
}

// GenerateBranch returns a new unique branch parameter prefixed with
// the magic cookie.
func GenerateBranch() string {
	return MagicCookie + "." + util.RandString(16)
}

// GenerateTag returns a new From/To tag value.
func GenerateTag() string {
	return util.RandString(16)
}

// GenerateCallID returns a new globally unique Call-ID value.
func GenerateCallID() string {
	return uuid.NewString()
}
