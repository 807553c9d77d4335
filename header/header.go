package header

//go:generate go tool errtrace -w .

import (
	"encoding/json"
	"fmt"
	"io"
	"net/textproto"
	"slices"
	"strconv"
	"strings"
	"sync"

	"braces.dev/errtrace"

	"github.com/signalpath/sipcore/internal/errorutil"
	"github.com/signalpath/sipcore/internal/ioutil"
	"github.com/signalpath/sipcore/internal/types"
	"github.com/signalpath/sipcore/internal/util"
)

// Addr represents a network address consisting of a host and optional port.
type Addr = types.Addr

// Host creates an Addr from a hostname without a port.
func Host(host string) Addr { return types.Host(host) }

// HostPort creates an Addr from a hostname and port.
func HostPort(host string, port uint16) Addr { return types.HostPort(host, port) }

// ParseAddr parses a network address from the given input s (string or []byte).
func ParseAddr[T ~string | ~[]byte](s T) (Addr, error) { return errtrace.Wrap2(types.ParseAddr(s)) }

// Values represents header parameters as a multi-value map.
type Values = types.Values

// ProtoInfo represents SIP protocol information (name and version).
type ProtoInfo = types.ProtoInfo

// TransportProto represents a transport protocol (UDP, TCP, TLS, WS, WSS).
type TransportProto = types.TransportProto

// RequestMethod represents a SIP request method (INVITE, ACK, BYE, etc.).
type RequestMethod = types.RequestMethod

// RenderOptions contains options for rendering headers and URIs.
type RenderOptions = types.RenderOptions

// Header represents a generic SIP header.
type Header interface {
	types.Renderer
	types.Cloneable[Header]
	types.ValidFlag
	types.Equalable
	CanonicName() Name
	CompactName() Name
	RenderValue() string
}

// Name represents a SIP header name.
type Name string

// ToCanonic converts the Name to its canonical form.
func (n Name) ToCanonic() Name { return CanonicName(n) }

// IsValid checks whether the Name is syntactically valid.
func (n Name) IsValid() bool { return util.IsToken(n) }

// Equal compares this Name with another for equality.
func (n Name) Equal(val any) bool {
	var other Name
	switch v := val.(type) {
	case Name:
		other = v
	case *Name:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return CanonicName(n) == CanonicName(other)
}

var hdrNames = map[string]Name{
	"c":                "Content-Type",
	"e":                "Content-Encoding",
	"f":                "From",
	"i":                "Call-ID",
	"k":                "Supported",
	"l":                "Content-Length",
	"m":                "Contact",
	"o":                "Event",
	"s":                "Subject",
	"t":                "To",
	"v":                "Via",
	"Call-Id":          "Call-ID",
	"Cseq":             "CSeq",
	"Mime-Version":     "MIME-Version",
	"Www-Authenticate": "WWW-Authenticate",
	"Sip-Etag":         "SIP-ETag",
	"Sip-If-Match":     "SIP-If-Match",
}

// CanonicName converts name to the canonical form.
// The canonicalization converts the first letter and any letter following a hyphen to upper case;
// the rest are converted to lowercase. For example, the canonical name for "accept-encoding" is "Accept-Encoding".
// Also, any compact name is converted to its full canonical form. For example, "c" converts to "Content-Type".
func CanonicName[T ~string](name T) Name {
	name = util.TrimSP(name)
	if n, ok := hdrNames[string(name)]; ok {
		return n
	}

	name = T(textproto.CanonicalMIMEHeaderKey(string(name)))
	if n, ok := hdrNames[string(name)]; ok {
		return n
	}
	return Name(name)
}

func renderHdr(w io.Writer, hdr Header, opts *RenderOptions) (num int, err error) {
	name := hdr.CanonicName()
	if opts != nil && opts.Compact {
		name = hdr.CompactName()
	}
	return errtrace.Wrap2(fmt.Fprint(w, name, ": ", hdr.RenderValue()))
}

func renderHdrString(hdr Header, opts *RenderOptions) string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	hdr.RenderTo(sb, opts) //nolint:errcheck
	return sb.String()
}

func formatHdr(f fmt.State, verb rune, hdr Header, plain any) {
	switch verb {
	case 's':
		if f.Flag('+') {
			hdr.RenderTo(f, nil) //nolint:errcheck
			return
		}
		fmt.Fprint(f, hdr.RenderValue())
	case 'q':
		if f.Flag('+') {
			fmt.Fprint(f, strconv.Quote(hdr.Render(nil)))
			return
		}
		fmt.Fprint(f, strconv.Quote(hdr.RenderValue()))
	default:
		fmt.Fprintf(f, fmt.FormatString(f, verb), plain)
	}
}

func renderHdrEntries[H ~[]E, E any](w io.Writer, hdr H) (num int, err error) {
	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)
	for i := range hdr {
		if i > 0 {
			cw.Fprint(", ")
		}
		cw.Fprint(hdr[i])
	}
	return errtrace.Wrap2(cw.Result())
}

func renderHdrParams(w io.Writer, params Values, addQParam bool) (num int, err error) {
	if len(params) == 0 && !addQParam {
		return 0, nil
	}

	// Sort parameters in alphabet order, but with "q" parameter always the first place.
	// If missing the "q" param, then dump it with the default value.
	// RFC 2616 Section 14.1.
	var kvs [][]string //nolint:prealloc
	if addQParam && !params.Has("q") {
		kvs = append(kvs, []string{"q", "1"})
	}
	for k := range params {
		v, _ := params.Last(k)
		kvs = append(kvs, []string{util.LCase(k), v})
	}
	slices.SortFunc(kvs, func(a, b []string) int {
		if a[0] == "q" && b[0] != "q" {
			return -1
		} else if a[0] != "q" && b[0] == "q" {
			return 1
		}
		return util.CmpKVs(a, b)
	})

	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)
	for _, kv := range kvs {
		cw.Fprint(";", kv[0])
		if kv[1] != "" {
			cw.Fprint("=", kv[1])
		}
	}
	return errtrace.Wrap2(cw.Result())
}

func compareHdrParams(params1, params2 Values, specParams map[string]bool) bool {
	switch {
	case len(params1) == 0 && len(params2) == 0:
		return true
	case len(params1) == 0:
		return !hasSpecHdrParam(params2, specParams)
	case len(params2) == 0:
		return !hasSpecHdrParam(params1, specParams)
	}

	checked := map[string]bool{}
	// Any non-special parameters appearing in only one list are ignored.
	// Parameters appearing in both lists must match.
	for k := range params1 {
		if params2.Has(k) {
			v1, _ := params1.Last(k)
			v2, _ := params2.Last(k)
			if !util.IsQuoted(v1) {
				v1 = util.LCase(v1)
				v2 = util.LCase(v2)
			}
			if v1 != v2 {
				return false
			}
		} else if specParams[util.LCase(k)] {
			// Special parameters appearing in one list must appear in the other.
			return false
		}
		checked[util.LCase(k)] = true
	}
	for k := range specParams {
		if checked[k] {
			continue
		}
		if params2.Has(k) {
			return false
		}
	}
	return true
}

func hasSpecHdrParam(params Values, specParams map[string]bool) bool {
	for k := range specParams {
		if params.Has(k) {
			return true
		}
	}
	return false
}

func validateHdrParams(params Values) bool {
	for k := range params {
		if !util.IsToken(k) {
			return false
		}
		v, _ := params.Last(k)
		if v != "" && !(util.IsToken(v) || util.IsHost(v) || util.IsQuoted(v)) {
			return false
		}
	}
	return true
}

func cloneHdrEntries[H ~[]E, E interface{ Clone() E }](hdr H) H {
	var hdr2 H
	if hdr == nil {
		return hdr2
	}
	hdr2 = make(H, len(hdr))
	for i := range hdr {
		hdr2[i] = hdr[i].Clone()
	}
	return hdr2
}

func compareHdrPtr[H any](hdr *H, val any, eq func(h1, h2 *H) bool) bool {
	var other *H
	switch v := val.(type) {
	case H:
		other = &v
	case *H:
		other = v
	default:
		return false
	}

	if hdr == other {
		return true
	} else if hdr == nil || other == nil {
		return false
	}
	return eq(hdr, other)
}

func compareHdrVal[H any](hdr H, val any, eq func(h1, h2 H) bool) bool {
	switch v := val.(type) {
	case H:
		return eq(hdr, v)
	case *H:
		if v == nil {
			return false
		}
		return eq(hdr, *v)
	default:
		return false
	}
}

// Parser is a function type for parsing a custom SIP header.
type Parser func(name string, value string) Header

var customParsers sync.Map // map[string]Parser

// RegisterParser registers a custom SIP header parser.
func RegisterParser(name string, parser Parser) {
	customParsers.Store(util.LCase(name), parser)
}

// UnregisterParser unregisters a custom SIP header parser.
func UnregisterParser(name string) {
	customParsers.Delete(util.LCase(name))
}

// Parse parses a SIP header from the given input s (string or []byte) and
// returns the parsed header as an instance of [Header].
// If the parsing fails, an error is returned along with nil as the header value.
//
// Example usage:
//
//	hdr, err := header.Parse("From: <sip:alice@example.com>;tag=qwerty")
func Parse[T ~string | ~[]byte](s T) (Header, error) {
	raw := util.TrimSP(string(s))
	if raw == "" {
		return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError("empty header"))
	}

	name, value, found := strings.Cut(raw, ":")
	if !found || util.TrimSP(name) == "" {
		return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError("malformed header", raw))
	}
	value = util.TrimSP(value)

	switch cn := CanonicName(name); cn {
	case "Via":
		return errtrace.Wrap2(parseVia(value))
	case "From":
		return errtrace.Wrap2(parseFrom(value))
	case "To":
		return errtrace.Wrap2(parseTo(value))
	case "Contact":
		return errtrace.Wrap2(parseContact(value))
	case "Route":
		return errtrace.Wrap2(parseRoute(value))
	case "Record-Route":
		return errtrace.Wrap2(parseRecordRoute(value))
	case "Call-ID":
		return CallID(value), nil
	case "CSeq":
		return errtrace.Wrap2(parseCSeq(value))
	case "Max-Forwards":
		return errtrace.Wrap2(parseMaxForwards(value))
	case "Expires":
		return errtrace.Wrap2(parseExpires(value))
	case "Min-Expires":
		return errtrace.Wrap2(parseMinExpires(value))
	case "Retry-After":
		return errtrace.Wrap2(parseRetryAfter(value))
	case "Content-Length":
		return errtrace.Wrap2(parseContentLength(value))
	case "Content-Type":
		return ContentType(value), nil
	case "Allow":
		return parseAllow(value), nil
	case "Supported":
		return parseSupported(value), nil
	case "Event":
		return errtrace.Wrap2(parseEvent(value))
	case "Subscription-State":
		return errtrace.Wrap2(parseSubscriptionState(value))
	case "WWW-Authenticate":
		return errtrace.Wrap2(parseWWWAuthenticate(value))
	case "Proxy-Authenticate":
		return errtrace.Wrap2(parseProxyAuthenticate(value))
	case "Authorization":
		return errtrace.Wrap2(parseAuthorization(value))
	case "Proxy-Authorization":
		return errtrace.Wrap2(parseProxyAuthorization(value))
	default:
		if prs, ok := customParsers.Load(util.LCase(util.TrimSP(name))); ok && prs != nil {
			//nolint:forcetypeassert
			if hdr := prs.(Parser)(util.TrimSP(name), value); hdr != nil {
				return hdr, nil
			}
		}
		return &Any{Name: string(cn), Value: value}, nil
	}
}

// splitHdrEntries splits a comma separated header value into entries.
// Commas inside quoted strings or angle brackets don't split.
func splitHdrEntries(s string) []string {
	var entries []string
	var inQuote, inAngle bool
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			if !inAngle {
				inQuote = !inQuote
			}
		case '<':
			if !inQuote {
				inAngle = true
			}
		case '>':
			if !inQuote {
				inAngle = false
			}
		case ',':
			if !inQuote && !inAngle {
				entries = append(entries, util.TrimSP(s[start:i]))
				start = i + 1
			}
		}
	}
	if last := util.TrimSP(s[start:]); last != "" || len(entries) == 0 {
		entries = append(entries, last)
	}
	return entries
}

// cutHdrParams splits a header entry into its value part and trailing
// semicolon separated parameters. Semicolons inside quoted strings or
// angle brackets belong to the value.
func cutHdrParams(s string) (string, Values) {
	var inQuote, inAngle bool
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			if !inAngle {
				inQuote = !inQuote
			}
		case '<':
			if !inQuote {
				inAngle = true
			}
		case '>':
			if !inQuote {
				inAngle = false
			}
		case ';':
			if !inQuote && !inAngle {
				return util.TrimSP(s[:i]), parseHdrParams(s[i+1:])
			}
		}
	}
	return util.TrimSP(s), nil
}

// parseHdrParams parses semicolon separated key=value pairs.
func parseHdrParams(s string) Values {
	var params Values
	var inQuote bool
	start := 0
	flush := func(kv string) {
		kv = util.TrimSP(kv)
		if kv == "" {
			return
		}
		if params == nil {
			params = make(Values)
		}
		k, v, _ := strings.Cut(kv, "=")
		params.Append(util.TrimSP(k), util.TrimSP(v))
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case ';':
			if !inQuote {
				flush(s[start:i])
				start = i + 1
			}
		}
	}
	flush(s[start:])
	return params
}

type headerData struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func ToJSON(hdr Header) ([]byte, error) {
	var hd *headerData
	if hdr != nil {
		hd = &headerData{
			Name:  string(hdr.CanonicName()),
			Value: hdr.RenderValue(),
		}
	}
	return errtrace.Wrap2(json.Marshal(hd))
}

var errNotHeaderJSON errorutil.Error = "not a header JSON"

func FromJSON[T ~string | ~[]byte](data T) (Header, error) {
	var hd *headerData
	if err := json.Unmarshal([]byte(data), &hd); err != nil {
		return nil, errtrace.Wrap(err)
	}
	if hd == nil {
		return nil, errtrace.Wrap(errNotHeaderJSON)
	}

	hdr, err := Parse(hd.Name + ":" + hd.Value)
	if err != nil {
		return nil, errtrace.Wrap(fmt.Errorf("parse header %q: %w", hd.Name, err))
	}
	return hdr, nil
}

func hdrFromJSON[H Header](data []byte) (H, error) {
	var zero H
	gh, err := FromJSON(data)
	if err != nil {
		return zero, errtrace.Wrap(err)
	}

	h, ok := gh.(H)
	if !ok {
		return zero, errtrace.Wrap(errorutil.Errorf("unexpected header: got %T, want %T", gh, zero))
	}
	return h, nil
}
