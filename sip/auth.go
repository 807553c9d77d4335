package sip

import (
	"braces.dev/errtrace"
	"github.com/icholy/digest"

	"github.com/signalpath/sipcore/header"
)

// Credentials is a username/password pair used to answer digest
// authentication challenges, RFC 3261 Section 22.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"-"`
}

// IsZero returns whether no credentials are set.
func (c Credentials) IsZero() bool { return c == Credentials{} }

// challengeFromResponse extracts the digest challenge from a 401 or 407
// response. The second return value reports whether the challenge was
// issued by a proxy.
func challengeFromResponse(res *InboundResponse) (chal *digest.Challenge, proxy bool, err error) {
	switch res.Status() {
	case ResponseStatusUnauthorized:
		hdr, ok := res.Headers().WWWAuthenticate()
		if !ok || !hdr.IsValid() {
			return nil, false, errtrace.Wrap(NewInvalidMessageError("missing WWW-Authenticate header"))
		}
		return hdr.Challenge, false, nil
	case ResponseStatusProxyAuthenticationRequired:
		hdr, ok := res.Headers().ProxyAuthenticate()
		if !ok || !hdr.IsValid() {
			return nil, false, errtrace.Wrap(NewInvalidMessageError("missing Proxy-Authenticate header"))
		}
		return hdr.Challenge, true, nil
	default:
		return nil, false, errtrace.Wrap(NewInvalidArgumentError("response is not an authentication challenge"))
	}
}

// authorizeRequest answers the digest challenge carried by res with the
// given credentials: the Authorization or Proxy-Authorization header is
// stamped into req, the topmost Via gets a fresh branch and the CSeq is
// incremented, so the resent request forms a new transaction.
func authorizeRequest(req *OutboundRequest, res *InboundResponse, creds Credentials) error {
	chal, proxy, err := challengeFromResponse(res)
	if err != nil {
		return errtrace.Wrap(err)
	}

	auth, err := digest.Digest(chal, digest.Options{
		Method:   string(req.Method()),
		URI:      req.URI().Render(nil),
		Username: creds.Username,
		Password: creds.Password,
	})
	if err != nil {
		return errtrace.Wrap(err)
	}

	req.mu.Lock()
	defer req.mu.Unlock()

	cseq, ok := req.msg.Headers.CSeq()
	if !ok {
		return errtrace.Wrap(NewInvalidMessageError(newMissHdrErr("CSeq")))
	}
	if cseq.SeqNum >= header.MaxCSeqNum {
		return errtrace.Wrap(ErrCSeqExhausted)
	}

	if proxy {
		req.msg.Headers.Set(&header.ProxyAuthorization{Credentials: auth})
	} else {
		req.msg.Headers.Set(&header.Authorization{Credentials: auth})
	}

	if via, ok := req.msg.Headers.FirstVia(); ok {
		if via.Params == nil {
			via.Params = make(header.Values)
		}
		via.Params.Set("branch", GenerateBranch())
	}
	cseq.SeqNum++
	return nil
}
