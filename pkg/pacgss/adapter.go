// Package pacgss adapts the golang-auth GSS-API bindings to the narrow
// capability surface the PAC protocol's server core needs: acquire
// credentials once at startup, advance a per-client context token by
// token, and seal/open payloads under whatever context results.
//
// The core never touches a [gssapi.SecContext] directly; it only sees the
// [Outcome]/[Lifetime] vocabulary below, which keeps pkg/pacsrv free of
// any GSS-API-specific error codes or RFC 2743 terminology.
package pacgss

import (
	"errors"
	"fmt"

	gssapi "github.com/golang-auth/go-gssapi/v3"
)

// DefaultServiceName is acquired if the launcher never specifies one,
// matching gssvpnd's original fallback.
const DefaultServiceName = "gssvpn"

// ErrRekeyNeeded is returned by Wrap/Unwrap when the underlying context has
// become unusable (expired, revoked, or otherwise desynchronized) and the
// caller should discard it and force the peer to re-handshake.
var ErrRekeyNeeded = errors.New("pacgss: rekey needed")

// Outcome is the three-way result of advancing a context with Accept.
type Outcome int

const (
	OutcomeError Outcome = iota
	OutcomeContinue
	OutcomeComplete
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeComplete:
		return "complete"
	default:
		return "error"
	}
}

// Lifetime reports how much validity a context has left.
type Lifetime struct {
	Seconds            uint32
	Indefinite         bool
	Expired            bool
	CredentialsExpired bool
}

// AcceptResult is everything Accept can report back about one step of the
// credential-exchange handshake.
type AcceptResult struct {
	Outcome   Outcome
	OutToken  []byte
	PeerName  string
	Remaining Lifetime
}

// Context is an opaque, per-client security context handle. The zero value
// is the starting state of a new handshake: pass a pointer to it to
// Adapter.Accept, which fills it in. It is usable for Wrap/Unwrap only
// once Accept has reported OutcomeComplete.
type Context struct {
	sc gssapi.SecContext
}

// Adapter is a narrow capability surface over a GSS-API provider: accept a
// context, wrap/unwrap messages, and report remaining lifetime. A single
// Adapter is shared by every connection; AcquireServerCredentials is called
// once at startup and is fatal on failure.
type Adapter struct {
	provider gssapi.Provider
	cred     gssapi.Credential
}

// NewAdapter constructs an Adapter around a concrete [gssapi.Provider]
// (normally [gssapi.Provider] for the host's configured GSS-API mechanism
// library, e.g. MIT Kerberos via cgo, selected at link time by the
// golang-auth/go-gssapi backend build tag).
func NewAdapter(provider gssapi.Provider) *Adapter {
	return &Adapter{provider: provider}
}

// AcquireServerCredentials imports serviceName as a host-based service
// principal and acquires accept-only credentials for it. It must be called
// exactly once before Accept; a failure here is fatal to the process.
func (a *Adapter) AcquireServerCredentials(serviceName string) error {
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	name, err := a.provider.ImportName(serviceName, gssapi.NameTypeHostBasedService)
	if err != nil {
		return fmt.Errorf("import service name %q: %w", serviceName, err)
	}
	cred, err := a.provider.AcquireCredentials(name, gssapi.CredUsageAcceptOnly)
	if err != nil {
		return fmt.Errorf("acquire credentials for %q: %w", serviceName, err)
	}
	a.cred = cred
	return nil
}

// Accept advances ctx (which may point to a zero-valued *Context on the
// first call for a given client) by processing inToken. The caller owns
// *ctx: on OutcomeContinue, it must transmit OutToken and call Accept again
// with the client's next token; on OutcomeComplete, PeerName and Remaining
// become meaningful.
func (a *Adapter) Accept(ctx *Context, inToken []byte) (AcceptResult, error) {
	if a.cred == nil {
		return AcceptResult{Outcome: OutcomeError}, errors.New("pacgss: no server credentials acquired")
	}

	newSC, outToken, err := a.cred.AcceptSecContext(ctx.sc, inToken)
	if err != nil {
		return AcceptResult{Outcome: OutcomeError}, fmt.Errorf("accept security context: %w", err)
	}
	ctx.sc = newSC

	res := AcceptResult{OutToken: outToken}
	if newSC.ContinueNeeded() {
		res.Outcome = OutcomeContinue
		return res, nil
	}

	res.Outcome = OutcomeComplete

	info, err := newSC.Inquire()
	if err != nil {
		return res, fmt.Errorf("inquire completed context: %w", err)
	}
	res.PeerName = info.InitiatorName.String()
	res.Remaining = toLifetime(info.ExpiresAt)
	return res, nil
}

// Wrap seals plaintext under ctx's context, translating the library's
// GSS_S_CONTEXT_EXPIRED/GSS_S_CREDENTIALS_EXPIRED class of failures into
// ErrRekeyNeeded so the caller can drive the rekey path without inspecting
// GSS-API status codes.
func (a *Adapter) Wrap(ctx *Context, plaintext []byte) ([]byte, error) {
	if ctx == nil || ctx.sc == nil {
		return nil, ErrRekeyNeeded
	}
	ciphertext, _, err := ctx.sc.Wrap(plaintext, true, 0)
	if err != nil {
		if isExpiry(err) {
			return nil, ErrRekeyNeeded
		}
		return nil, fmt.Errorf("wrap: %w", err)
	}
	return ciphertext, nil
}

// Unwrap is the inverse of Wrap.
func (a *Adapter) Unwrap(ctx *Context, ciphertext []byte) ([]byte, error) {
	if ctx == nil || ctx.sc == nil {
		return nil, ErrRekeyNeeded
	}
	plaintext, _, _, err := ctx.sc.Unwrap(ciphertext)
	if err != nil {
		if isExpiry(err) {
			return nil, ErrRekeyNeeded
		}
		return nil, fmt.Errorf("unwrap: %w", err)
	}
	return plaintext, nil
}

// Delete releases ctx's underlying context, if any. ctx is safe to reuse
// afterwards (it reverts to the zero state Accept expects on a fresh
// handshake).
func (a *Adapter) Delete(ctx *Context) {
	if ctx == nil || ctx.sc == nil {
		return
	}
	_, _ = ctx.sc.Delete()
	ctx.sc = nil
}

// TimeRemaining reports how much longer ctx's context is valid for.
func (a *Adapter) TimeRemaining(ctx *Context) (Lifetime, error) {
	if ctx == nil || ctx.sc == nil {
		return Lifetime{Expired: true}, nil
	}
	lt, err := ctx.sc.ExpiresAt()
	if err != nil {
		return Lifetime{}, fmt.Errorf("context time: %w", err)
	}
	return toLifetime(*lt), nil
}

func toLifetime(lt gssapi.GssLifetime) Lifetime {
	switch {
	case lt.Indefinite:
		return Lifetime{Indefinite: true}
	case lt.Expired:
		return Lifetime{Expired: true}
	default:
		return Lifetime{Seconds: lt.Seconds}
	}
}

// isExpiry reports whether err corresponds to a context or credential
// expiry status, as opposed to a hard protocol failure.
func isExpiry(err error) bool {
	var statusErr gssapi.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Major == gssapi.StatusContextExpired ||
			statusErr.Major == gssapi.StatusCredentialsExpired
	}
	return false
}
