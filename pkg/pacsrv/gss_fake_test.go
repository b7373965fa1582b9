package pacsrv

import (
	gssapi "github.com/golang-auth/go-gssapi/v3"
)

// fakeGssName, fakeSecContext, fakeCredential, and fakeProvider are a
// trivial two-round GSS-API handshake and XOR-wrap double, just enough to
// drive pacgss.Adapter end-to-end from pacsrv's tests without a real
// Kerberos KDC. This mirrors pkg/pacgss's own fakes; pacsrv needs its own
// copy since those are unexported to their package.
type fakeGssName string

func (n fakeGssName) String() string { return string(n) }

type fakeSecContext struct {
	rounds  int
	done    bool
	expired bool
	key     byte
}

func (c *fakeSecContext) Delete() ([]byte, error)   { return nil, nil }
func (c *fakeSecContext) ProcessToken([]byte) error { return nil }
func (c *fakeSecContext) ContinueNeeded() bool      { return !c.done }

func (c *fakeSecContext) WrapSizeLimit(bool, uint, gssapi.QoP) (uint, error) {
	return 16384, nil
}
func (c *fakeSecContext) Export() ([]byte, error) { return nil, nil }
func (c *fakeSecContext) GetMIC([]byte, gssapi.QoP) ([]byte, error) {
	return nil, nil
}
func (c *fakeSecContext) VerifyMIC([]byte, []byte) (gssapi.QoP, error) {
	return 0, nil
}

func (c *fakeSecContext) ExpiresAt() (*gssapi.GssLifetime, error) {
	if c.expired {
		return &gssapi.GssLifetime{Expired: true}, nil
	}
	return &gssapi.GssLifetime{Seconds: 3600}, nil
}

func (c *fakeSecContext) Inquire() (*gssapi.SecContextInfo, error) {
	return &gssapi.SecContextInfo{
		InitiatorName:    fakeGssName("client@EXAMPLE"),
		FullyEstablished: c.done,
		ExpiresAt:        gssapi.GssLifetime{Seconds: 3600},
	}, nil
}

func (c *fakeSecContext) Continue(tokIn []byte) ([]byte, error) {
	c.rounds++
	if c.rounds >= 2 {
		c.done = true
		return nil, nil
	}
	return []byte("challenge"), nil
}

func (c *fakeSecContext) Wrap(msgIn []byte, confReq bool, qop gssapi.QoP) ([]byte, bool, error) {
	if c.expired {
		return nil, false, gssapi.StatusError{Major: gssapi.StatusContextExpired}
	}
	return xorBuf(msgIn, c.key), true, nil
}

func (c *fakeSecContext) Unwrap(msgIn []byte) ([]byte, bool, gssapi.QoP, error) {
	if c.expired {
		return nil, false, 0, gssapi.StatusError{Major: gssapi.StatusContextExpired}
	}
	return xorBuf(msgIn, c.key), true, 0, nil
}

func xorBuf(b []byte, key byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = c ^ key
	}
	return out
}

type fakeCredential struct{}

// lastFakeSecContext records the most recently created fake context so
// tests can reach in and flip its expired flag: pacgss.Context.sc is
// unexported, so pacsrv's tests have no other handle on it.
var lastFakeSecContext *fakeSecContext

func (fakeCredential) AcceptSecContext(ctx gssapi.SecContext, token []byte) (gssapi.SecContext, []byte, error) {
	sc, _ := ctx.(*fakeSecContext)
	if sc == nil {
		sc = &fakeSecContext{key: 0x5A}
		lastFakeSecContext = sc
	}
	out, err := sc.Continue(token)
	return sc, out, err
}

func (fakeCredential) Release() error { return nil }

type fakeProvider struct{}

func (fakeProvider) ImportName(name string, nt gssapi.NameType) (gssapi.GssName, error) {
	return fakeGssName(name), nil
}

func (fakeProvider) AcquireCredentials(name gssapi.GssName, usage gssapi.CredUsage, mechs ...gssapi.GssMech) (gssapi.Credential, error) {
	return fakeCredential{}, nil
}
