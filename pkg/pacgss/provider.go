package pacgss

import gssapi "github.com/golang-auth/go-gssapi/v3"

// NewDefaultProvider constructs the GSS-API provider for the host's
// configured mechanism library (on Linux, typically MIT Kerberos via the
// library's cgo backend, selected at link time). [Adapter] itself depends
// only on the narrower [gssapi.Provider]/[gssapi.Credential] interfaces, so
// cmd/pacvpnd calls this constructor rather than reaching into gssapi
// internals directly.
func NewDefaultProvider() (gssapi.Provider, error) {
	return gssapi.NewProvider()
}
