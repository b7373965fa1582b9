//go:build !linux

package pactap

import "errors"

// Open is unimplemented outside linux: tap devices are a Linux-specific
// kernel facility (struct ifreq + TUNSETIFF).
func Open(name string) (*Device, error) {
	return nil, errors.New("pactap: tap devices are only supported on linux")
}
