package main

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Config holds the daemon's environment-driven settings via an
// env-tag/UnmarshalEnv pattern: one struct tag per field naming both the
// environment variable and its default. pflag flags set in main.go take
// priority over these when both are present, so an env file can supply
// defaults that an explicit flag then overrides.
type Config struct {
	// Port is the UDP port the daemon listens on.
	Port int `env:"PACVPND_PORT=2106"`

	// TapDevice is the name of the tap interface to open or create.
	TapDevice string `env:"PACVPND_TAP_DEVICE=pac0"`

	// ServiceName is the GSS-API service principal acquired at startup.
	ServiceName string `env:"PACVPND_SERVICE_NAME=gssvpn"`

	// NetinitHelper is the optional path to the netinit admission helper.
	NetinitHelper string `env:"PACVPND_NETINIT_HELPER"`

	// SetuidUser is the user to drop privileges to after binding sockets
	// and opening the tap device, if non-empty.
	SetuidUser string `env:"PACVPND_SETUID_USER"`

	// KillOnTimeout governs the expired-context branch: destroy the
	// connection instead of nudging a re-handshake.
	KillOnTimeout bool `env:"PACVPND_KILL_ON_TIMEOUT"`

	// Daemonize detaches the process from its controlling terminal.
	Daemonize bool `env:"PACVPND_DAEMONIZE"`

	// Verbose raises the amount of per-packet tracing logged.
	Verbose bool `env:"PACVPND_VERBOSE"`

	// LogLevel is the minimum zerolog level logged to stdout.
	LogLevel zerolog.Level `env:"PACVPND_LOG_LEVEL=info"`

	// DebugAddr, if set, serves /debug/pprof and /metrics for operators.
	DebugAddr string `env:"PACVPND_DEBUG_ADDR"`
}

// UnmarshalEnv populates c's fields from es, a list of "KEY=VALUE"
// strings, using each field's env struct tag for the variable name and
// default value. Fields whose tag key isn't present in es keep their
// tag-specified default.
func (c *Config) UnmarshalEnv(es []string) error {
	em := map[string]string{}
	for _, e := range es {
		if strings.HasPrefix(e, "PACVPND_") {
			if k, v, ok := strings.Cut(e, "="); ok {
				em[k] = v
			}
		}
	}

	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}
		key, val, _ := strings.Cut(env, "=")
		if v, exists := em[key]; exists {
			val = v
		}

		cvf := cv.FieldByName(ctf.Name)
		switch cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case int:
			if val == "" {
				cvf.SetInt(0)
			} else if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cvf.SetInt(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		default:
			return fmt.Errorf("env %s: unsupported config field type %s", key, cvf.Type())
		}
	}
	return nil
}
