// Command pacvpnd runs the PAC protocol server: a GSS-authenticated
// layer-2 VPN concentrator bridging many UDP-multiplexed remote clients
// to a local tap device.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-envparse"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/r2northstar/pacvpnd/pkg/pacgss"
	"github.com/r2northstar/pacvpnd/pkg/pacsrv"
	"github.com/r2northstar/pacvpnd/pkg/pactap"
)

// opt is the daemon's CLI surface. Each flag is bound to its own
// variable; -u/-t/-d are deliberately orthogonal, with no fallthrough and
// no implied relationship between them.
var opt struct {
	Verbose       bool
	Port          int
	TapDevice     string
	ServiceName   string
	NetinitHelper string
	SetuidUser    string
	KillOnTimeout bool
	Daemonize     bool
	EnvFile       string
	Help          bool
}

func init() {
	pflag.BoolVarP(&opt.Verbose, "verbose", "v", false, "Enable verbose logging")
	pflag.IntVarP(&opt.Port, "port", "p", 0, "UDP port to listen on (default 2106)")
	pflag.StringVarP(&opt.TapDevice, "tap-device", "i", "", "Tap device name")
	pflag.StringVarP(&opt.ServiceName, "service-name", "s", "", "GSS-API service principal name")
	pflag.StringVarP(&opt.NetinitHelper, "helper", "a", "", "Path to the netinit admission helper")
	pflag.StringVarP(&opt.SetuidUser, "user", "u", "", "User to drop privileges to")
	pflag.BoolVarP(&opt.KillOnTimeout, "kill-on-timeout", "t", false, "Destroy connections on context expiry instead of nudging re-handshake")
	pflag.BoolVarP(&opt.Daemonize, "daemonize", "d", false, "Detach from the controlling terminal")
	pflag.StringVarP(&opt.EnvFile, "env-file", "e", "", "Read configuration from an env file instead of the environment")
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()
	if opt.Help {
		fmt.Printf("usage: %s [options]\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		os.Exit(2)
	}

	var c Config
	es := os.Environ()
	if opt.EnvFile != "" {
		f, err := os.Open(opt.EnvFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: open env file: %v\n", err)
			os.Exit(1)
		}
		m, err := envparse.Parse(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: parse env file: %v\n", err)
			os.Exit(1)
		}
		es = es[:0]
		for k, v := range m {
			es = append(es, k+"="+v)
		}
	}
	if err := c.UnmarshalEnv(es); err != nil {
		fmt.Fprintf(os.Stderr, "error: parse config: %v\n", err)
		os.Exit(1)
	}

	applyFlagOverrides(&c)

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger().Level(c.LogLevel)
	if c.Verbose {
		logger = logger.Level(zerolog.TraceLevel)
	}

	if c.Daemonize {
		if err := daemonize(); err != nil {
			logger.Fatal().Err(err).Msg("daemonize failed")
		}
	}

	tap, err := pactap.Open(c.TapDevice)
	if err != nil {
		logger.Fatal().Err(err).Msg("open tap device failed")
	}
	logger.Info().Str("device", tap.Name).Msg("tap device opened")

	udpConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: c.Port})
	if err != nil {
		logger.Fatal().Err(err).Int("port", c.Port).Msg("bind udp socket failed")
	}
	logger.Info().Int("port", c.Port).Msg("udp socket bound")

	provider, err := pacgss.NewDefaultProvider()
	if err != nil {
		logger.Fatal().Err(err).Msg("construct gss-api provider failed")
	}
	auth := pacgss.NewAdapter(provider)
	if err := auth.AcquireServerCredentials(c.ServiceName); err != nil {
		logger.Fatal().Err(err).Str("service", c.ServiceName).Msg("acquire server credentials failed")
	}
	logger.Info().Str("service", c.ServiceName).Msg("server credentials acquired")

	if err := dropPrivileges(c.SetuidUser); err != nil {
		logger.Fatal().Err(err).Str("user", c.SetuidUser).Msg("drop privileges failed")
	}

	srv := pacsrv.NewServerFromDevices(tap, udpConn, auth, logger, pacsrv.Flags{
		Verbose:       c.Verbose,
		KillOnTimeout: c.KillOnTimeout,
		Daemonize:     c.Daemonize,
	}, c.NetinitHelper)

	if c.DebugAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			srv.Metrics().WritePrometheus(w)
		})
		go func() {
			logger.Warn().Str("addr", c.DebugAddr).Msg("running insecure debug server")
			if err := http.ListenAndServe(c.DebugAddr, mux); err != nil {
				logger.Warn().Err(err).Msg("debug server exited")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("event loop exited with error")
	}
}

// applyFlagOverrides layers explicit pflag values over the env-sourced
// Config: env file first, explicit flags win. A flag only overrides its
// Config field when the user actually passed it (pflag reports this via
// Changed).
func applyFlagOverrides(c *Config) {
	pflag.CommandLine.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "verbose":
			c.Verbose = opt.Verbose
		case "port":
			c.Port = opt.Port
		case "tap-device":
			c.TapDevice = opt.TapDevice
		case "service-name":
			c.ServiceName = opt.ServiceName
		case "helper":
			c.NetinitHelper = opt.NetinitHelper
		case "user":
			c.SetuidUser = opt.SetuidUser
		case "kill-on-timeout":
			c.KillOnTimeout = opt.KillOnTimeout
		case "daemonize":
			c.Daemonize = opt.Daemonize
		}
	})
}
