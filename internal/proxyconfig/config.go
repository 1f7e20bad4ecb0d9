// Package proxyconfig builds and defaults the configuration handed to the
// image proxy subprocess: registry auth, TLS verification, and optional
// privilege-dropped isolation.
package proxyconfig

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultUnprivilegedUser is the user the proxy drops privileges to when
// running as root and no explicit subprocess configuration was supplied.
const DefaultUnprivilegedUser = "nobody"

// Config describes how to invoke and authenticate the image proxy
// subprocess.
type Config struct {
	// Binary overrides the proxy executable; when empty DefaultBinary (see
	// package proxy) is used and isolation defaults may apply.
	Binary string

	AuthFile      string
	AuthAnonymous bool
	// AuthData, once set, is an already-opened auth file handle passed to
	// the child via an extra fd rather than by path, so it stays readable
	// after privileges are dropped.
	AuthData *os.File

	InsecureSkipTLSVerify bool

	// IsolationUser, when non-empty, runs the proxy as this unprivileged
	// user rather than inheriting our own credentials.
	IsolationUser string

	ExtraArgs []string
}

// Args renders cfg as proxy subprocess command-line arguments. authFileArg,
// if non-empty, is substituted for AuthFile when AuthData was opened by fd
// (the caller computes the /proc/self/fd/<n> path once ExtraFiles is final).
func (c Config) Args(authFileArg string) []string {
	var args []string
	if c.AuthAnonymous {
		args = append(args, "--no-creds")
	}
	if authFileArg != "" {
		args = append(args, "--authfile", authFileArg)
	} else if c.AuthFile != "" {
		args = append(args, "--authfile", c.AuthFile)
	}
	if c.InsecureSkipTLSVerify {
		args = append(args, "--tls-verify=false")
	}
	return append(args, c.ExtraArgs...)
}

// MergeDefaults applies default pull configuration to cfg, dropping
// privileges to DefaultUnprivilegedUser when running as root and no
// explicit binary override was given.
func MergeDefaults(cfg *Config) error {
	isolationUser := ""
	if os.Geteuid() == 0 {
		isolationUser = DefaultUnprivilegedUser
	}
	return MergeDefaultsWithIsolation(cfg, isolationUser)
}

// MergeDefaultsWithIsolation is MergeDefaults with an explicit isolation
// user (or "" to disable privilege-dropping), for callers that already
// know their own privilege model.
//
// It is idempotent: calling it twice in a row leaves cfg unchanged on the
// second call.
func MergeDefaultsWithIsolation(cfg *Config, isolationUser string) error {
	authSpecified := cfg.AuthAnonymous || cfg.AuthFile != "" || cfg.AuthData != nil
	if !authSpecified {
		cfg.AuthFile = globalAuthFilePath()
		if cfg.AuthFile == "" {
			cfg.AuthAnonymous = true
		}
	}

	// Only apply isolation defaults when the caller hasn't already picked
	// an explicit subprocess binary/configuration of their own.
	if cfg.Binary != "" {
		return nil
	}
	if isolationUser == "" {
		return nil
	}

	if cfg.AuthFile != "" {
		f, err := os.Open(cfg.AuthFile)
		if err != nil {
			return fmt.Errorf("opening authfile %s: %w", cfg.AuthFile, err)
		}
		cfg.AuthData = f
		cfg.AuthFile = ""
	}
	cfg.IsolationUser = isolationUser
	return nil
}

// globalAuthFilePath locates a system or user registry auth file, mirroring
// apptainer's ChooseAuthFile fallback chain (an explicit override, then the
// standard container auth file search path).
func globalAuthFilePath() string {
	if p := os.Getenv("REGISTRY_AUTH_FILE"); p != "" {
		return p
	}
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		p := filepath.Join(runtimeDir, "containers", "auth.json")
		if fileExists(p) {
			return p
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".docker", "config.json")
		if fileExists(p) {
			return p
		}
	}
	return ""
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
