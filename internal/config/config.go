// Package config loads the lib-directory / probe-identity settings that
// govern how caps spawns and probes hypervisor binaries.
package config

import (
	"io/ioutil"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config is the decoded form of the TOML configuration file.
type Config struct {
	LibDir       string   `toml:"lib_dir"`
	ProbeUID     int      `toml:"probe_uid"`
	ProbeGID     int      `toml:"probe_gid"`
	EnvAllowlist []string `toml:"env_allowlist"`
	NoCacheFile  bool     `toml:"no_cache_file"`
}

// defaultEnvAllowlist is carried into the spawned probe's environment
// verbatim; everything else is stripped.
var defaultEnvAllowlist = []string{"PATH", "HOME", "LANG"}

// Default returns the configuration used when no file is supplied:
// /var/lib/qemu-capabilities, running as the calling process's own
// uid/gid, with the default environment allowlist and the status-file
// cache enabled.
func Default() Config {
	return Config{
		LibDir:       "/var/lib/qemu-capabilities",
		ProbeUID:     os.Getuid(),
		ProbeGID:     os.Getgid(),
		EnvAllowlist: append([]string(nil), defaultEnvAllowlist...),
	}
}

// Load reads and decodes a TOML configuration file at path, filling in
// Default() for any field the file leaves unset.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config file %s", path)
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, errors.Wrapf(err, "decode config file %s", path)
	}

	if len(cfg.EnvAllowlist) == 0 {
		cfg.EnvAllowlist = append([]string(nil), defaultEnvAllowlist...)
	}

	return cfg, nil
}

// SanitizedEnviron returns the subset of os.Environ() whose key is in
// cfg.EnvAllowlist, in KEY=VALUE form, suitable for passing to
// exec.Cmd.Env.
func (cfg Config) SanitizedEnviron() []string {
	allowed := make(map[string]bool, len(cfg.EnvAllowlist))
	for _, k := range cfg.EnvAllowlist {
		allowed[k] = true
	}

	var env []string
	for _, kv := range os.Environ() {
		for k := range allowed {
			if len(kv) > len(k) && kv[:len(k)] == k && kv[len(k)] == '=' {
				env = append(env, kv)
				break
			}
		}
	}
	return env
}
