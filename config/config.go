// Package config holds the handful of knobs an embedding caller may
// want to fix ahead of time rather than pass on every unwind call,
// loaded from an optional YAML file plus programmatic overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/msft-mirror-aosp/platform.system.unwinding/unwinder"
)

// Config is every setting this module's callers can fix ahead of
// time instead of threading through every call.
type Config struct {
	MaxFrames      int  `yaml:"max-frames"`
	ResolveNames   bool `yaml:"resolve-names"`
	DisplayBuildID bool `yaml:"display-build-id"`
	EmbeddedSoname bool `yaml:"embedded-soname"`

	// PointerAuthMask is ANDed out of arm64 link-register/return
	// addresses before use, per arch.Registers.PointerAuthMask.
	PointerAuthMask uint64 `yaml:"pointer-auth-mask"`

	// ARTModuleAllowList restricts which mapped library names the
	// JIT/DEX descriptor scan considers; empty means every mapping.
	ARTModuleAllowList []string `yaml:"art-module-allow-list"`

	// FunctionNameCacheSize bounds how many modules' function-name
	// caches (one symcache.Cache each) the unwinder keeps resident at
	// once, fed to unwinder.Options.FunctionNameCacheSize.
	FunctionNameCacheSize int `yaml:"function-name-cache-size"`

	// PageCacheBits sizes the page-cache's page as 1<<PageCacheBits
	// bytes, fed to memory.NewCacheWithOptions.
	PageCacheBits uint `yaml:"page-cache-bits"`
}

// Default returns a reasonable starting configuration: resolve names
// and display build IDs, a 128-frame ceiling, no pointer-auth masking
// (no autodiscovery), no ART allow-list restriction, and the
// memory/symcache packages' built-in sizing.
func Default() Config {
	return Config{
		MaxFrames:             128,
		ResolveNames:          true,
		DisplayBuildID:        true,
		EmbeddedSoname:        true,
		FunctionNameCacheSize: 64,
		PageCacheBits:         12,
	}
}

// Load reads path (if it exists) as YAML over Default(), returning
// Default() verbatim when path is empty or missing — an absent config
// file is not an error.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, fmt.Errorf("reading config file %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parsing config file %q: %w", path, err)
	}
	return c, nil
}

// Save marshals c to path as YAML, for a caller that programmatically
// derived a configuration and wants to persist it.
func Save(c Config, path string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// UnwinderOptions projects the subset of c that unwinder.Options
// accepts, for a caller building an unwinder.Unwinder directly from a
// loaded Config.
func (c Config) UnwinderOptions() unwinder.Options {
	return unwinder.Options{
		ResolveNames:          c.ResolveNames,
		DisplayBuildID:        c.DisplayBuildID,
		EmbeddedSOName:        c.EmbeddedSoname,
		FunctionNameCacheSize: c.FunctionNameCacheSize,
	}
}
