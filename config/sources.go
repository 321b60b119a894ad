package config

import (
	"strings"

	"github.com/charmbracelet/log"
	"github.com/knadh/koanf/parsers/hcl"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "SDRFIFO_"

// EnvKey maps SDRFIFO_RX_DC_OFFSET_I to rx.dc_offset_i. Only the first underscore separates the
// section from the key.
func EnvKey(k string) string {
	key := strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	return strings.Replace(key, "_", ".", 1)
}

// EnvProvider reads SDRFIFO_* variables.
func EnvProvider() *env.Env {
	return env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(k, v string) (string, any) {
			key := EnvKey(k)
			log.Debugf("Found config env var: %s=%v", key, v)
			return key, v
		},
	})
}

// LoadFile reads an HCL config file into k.
func LoadFile(k *koanf.Koanf, path string) error {
	return k.Load(file.Provider(path), hcl.Parser(true))
}
