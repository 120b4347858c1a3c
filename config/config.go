// Package config reads capcheck's environment defaults. Command-line flags
// override every value here.
package config

import (
	"fmt"
	"reflect"

	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
)

// ByteSize is a size parsed from a human string such as "1MiB" or "4096".
type ByteSize uint64

func (b ByteSize) String() string { return humanize.IBytes(uint64(b)) }

// ParseByteSize accepts plain byte counts and SI or IEC suffixes.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

type Config struct {
	BlockSize ByteSize `env:"CAPCHECK_BLOCK_SIZE" envDefault:"1MiB"`
	Seed      uint64   `env:"CAPCHECK_SEED"` // 0 derives the seed from the run ID
	UI        string   `env:"CAPCHECK_UI"         envDefault:"auto"`
	LogLevel  string   `env:"CAPCHECK_LOG_LEVEL"  envDefault:"info"`
	LogFormat string   `env:"CAPCHECK_LOG_FORMAT" envDefault:"console"`
}

func (c Config) Validate() error {
	switch c.UI {
	case "auto", "tui", "plain":
	default:
		return fmt.Errorf("CAPCHECK_UI: unknown mode %q (want auto, tui or plain)", c.UI)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("CAPCHECK_LOG_FORMAT: unknown format %q (want console or json)", c.LogFormat)
	}
	return nil
}

func Parse() (Config, error) {
	c, err := env.ParseAsWithOptions[Config](env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(ByteSize(0)): func(v string) (any, error) {
				return ParseByteSize(v)
			},
		},
	})
	if err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}
