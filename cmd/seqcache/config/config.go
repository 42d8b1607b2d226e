// Package config contains seqcache command configuration and its parsing.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/facebookgo/stackerr"
	"github.com/spf13/viper"

	"github.com/skipor/seqcache/imbuf"
	"github.com/skipor/seqcache/log"
)

// Channels of simulated frames. RGBA.
const Channels = 4

// Config is raw configuration, merged from defaults, config file, SEQCACHE_ environment and flags.
type Config struct {
	LogDestination string `mapstructure:"log-destination" json:"log-destination,omitempty"` // Stdout, stderr, or filepath.
	LogLevel       string `mapstructure:"log-level" json:"log-level,omitempty"`
	// Size values 10g, 128m, 1024k, 1000000b. Zero means no limit.
	CacheSize string `mapstructure:"cache-size" json:"cache-size,omitempty"`
	// Frame size in pixels: 1920x1080.
	FrameSize string `mapstructure:"frame-size" json:"frame-size,omitempty"`
	Workers   int    `mapstructure:"workers" json:"workers,omitempty"`
	Frames    int    `mapstructure:"frames" json:"frames,omitempty"`
	Strips    int    `mapstructure:"strips" json:"strips,omitempty"`
	Scenes    int    `mapstructure:"scenes" json:"scenes,omitempty"`
	// Passes over all frames. Passes after first one should mostly hit cache.
	Passes int   `mapstructure:"passes" json:"passes,omitempty"`
	Seed   int64 `mapstructure:"seed" json:"seed,omitempty"`
}

func Default() *Config {
	return &Config{
		LogDestination: "stderr",
		LogLevel:       "info",
		CacheSize:      "64m",
		FrameSize:      "320x180",
		Workers:        4,
		Frames:         250,
		Strips:         3,
		Scenes:         1,
		Passes:         2,
		Seed:           1,
	}
}

// SetDefaults registers Default values in v.
func SetDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("log-destination", def.LogDestination)
	v.SetDefault("log-level", def.LogLevel)
	v.SetDefault("cache-size", def.CacheSize)
	v.SetDefault("frame-size", def.FrameSize)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("frames", def.Frames)
	v.SetDefault("strips", def.Strips)
	v.SetDefault("scenes", def.Scenes)
	v.SetDefault("passes", def.Passes)
	v.SetDefault("seed", def.Seed)
}

// Load reads config file, if v has one, and decodes merged configuration.
func Load(v *viper.Viper) (*Config, error) {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, stackerr.Newf("Config read error: %v", err)
		}
	}
	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, stackerr.Newf("Config decode error: %v", err)
	}
	return conf, nil
}

// Simulation is parsed Config.
type Simulation struct {
	LogDestination io.Writer
	LogLevel       log.Level
	CacheSize      int64
	Frame          imbuf.Format
	Workers        int
	Frames         int
	Strips         int
	Scenes         int
	Passes         int
	Seed           int64
}

func Parse(conf Config) (sim Simulation, err error) {
	sim.LogDestination, err = logDestination(conf.LogDestination)
	if err != nil {
		err = stackerr.Newf("Log destination open error: %v", err)
		return
	}
	sim.LogLevel, err = log.LevelFromString(conf.LogLevel)
	if err != nil {
		err = stackerr.Newf("Log level parse error: %v", err)
		return
	}
	if conf.CacheSize != "0" {
		sim.CacheSize, err = parseSize(conf.CacheSize)
		if err != nil {
			err = stackerr.Newf("Cache size parse error: %v", err)
			return
		}
	}
	sim.Frame, err = parseFrameSize(conf.FrameSize)
	if err != nil {
		err = stackerr.Newf("Frame size parse error: %v", err)
		return
	}
	for _, c := range []struct {
		name string
		val  int
	}{
		{"workers", conf.Workers},
		{"frames", conf.Frames},
		{"strips", conf.Strips},
		{"scenes", conf.Scenes},
		{"passes", conf.Passes},
	} {
		if c.val <= 0 {
			err = stackerr.Newf("Non positive %s: %v.", c.name, c.val)
			return
		}
	}
	sim.Workers, sim.Frames, sim.Strips, sim.Scenes, sim.Passes = conf.Workers, conf.Frames, conf.Strips, conf.Scenes, conf.Passes
	sim.Seed = conf.Seed
	return
}

func parseSize(s string) (size int64, err error) {
	if len(s) < 2 {
		err = errors.New("Invalid size format.")
		return
	}
	sep := len(s) - 1
	sizeStr := s[:sep]
	exponentStr := s[sep:]
	var exponent uint32
	switch strings.ToLower(exponentStr) {
	case "b":
		exponent = 0
	case "k":
		exponent = 10
	case "m":
		exponent = 20
	case "g":
		exponent = 30
	default:
		err = errors.New("Invalid exponent. Only 'b', 'k', 'm', 'g' allowed.")
		return
	}
	size, err = strconv.ParseInt(sizeStr, 10, 31)
	if err != nil {
		err = fmt.Errorf("Size parse error: %s", err)
		return
	}
	size <<= exponent
	return
}

func parseFrameSize(s string) (f imbuf.Format, err error) {
	parts := strings.Split(strings.ToLower(s), "x")
	if len(parts) != 2 {
		err = errors.New("Invalid frame size format. Expected WIDTHxHEIGHT.")
		return
	}
	if f.Width, err = strconv.Atoi(parts[0]); err != nil {
		return
	}
	if f.Height, err = strconv.Atoi(parts[1]); err != nil {
		return
	}
	if f.Width <= 0 || f.Height <= 0 {
		err = errors.New("Non positive frame dimension.")
		return
	}
	f.Channels = Channels
	return
}

func logDestination(dest string) (w io.Writer, err error) {
	switch strings.ToLower(dest) {
	case "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		w, err = os.OpenFile(dest, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	}
	return
}

func Marshal(conf *Config) []byte {
	data, err := json.Marshal(conf)
	if err != nil {
		panic(err)
	}
	return data
}
