package config

import (
	"github.com/spf13/viper"
)

// Default network parameters. They are network-wide policy constants; every
// node of one network must run with the same values.
const (
	// DefaultElderSize is the target number of elders per section.
	DefaultElderSize = 7

	// DefaultSafeSectionSize is the minimum number of members a section
	// needs before it is considered safe against churn.
	DefaultSafeSectionSize = 8
)

// Environment variables overriding the network parameter defaults.
const (
	EnvElderSize       = "SECTION_ELDER_SIZE"
	EnvSafeSectionSize = "SECTION_SAFE_SECTION_SIZE"
)

// NetworkParams bundles the section sizing parameters: number of elders and
// minimum safe section size.
type NetworkParams struct {
	// ElderSize is the number of elders per section.
	ElderSize int `mapstructure:"elder-size"`

	// SafeSectionSize is the minimum number of nodes we consider safe in a
	// section.
	SafeSectionSize int `mapstructure:"safe-section-size"`
}

// DefaultNetworkParams returns the network parameters, taking overrides from
// the environment and falling back to the hard-coded defaults.
func DefaultNetworkParams() NetworkParams {
	v := viper.New()
	v.SetDefault("elder-size", DefaultElderSize)
	v.SetDefault("safe-section-size", DefaultSafeSectionSize)
	v.BindEnv("elder-size", EnvElderSize)
	v.BindEnv("safe-section-size", EnvSafeSectionSize)

	params := NetworkParams{
		ElderSize:       v.GetInt("elder-size"),
		SafeSectionSize: v.GetInt("safe-section-size"),
	}

	// A non-numeric or non-positive override is ignored rather than
	// propagated; parameters must stay positive.
	if params.ElderSize <= 0 {
		params.ElderSize = DefaultElderSize
	}
	if params.SafeSectionSize <= 0 {
		params.SafeSectionSize = DefaultSafeSectionSize
	}

	return params
}
