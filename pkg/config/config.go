// Package config holds the tunables of the launch path.
package config

import (
	"crypto"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-tpm/tpm2"
	"github.com/kairos-io/go-oslo/pkg/constants"
	"github.com/spf13/viper"
)

// ErrUnknownHash is returned for hash names without a TPM bank.
var ErrUnknownHash = errors.New("unknown hash algorithm")

// TIS configures the register driver.
type TIS struct {
	Base         uint32        `mapstructure:"base"`
	PollAttempts int           `mapstructure:"poll-attempts"`
	PollInterval time.Duration `mapstructure:"poll-interval"`
	ClaimDelay   time.Duration `mapstructure:"claim-delay"`
}

// APIC configures the application processor shutdown.
type APIC struct {
	PollAttempts int `mapstructure:"poll-attempts"`
}

// Exit configures the termination sequence.
type Exit struct {
	Delay time.Duration `mapstructure:"delay"`
	Ticks int           `mapstructure:"ticks"`
}

// Config is the launch configuration.
type Config struct {
	TIS  TIS  `mapstructure:"tis"`
	APIC APIC `mapstructure:"apic"`
	Exit Exit `mapstructure:"exit"`

	// PCR receives one extension per boot module.
	PCR int `mapstructure:"pcr"`
	// ReadbackPCR is read back after the measurements in debug mode.
	ReadbackPCR int `mapstructure:"readback-pcr"`
	// Hash names the measurement algorithm.
	Hash string `mapstructure:"hash"`
	// Strict aborts the launch when a PCR extension fails.
	Strict bool `mapstructure:"strict"`
	// Debug dumps every PCR after the measurements.
	Debug bool `mapstructure:"debug"`

	LoaderName     string `mapstructure:"loader-name"`
	LoaderNameAddr uint32 `mapstructure:"loader-name-addr"`
}

// Default returns the PC client configuration.
func Default() *Config {
	return &Config{
		TIS: TIS{
			Base:         constants.TISBase,
			PollAttempts: 750,
			PollInterval: time.Millisecond,
			ClaimDelay:   10 * time.Millisecond,
		},
		APIC: APIC{
			PollAttempts: 1000,
		},
		Exit: Exit{
			Delay: time.Second,
			Ticks: 16,
		},
		PCR:            constants.DRTMPCR,
		ReadbackPCR:    constants.SkinitPCR,
		Hash:           "sha1",
		Strict:         true,
		LoaderName:     constants.Name,
		LoaderNameAddr: constants.LoaderNameAddr,
	}
}

// SetDefaults registers the defaults with v so that partial configuration
// files and environment variables merge with them.
func SetDefaults(v *viper.Viper) {
	d := Default()

	for key, val := range map[string]any{
		"tis.base":           d.TIS.Base,
		"tis.poll-attempts":  d.TIS.PollAttempts,
		"tis.poll-interval":  d.TIS.PollInterval,
		"tis.claim-delay":    d.TIS.ClaimDelay,
		"apic.poll-attempts": d.APIC.PollAttempts,
		"exit.delay":         d.Exit.Delay,
		"exit.ticks":         d.Exit.Ticks,
		"pcr":                d.PCR,
		"readback-pcr":       d.ReadbackPCR,
		"hash":               d.Hash,
		"strict":             d.Strict,
		"debug":              d.Debug,
		"loader-name":        d.LoaderName,
		"loader-name-addr":   d.LoaderNameAddr,
	} {
		v.SetDefault(key, val)
	}
}

// Load decodes the configuration held by v on top of the defaults.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Validate checks the values that would make the launch path misbehave.
func (c *Config) Validate() error {
	if _, _, err := c.Algorithm(); err != nil {
		return err
	}

	for name, pcr := range map[string]int{"pcr": c.PCR, "readback-pcr": c.ReadbackPCR} {
		if pcr < 0 || pcr >= constants.PCRCount {
			return fmt.Errorf("%s %d out of range", name, pcr)
		}
	}

	if c.TIS.PollAttempts <= 0 || c.APIC.PollAttempts <= 0 {
		return errors.New("poll attempts must be positive")
	}

	return nil
}

// Algorithm returns the measurement hash and its TPM bank.
func (c *Config) Algorithm() (crypto.Hash, tpm2.TPMAlgID, error) {
	switch strings.ToLower(strings.ReplaceAll(c.Hash, "-", "")) {
	case "sha1":
		return crypto.SHA1, tpm2.TPMAlgSHA1, nil
	case "sha256":
		return crypto.SHA256, tpm2.TPMAlgSHA256, nil
	case "sha384":
		return crypto.SHA384, tpm2.TPMAlgSHA384, nil
	case "sha512":
		return crypto.SHA512, tpm2.TPMAlgSHA512, nil
	default:
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownHash, c.Hash)
	}
}
