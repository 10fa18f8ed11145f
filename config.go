// Copyright (c) 2020 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

package idevicextract

import (
	"os"
	"time"

	"github.com/imdario/mergo"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// PassphraseEnv is the environment variable holding the sealing passphrase.
// It is never written to disk or to the report.
const PassphraseEnv = "IDEVICEXTRACT_KEY"

// Config controls one extraction run. Missing fields are filled from
// DefaultConfig.
type Config struct {
	OutputDir     string `yaml:"output_dir"`
	ScratchDir    string `yaml:"scratch_dir"`
	MessagesFile  string `yaml:"messages_file"`
	InventoryFile string `yaml:"inventory_file"`
	ReportFile    string `yaml:"report_file"`
	Label         string `yaml:"label"`
	// Timeout bounds the whole run, parsed like "90s" or "5m". Empty
	// disables the bound.
	Timeout string `yaml:"timeout"`
	// SealInventory also seals the application inventory, which is written
	// in plaintext by default.
	SealInventory bool `yaml:"seal_inventory"`

	Passphrase string `yaml:"-"`
}

// DefaultConfig returns the fixed output names of a standard run.
func DefaultConfig() Config {
	return Config{
		OutputDir:     ".",
		ScratchDir:    os.TempDir(),
		MessagesFile:  "sms_messages.csv",
		InventoryFile: "installed_apps.csv",
		ReportFile:    "forensic_report.txt",
		Label:         "idevicextract",
	}
}

// LoadConfig reads an optional YAML config file, fills missing fields with
// defaults and sources the sealing passphrase from the environment, with
// .env file support.
func LoadConfig(fs afero.Fs, path string) (Config, error) {
	var config Config
	if path != "" {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return config, errors.Wrap(err, "could not read config")
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return config, errors.Wrap(err, "could not parse config")
		}
	}
	if err := mergo.Merge(&config, DefaultConfig()); err != nil {
		return config, err
	}
	if _, err := config.timeout(); err != nil {
		return config, errors.Wrap(err, "invalid timeout")
	}

	_ = godotenv.Load()
	config.Passphrase = os.Getenv(PassphraseEnv)
	return config, nil
}

func (c Config) timeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Timeout)
}

func (c Config) keyRef() string {
	if c.Passphrase == "" {
		return ""
	}
	return "env:" + PassphraseEnv
}
