/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package app

import (
	"bytes"
	"io/ioutil"

	"github.com/gobble-im/gobble/connection"
	"github.com/gobble-im/gobble/log"
	"gopkg.in/yaml.v2"
)

// Config represents a global configuration.
type Config struct {
	PIDFile    string            `yaml:"pid_path"`
	Logger     log.Config        `yaml:"logger"`
	Connection connection.Config `yaml:"connection"`
}

// FromFile loads default global configuration from
// a specified file.
func (cfg *Config) FromFile(configFile string) error {
	b, err := ioutil.ReadFile(configFile)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, cfg)
}

// FromBuffer loads default global configuration from
// a specified byte buffer.
func (cfg *Config) FromBuffer(buf *bytes.Buffer) error {
	return yaml.Unmarshal(buf.Bytes(), cfg)
}
