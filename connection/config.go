/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package connection

import (
	"errors"
	"time"
)

const (
	defaultPort       = 5222
	defaultOldSSLPort = 5223
	defaultResource   = "gobble"
	defaultKeepAlive  = time.Duration(30) * time.Second
)

// Config holds one account's connection parameters.
type Config struct {
	// Account is the bare JID to sign in as.
	Account string

	// Password authenticates the account.
	Password string

	// Resource is the stream resource identifier.
	Resource string

	// Alias is an optional connection supplied self alias. It outranks
	// every other alias source for the own handle.
	Alias string

	// Server overrides the host to connect to; empty means the JID
	// domain.
	Server string

	// Port is the server port.
	Port int

	// OldSSL wraps the whole stream in an SSL tunnel from byte one.
	OldSSL bool

	// Register creates the account in-band before authenticating.
	Register bool

	// ProxyServer and ProxyPort route the stream through an HTTPS
	// CONNECT proxy when set.
	ProxyServer string
	ProxyPort   int

	// FallbackConferenceServer names rooms given without a domain when
	// the server side service search finds no conference service.
	FallbackConferenceServer string

	// IgnoreSSLErrors accepts any certificate problem.
	IgnoreSSLErrors bool

	// KeepAlive is the whitespace ping interval.
	KeepAlive time.Duration
}

type configProxy struct {
	Account                  string `yaml:"account"`
	Password                 string `yaml:"password"`
	Resource                 string `yaml:"resource"`
	Alias                    string `yaml:"alias"`
	Server                   string `yaml:"server"`
	Port                     int    `yaml:"port"`
	OldSSL                   bool   `yaml:"old_ssl"`
	Register                 bool   `yaml:"register"`
	ProxyServer              string `yaml:"https_proxy_server"`
	ProxyPort                int    `yaml:"https_proxy_port"`
	FallbackConferenceServer string `yaml:"fallback_conference_server"`
	IgnoreSSLErrors          bool   `yaml:"ignore_ssl_errors"`
	KeepAlive                int    `yaml:"keep_alive"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (cfg *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	if len(p.Account) == 0 {
		return errors.New("connection.Config: account value is required")
	}
	cfg.Account = p.Account
	cfg.Password = p.Password
	cfg.Resource = p.Resource
	cfg.Alias = p.Alias
	cfg.Server = p.Server
	cfg.Port = p.Port
	cfg.OldSSL = p.OldSSL
	cfg.Register = p.Register
	cfg.ProxyServer = p.ProxyServer
	cfg.ProxyPort = p.ProxyPort
	cfg.FallbackConferenceServer = p.FallbackConferenceServer
	cfg.IgnoreSSLErrors = p.IgnoreSSLErrors
	cfg.KeepAlive = time.Duration(p.KeepAlive) * time.Second
	cfg.applyDefaults()
	return nil
}

func (cfg *Config) applyDefaults() {
	if len(cfg.Resource) == 0 {
		cfg.Resource = defaultResource
	}
	if cfg.Port == 0 {
		if cfg.OldSSL {
			cfg.Port = defaultOldSSLPort
		} else {
			cfg.Port = defaultPort
		}
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
}
