// Copyright (c) 2020 Shivaram Lingamneni
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package mysql

import (
	"fmt"
	"time"
)

type Config struct {
	// these are intended to be written directly into the config file:
	Enabled       bool
	Host          string
	Port          int
	SocketPath    string `yaml:"socket-path"`
	User          string
	Password      string
	AuditDatabase string `yaml:"audit-database"`
	Timeout       time.Duration
	// MaxQueue bounds the number of entries waiting to be written.
	MaxQueue int `yaml:"max-queue"`
}

func (config *Config) dsn() string {
	var address string
	if config.SocketPath != "" {
		address = fmt.Sprintf("unix(%s)", config.SocketPath)
	} else if config.Port != 0 {
		address = fmt.Sprintf("tcp(%s:%d)", config.Host, config.Port)
	} else {
		address = fmt.Sprintf("tcp(%s)", config.Host)
	}
	result := fmt.Sprintf("%s:%s@%s/%s?parseTime=true", config.User, config.Password, address, config.AuditDatabase)
	if config.Timeout != 0 {
		result += fmt.Sprintf("&timeout=%s", config.Timeout)
	}
	return result
}
