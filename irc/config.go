// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package irc

import (
	"crypto/tls"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/ergochat/saslserv/irc/jwt"
	"github.com/ergochat/saslserv/irc/logger"
	"github.com/ergochat/saslserv/irc/mechanisms"
	"github.com/ergochat/saslserv/irc/mysql"
	"github.com/ergochat/saslserv/irc/oauth2"
	"github.com/ergochat/saslserv/irc/passwd"
	"github.com/ergochat/saslserv/irc/sasl"
	"github.com/ergochat/saslserv/irc/utils"
)

// here's how this works: exported (capitalized) members of the config structs
// are defined in the YAML file and deserialized directly from there. They may
// be postprocessed and overwritten by LoadConfig. Unexported (lowercase) members
// are derived from the exported members in LoadConfig.

const (
	defaultReconnectDelay     = 10 * time.Second
	defaultHandshakeTimeout   = 30 * time.Second
	defaultBadPasswordWarning = 10
	defaultMaxCertfps         = 5
)

// ServerConfig describes the pseudo-server we link as.
type ServerConfig struct {
	Name        string
	SID         string `yaml:"sid"`
	Description string
}

// UplinkConfig describes the IRC server we link to.
type UplinkConfig struct {
	Address        string
	Password       string
	AcceptPassword string `yaml:"accept-password"`
	TLS            struct {
		Enabled            bool
		InsecureSkipVerify bool   `yaml:"insecure-skip-verify"`
		ServerName         string `yaml:"server-name"`
		Cert               string
		Key                string
	}
	ReconnectDelay   time.Duration `yaml:"reconnect-delay"`
	HandshakeTimeout time.Duration `yaml:"handshake-timeout"`

	tlsConfig *tls.Config
}

// AgentConfig is the identity of the SASL agent pseudo-client.
type AgentConfig struct {
	Nick     string
	User     string
	Host     string
	Realname string
}

type SASLConfig struct {
	Mechanisms    []string
	SweepInterval time.Duration `yaml:"sweep-interval"`
	// 0 for no limit
	MaxLogins int `yaml:"max-logins"`
	// whether the uplink's SASL ids are the clients' eventual UIDs
	UniqueIDs *bool                      `yaml:"unique-ids"`
	JWT       jwt.BearerConfig           `yaml:"jwt"`
	OAuth2    oauth2.IntrospectionConfig `yaml:"oauth2"`

	uniqueIDs bool
}

type AccountConfig struct {
	BcryptCost         uint `yaml:"bcrypt-cost"`
	BadPasswordWarning int  `yaml:"bad-password-warning"`
	MaxCertfps         int  `yaml:"max-certfps"`
	LoginThrottling    struct {
		Enabled     bool
		Duration    time.Duration
		MaxAttempts int `yaml:"max-attempts"`
	} `yaml:"login-throttling"`
}

type DatastoreConfig struct {
	Path        string
	MySQL       mysql.Config `yaml:"mysql"`
}

type MetricsConfig struct {
	Enabled bool
	Listen  string
}

// OperClassConfig defines a specific operator class.
type OperClassConfig struct {
	Title        string
	Extends      string
	Capabilities []string
}

// OperClass defines an assembled operator class.
type OperClass struct {
	Name         string
	Title        string
	Capabilities map[string]bool // map to make lookups much easier
}

// Config defines the overall configuration.
type Config struct {
	Server    ServerConfig
	Uplink    UplinkConfig
	Agent     AgentConfig
	SASL      SASLConfig `yaml:"sasl"`
	Accounts  AccountConfig
	Datastore DatastoreConfig

	OperClasses map[string]*OperClassConfig `yaml:"oper-classes"`
	// account name -> operator class name
	Opers map[string]string

	Logging []logger.LoggingConfig

	Metrics MetricsConfig

	Filename string

	operClasses map[string]*OperClass
	// casefolded account name -> assembled class
	opers map[string]*OperClass
}

// OperatorClasses returns a map of assembled operator classes from the given config.
func (conf *Config) OperatorClasses() (map[string]*OperClass, error) {
	ocs := make(map[string]*OperClass)

	// loop from no extends to most extended, breaking if we can't add any more
	lenOfLastOcs := -1
	for {
		if lenOfLastOcs == len(ocs) {
			return nil, ErrOperClassDependencies
		}
		lenOfLastOcs = len(ocs)

		var anyMissing bool
		for name, info := range conf.OperClasses {
			_, exists := ocs[name]
			_, extendsExists := ocs[info.Extends]
			if exists {
				// class already exists
				continue
			} else if len(info.Extends) > 0 && !extendsExists {
				// class we extend on doesn't exist
				_, exists := conf.OperClasses[info.Extends]
				if !exists {
					return nil, fmt.Errorf("Operclass [%s] extends [%s], which doesn't exist", name, info.Extends)
				}
				anyMissing = true
				continue
			}

			// create new operclass
			var oc OperClass
			oc.Name = name
			oc.Capabilities = make(map[string]bool)

			// get inhereted info from other operclasses
			if len(info.Extends) > 0 {
				einfo := ocs[info.Extends]

				for capab := range einfo.Capabilities {
					oc.Capabilities[capab] = true
				}
			}

			// add our own info
			oc.Title = info.Title
			if oc.Title == "" {
				oc.Title = name
			}
			for _, capab := range info.Capabilities {
				oc.Capabilities[capab] = true
			}

			ocs[name] = &oc
		}

		if !anyMissing {
			// we've got every operclass!
			break
		}
	}

	return ocs, nil
}

// Operators returns a map of casefolded account names to their assembled
// operator classes.
func (conf *Config) Operators(oc map[string]*OperClass) (map[string]*OperClass, error) {
	result := make(map[string]*OperClass)
	for account, className := range conf.Opers {
		cfAccount, err := CasefoldName(account)
		if err != nil {
			return nil, fmt.Errorf("Could not casefold oper account name %s: %w", account, err)
		}
		class, ok := oc[className]
		if !ok {
			return nil, fmt.Errorf("%w: %s has class %s", ErrOperUnknownClass, account, className)
		}
		result[cfAccount] = class
	}
	return result, nil
}

func (conf *UplinkConfig) postprocess() error {
	if conf.Address == "" {
		return ErrUplinkAddressMissing
	}
	if conf.Password == "" || conf.AcceptPassword == "" {
		return ErrUplinkPasswordMissing
	}
	if conf.ReconnectDelay <= 0 {
		conf.ReconnectDelay = defaultReconnectDelay
	}
	if conf.HandshakeTimeout <= 0 {
		conf.HandshakeTimeout = defaultHandshakeTimeout
	}

	if conf.TLS.Enabled {
		tlsConfig := &tls.Config{
			InsecureSkipVerify: conf.TLS.InsecureSkipVerify,
			ServerName:         conf.TLS.ServerName,
		}
		if conf.TLS.Cert != "" {
			cert, err := tls.LoadX509KeyPair(conf.TLS.Cert, conf.TLS.Key)
			if err != nil {
				return fmt.Errorf("Could not load uplink client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		conf.tlsConfig = tlsConfig
	}
	return nil
}

func (conf *SASLConfig) postprocess() (err error) {
	if len(conf.Mechanisms) == 0 {
		return ErrNoMechanisms
	}
	for i, name := range conf.Mechanisms {
		name = strings.ToUpper(name)
		if len(name) > sasl.MaxMechanismNameLen {
			return fmt.Errorf("SASL mechanism name too long: %s", name)
		}
		conf.Mechanisms[i] = name
	}
	if conf.SweepInterval <= 0 {
		conf.SweepInterval = sasl.DefaultSweepInterval
	}
	if conf.MaxLogins < 0 {
		conf.MaxLogins = 0
	}
	conf.uniqueIDs = utils.BoolDefaultTrue(conf.UniqueIDs)

	if err = conf.JWT.Postprocess(); err != nil {
		return err
	}
	if err = conf.OAuth2.Postprocess(); err != nil {
		return err
	}
	return nil
}

// bearerValidator returns the OAUTHBEARER token validator, or nil if no
// validation method is enabled.
func (conf *SASLConfig) bearerValidator() mechanisms.TokenValidator {
	validator := &mechanisms.BearerValidator{JWT: &conf.JWT, Introspection: &conf.OAuth2}
	if !validator.Enabled() {
		return nil
	}
	return validator
}

type configPathError struct {
	name string
	desc string
	fatalErr error
}

func (ce *configPathError) Error() string {
	if ce.fatalErr != nil {
		return fmt.Sprintf("Couldn't apply config override `%s`: %s: %v", ce.name, ce.desc, ce.fatalErr)
	}
	return fmt.Sprintf("Couldn't apply config override `%s`: %s", ce.name, ce.desc)
}

const envPrefix = "SASLSERV__"

// mungeFromEnvironment applies an override like
// SASLSERV__UPLINK__PASSWORD=secret to config. The value is parsed as YAML.
func mungeFromEnvironment(config *Config, envPair string) (applied bool, name string, err *configPathError) {
	equalIdx := strings.IndexByte(envPair, '=')
	if equalIdx == -1 {
		return false, "", nil
	}
	name, value := envPair[:equalIdx], envPair[equalIdx+1:]
	if !strings.HasPrefix(name, envPrefix) {
		return false, "", nil
	}
	pathComponents := strings.Split(strings.TrimPrefix(name, envPrefix), "__")
	for i, pathComponent := range pathComponents {
		pathComponents[i] = strings.ToLower(strings.ReplaceAll(pathComponent, "_", "-"))
	}

	v := reflect.Indirect(reflect.ValueOf(config))
	t := v.Type()
	for _, component := range pathComponents {
		if component == "" {
			return false, "", &configPathError{name, "invalid", nil}
		}
		if v.Kind() != reflect.Struct {
			return false, "", &configPathError{name, "index into non-struct", nil}
		}
		var nextField reflect.StructField
		success := false
		n := t.NumField()
		// preferentially get a field with an exact yaml tag match,
		// then fall back to case-insensitive comparison of field names
		for i := 0; i < n; i++ {
			field := t.Field(i)
			tag, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
			if field.IsExported() && tag == component {
				nextField = field
				success = true
				break
			}
		}
		if !success {
			for i := 0; i < n; i++ {
				field := t.Field(i)
				if field.IsExported() && strings.ToLower(field.Name) == strings.ReplaceAll(component, "-", "") {
					nextField = field
					success = true
					break
				}
			}
		}
		if !success {
			return false, "", &configPathError{name, fmt.Sprintf("couldn't resolve path component: `%s`", component), nil}
		}
		v = v.FieldByName(nextField.Name)
		// dereference pointer field if necessary, initialize new value if necessary
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = reflect.Indirect(v)
		}
		t = v.Type()
	}
	yamlErr := yaml.Unmarshal([]byte(value), v.Addr().Interface())
	if yamlErr != nil {
		return false, "", &configPathError{name, "couldn't deserialize YAML", yamlErr}
	}
	return true, name, nil
}

// LoadRawConfig reads the YAML configuration file and applies environment
// overrides, without validating it.
func LoadRawConfig(filename string) (config *Config, err error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, err
	}
	if config == nil {
		config = new(Config)
	}

	for _, envPair := range os.Environ() {
		if _, _, envErr := mungeFromEnvironment(config, envPair); envErr != nil {
			return nil, envErr
		}
	}

	config.Filename = filename
	return config, nil
}

// LoadConfig loads the given YAML configuration file.
func LoadConfig(filename string) (config *Config, err error) {
	config, err = LoadRawConfig(filename)
	if err != nil {
		return nil, err
	}

	if config.Server.Name == "" {
		return nil, ErrServerNameMissing
	}
	if !utils.IsServerName(config.Server.Name) {
		return nil, ErrServerNameNotHostname
	}
	config.Server.SID = strings.ToUpper(config.Server.SID)
	if !utils.IsSID(config.Server.SID) {
		return nil, ErrSIDInvalid
	}
	if config.Server.Description == "" {
		config.Server.Description = "SASL authentication agent"
	}
	if config.Datastore.Path == "" {
		return nil, ErrDatastorePathMissing
	}

	if err = config.Uplink.postprocess(); err != nil {
		return nil, err
	}

	if config.Agent.Nick == "" {
		return nil, ErrAgentNickMissing
	}
	if config.Agent.User == "" {
		config.Agent.User = "SaslServ"
	}
	if config.Agent.Host == "" {
		config.Agent.Host = config.Server.Name
	}
	if config.Agent.Realname == "" {
		config.Agent.Realname = "SASL Authentication Agent"
	}

	if err = config.SASL.postprocess(); err != nil {
		return nil, err
	}

	if config.Accounts.BcryptCost == 0 {
		config.Accounts.BcryptCost = passwd.DefaultCost
	}
	if config.Accounts.BadPasswordWarning <= 0 {
		config.Accounts.BadPasswordWarning = defaultBadPasswordWarning
	}
	if config.Accounts.MaxCertfps <= 0 {
		config.Accounts.MaxCertfps = defaultMaxCertfps
	}
	if !config.Accounts.LoginThrottling.Enabled {
		config.Accounts.LoginThrottling.MaxAttempts = 0 // limit of 0 means disabled
	} else if config.Accounts.LoginThrottling.Duration <= 0 {
		config.Accounts.LoginThrottling.Duration = time.Minute
	}

	if config.Metrics.Enabled && config.Metrics.Listen == "" {
		return nil, ErrMetricsListenMissing
	}

	for i := range config.Logging {
		if err = config.Logging[i].Postprocess(); err != nil {
			return nil, fmt.Errorf("Invalid logging config: %w", err)
		}
	}

	config.operClasses, err = config.OperatorClasses()
	if err != nil {
		return nil, err
	}
	config.opers, err = config.Operators(config.operClasses)
	if err != nil {
		return nil, err
	}

	return config, nil
}
