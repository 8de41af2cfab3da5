// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package irc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okzk/sdnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ergochat/saslserv/irc/flock"
	"github.com/ergochat/saslserv/irc/kv"
	"github.com/ergochat/saslserv/irc/logger"
	"github.com/ergochat/saslserv/irc/mechanisms"
	"github.com/ergochat/saslserv/irc/mysql"
	"github.com/ergochat/saslserv/irc/oauth2"
	"github.com/ergochat/saslserv/irc/sasl"
	"github.com/ergochat/saslserv/irc/utils"
)

// Server is the SASL agent: it links to the network as a pseudo-server and
// authenticates the clients the network relays to it.
type Server struct {
	accounts AccountManager
	config   atomic.Pointer[Config]
	sasl     *sasl.Manager
	link     atomic.Pointer[Link]
	users    *userTable
	logger   *logger.Manager
	store    kv.Store
	flock    flock.Flocker

	auditDB        mysql.MySQL
	auditDBEnabled bool

	registry      *prometheus.Registry
	metrics       *sasl.Metrics
	panics        *prometheus.CounterVec
	metricsServer *http.Server

	rehashMutex sync.Mutex // tier 4
	// names of the registered mechanisms; guarded by rehashMutex
	mechanisms []string

	signals         chan os.Signal
	rehashSignal    chan os.Signal
	tracebackSignal chan os.Signal

	wg sync.WaitGroup
}

// NewServer returns a new saslserv server, with its datastore open.
func NewServer(config *Config, logger *logger.Manager) (*Server, error) {
	server := &Server{
		logger:          logger,
		users:           new(userTable),
		registry:        prometheus.NewRegistry(),
		signals:         make(chan os.Signal, len(utils.ServerExitSignals)),
		rehashSignal:    make(chan os.Signal, 1),
		tracebackSignal: make(chan os.Signal, 1),
	}
	server.users.Initialize()
	server.accounts.Initialize(server)

	server.panics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "saslserv",
		Name:      "panics_total",
		Help:      "Panics recovered in background goroutines.",
	}, []string{"routine"})

	var err error
	if server.metrics, err = sasl.NewMetrics(server.registry); err != nil {
		return nil, err
	}
	server.registry.MustRegister(
		server.panics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "saslserv",
			Name:      "network_users",
			Help:      "Number of users the uplink has introduced.",
		}, func() float64 { return float64(server.users.count()) }),
	)

	server.sasl = sasl.NewManager(sasl.Config{
		Relay:      server,
		Accounts:   &server.accounts,
		Privileges: server,
		Auditor:    server,
		Logger:     logger,
		Metrics:    server.metrics,
		MaxLogins:  config.SASL.MaxLogins,
	})

	if err := server.applyConfig(config, true); err != nil {
		return nil, err
	}

	// Attempt to clean up when receiving these signals.
	signal.Notify(server.signals, utils.ServerExitSignals...)
	signal.Notify(server.rehashSignal, utils.ServerRehashSignals...)
	signal.Notify(server.tracebackSignal, utils.ServerTracebackSignals...)

	return server, nil
}

// Config returns the current config.
func (server *Server) Config() *Config {
	return server.config.Load()
}

// Accounts returns the account store.
func (server *Server) Accounts() *AccountManager {
	return &server.accounts
}

// Run links to the network and runs until an exit signal is received.
func (server *Server) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	config := server.Config()

	server.wg.Add(2)
	go func() {
		defer server.wg.Done()
		defer server.HandlePanic("sweeper")
		server.sasl.RunSweeper(ctx, config.SASL.SweepInterval)
	}()
	go func() {
		defer server.wg.Done()
		server.connectLoop(ctx)
	}()
	server.startMetrics(config)

	sdnotify.Ready()
	server.logger.Info("server", "Server running", Ver)

	for {
		select {
		case <-server.signals:
			server.logger.Info("server", "Shutting down")
			sdnotify.Stopping()
			cancel()
			server.Shutdown()
			return

		case <-server.rehashSignal:
			server.logger.Info("server", "Rehashing due to SIGHUP")
			go func() {
				defer server.HandlePanic("rehash")
				sdnotify.Reloading()
				if err := server.rehash(); err != nil {
					server.logger.Error("server", "Failed to rehash:", err.Error())
				}
				sdnotify.Ready()
			}()

		case <-server.tracebackSignal:
			server.logger.Info("server", "Dumping goroutine stacks to stderr")
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 1)
		}
	}
}

// Shutdown waits for the uplink and sweeper to stop (the caller cancels
// them) and releases the datastore.
func (server *Server) Shutdown() {
	if server.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		server.metricsServer.Shutdown(ctx)
		cancel()
	}
	server.wg.Wait()

	if server.auditDBEnabled {
		server.auditDB.Close()
	}
	if err := server.store.Close(); err != nil {
		server.logger.Error("server", "Could not close datastore:", err.Error())
	}
	if server.flock != nil {
		server.flock.Unlock()
	}
}

func (server *Server) connectLoop(ctx context.Context) {
	defer server.HandlePanic("connect")

	for {
		config := server.Config()
		err := server.connect(ctx, config)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			server.logger.Error("uplink", "Lost uplink", config.Uplink.Address, err.Error())
		}
		server.logger.Info("uplink", "Reconnecting in", config.Uplink.ReconnectDelay.String())

		select {
		case <-ctx.Done():
			return
		case <-time.After(config.Uplink.ReconnectDelay):
		}
	}
}

func (server *Server) connect(ctx context.Context, config *Config) (err error) {
	dialer := &net.Dialer{Timeout: config.Uplink.HandshakeTimeout}
	var conn net.Conn
	if config.Uplink.tlsConfig != nil {
		tlsDialer := tls.Dialer{NetDialer: dialer, Config: config.Uplink.tlsConfig}
		conn, err = tlsDialer.DialContext(ctx, "tcp", config.Uplink.Address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", config.Uplink.Address)
	}
	if err != nil {
		return err
	}
	server.logger.Info("uplink", "Connected to", config.Uplink.Address)

	link := NewLink(server, config, conn)
	server.link.Store(link)
	defer func() {
		server.link.Store(nil)
		// the next burst reintroduces everyone
		server.users.Initialize()
		server.accounts.resetLogins()
	}()

	defer server.HandlePanic("link")
	return link.Run(ctx)
}

func (server *Server) startMetrics(config *Config) {
	if !config.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(server.registry, promhttp.HandlerOpts{}))
	server.metricsServer = &http.Server{
		Addr:              config.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server.wg.Add(1)
	go func() {
		defer server.wg.Done()
		defer server.HandlePanic("metrics")
		server.logger.Info("metrics", "Serving metrics on", config.Metrics.Listen)
		err := server.metricsServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.logger.Error("metrics", "Metrics listener failed", err.Error())
		}
	}()
}

// rehash reloads the config and applies the changes from the config file.
func (server *Server) rehash() error {
	server.logger.Debug("server", "Starting rehash")

	config, err := LoadConfig(server.Config().Filename)
	if err != nil {
		return fmt.Errorf("Error loading config file config: %w", err)
	}

	if err = server.applyConfig(config, false); err != nil {
		return err
	}
	server.logger.Info("server", "Rehash completed successfully")
	return nil
}

func (server *Server) applyConfig(config *Config, initial bool) (err error) {
	server.rehashMutex.Lock()
	defer server.rehashMutex.Unlock()

	if initial {
		if err = server.loadDatastore(config); err != nil {
			return err
		}
		if config.Datastore.MySQL.Enabled {
			server.auditDB.Initialize(server.logger, config.Datastore.MySQL)
			if err = server.auditDB.Open(); err != nil {
				return fmt.Errorf("Could not open audit database: %w", err)
			}
			server.auditDBEnabled = true
		}
	} else {
		oldConfig := server.Config()
		if oldConfig.Server.Name != config.Server.Name || oldConfig.Server.SID != config.Server.SID {
			return fmt.Errorf("Server name and SID cannot be changed after launching the server, rehash aborted")
		}
		if oldConfig.Datastore.Path != config.Datastore.Path {
			return fmt.Errorf("Datastore path cannot be changed after launching the server, rehash aborted")
		}
		if oldConfig.Datastore.MySQL != config.Datastore.MySQL {
			server.logger.Warning("server", "Changes to the mysql config take effect after a restart")
		}
		if err = server.logger.ApplyConfig(config.Logging); err != nil {
			return err
		}
	}

	server.accounts.applyConfig(server.Config(), config)
	// mechanisms look up credentials and bearer token config at use time
	server.config.Store(config)
	server.sasl.SetMaxLogins(config.SASL.MaxLogins)

	if server.reconcileMechanisms(config) {
		if link := server.link.Load(); link != nil {
			link.SendMechanismList(server.sasl.Mechanisms())
		}
	}
	return nil
}

// reconcileMechanisms registers and unregisters mechanisms to match config,
// reporting whether anything changed.
func (server *Server) reconcileMechanisms(config *Config) (changed bool) {
	deps := mechanisms.Dependencies{Credentials: &server.accounts}
	if config.SASL.bearerValidator() != nil {
		deps.Bearer = server
	}

	var current []string
	for _, name := range server.mechanisms {
		if slices.Contains(config.SASL.Mechanisms, name) && (name != "OAUTHBEARER" || deps.Bearer != nil) {
			current = append(current, name)
			continue
		}
		server.sasl.UnregisterMechanism(name)
		server.logger.Info("sasl", "Disabled mechanism", name)
		changed = true
	}
	for _, name := range config.SASL.Mechanisms {
		if slices.Contains(current, name) {
			continue
		}
		mech, err := mechanisms.New(name, deps)
		if err == nil {
			err = server.sasl.RegisterMechanism(mech)
		}
		if err != nil {
			server.logger.Error("sasl", "Could not enable mechanism", name, err.Error())
			continue
		}
		current = append(current, name)
		server.logger.Info("sasl", "Enabled mechanism", name)
		changed = true
	}
	server.mechanisms = current
	return
}

// ValidateToken implements mechanisms.TokenValidator against the current
// config, so token issuers can be changed by rehashing.
func (server *Server) ValidateToken(ctx context.Context, token string) (account string, err error) {
	validator := server.Config().SASL.bearerValidator()
	if validator == nil {
		return "", oauth2.ErrAuthDisabled
	}
	return validator.ValidateToken(ctx, token)
}

func (server *Server) loadDatastore(config *Config) (err error) {
	// open the database, which also verifies its schema version
	server.logger.Info("server", "Loading datastore", config.Datastore.Path)
	server.flock, err = flock.TryAcquireFlock(config.Datastore.Path + ".lock")
	if err != nil {
		return err
	}
	server.store, err = OpenDatabase(config)
	if err != nil {
		server.flock.Unlock()
		server.flock = nil
		return fmt.Errorf("Failed to open datastore: %w", err)
	}
	return nil
}

// SendChallenge implements sasl.Relay.
func (server *Server) SendChallenge(id, data string) {
	if link := server.link.Load(); link != nil {
		link.sendSASL(id, "C", data)
	}
}

// SendMechanisms implements sasl.Relay.
func (server *Server) SendMechanisms(id, mechanisms string) {
	if link := server.link.Load(); link != nil {
		link.sendSASL(id, "M", mechanisms)
	}
}

// SendLogin implements sasl.Relay.
func (server *Server) SendLogin(id, account string) {
	if link := server.link.Load(); link != nil {
		link.sendSVSLogin(id, account)
	}
}

// SendOutcome implements sasl.Relay.
func (server *Server) SendOutcome(id string, success bool) {
	if link := server.link.Load(); link != nil {
		outcome := "F"
		if success {
			outcome = "S"
		}
		link.sendSASL(id, "D", outcome)
	}
}

// Notice implements sasl.Relay.
func (server *Server) Notice(id, message string) {
	if link := server.link.Load(); link != nil {
		link.sendNotice(id, message)
	}
}

// UsesUniqueIDs implements sasl.Relay.
func (server *Server) UsesUniqueIDs() bool {
	return server.Config().SASL.uniqueIDs
}
