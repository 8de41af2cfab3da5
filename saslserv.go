// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"
	"github.com/ergochat/saslserv/irc"
	"github.com/ergochat/saslserv/irc/logger"
	"github.com/ergochat/saslserv/irc/mkcerts"
	"github.com/ergochat/saslserv/irc/utils"
)

// set via linker flags, either by make or by goreleaser:
var commit = ""  // git hash
var version = "" // tagged version

// get a password from stdin from the user
func getPasswordFromTerminal() string {
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		log.Fatal("Error reading password:", err.Error())
	}
	return string(bytePassword)
}

func readPassphrase() (password string) {
	if term.IsTerminal(int(syscall.Stdin)) {
		fmt.Print("Enter Password: ")
		password = getPasswordFromTerminal()
		fmt.Print("\n")
		fmt.Print("Reenter Password: ")
		confirm := getPasswordFromTerminal()
		fmt.Print("\n")
		if confirm != password {
			log.Fatal("passwords do not match")
		}
	} else {
		reader := bufio.NewReader(os.Stdin)
		text, _ := reader.ReadString('\n')
		password = strings.TrimSpace(text)
	}
	return
}

// implements the `saslserv mkcerts` command
func doMkcerts(configFile string, quiet bool) {
	config, err := irc.LoadRawConfig(configFile)
	if err != nil {
		log.Fatal(err)
	}
	cert, key := config.Uplink.TLS.Cert, config.Uplink.TLS.Key
	if cert == "" || key == "" {
		log.Fatal("uplink.tls.cert and uplink.tls.key must be set")
	}
	if !quiet {
		log.Println("making self-signed uplink client certificate")
	}
	certfp, err := mkcerts.CreateClientCert(config.Server.Name, cert, key)
	if err != nil {
		log.Fatal("  Could not create certificate:", err.Error())
	}
	if !quiet {
		log.Printf("  Certificate created at %s : %s\n", cert, key)
	}
	// the uplink needs this to authenticate the link
	fmt.Println(certfp)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC1123)
}

func printAccountInfo(config *irc.Config, account irc.ClientAccount) {
	fmt.Printf("Account:       %s\n", account.Name)
	fmt.Printf("Registered:    %s\n", formatTime(account.RegisteredAt))
	fmt.Printf("Last login:    %s\n", formatTime(account.LastSeen))
	switch {
	case len(account.Credentials.PassphraseHash) == 0:
		fmt.Printf("Passphrase:    none\n")
	case account.Credentials.Version == 0:
		fmt.Printf("Passphrase:    imported\n")
	default:
		fmt.Printf("Passphrase:    set\n")
	}
	for _, certfp := range account.Credentials.Certfps {
		fmt.Printf("Certfp:        %s\n", certfp)
	}
	if account.Settings.Frozen {
		fmt.Printf("Frozen:        yes (%s)\n", account.Settings.FreezeReason)
	}
	fmt.Printf("Strict access: %t\n", account.Settings.StrictAccess)
	for _, mask := range account.Settings.AccessList {
		fmt.Printf("Access:        %s\n", mask)
	}
	if oc := config.OperClassOf(account.NameCasefolded); oc != nil {
		fmt.Printf("Oper class:    %s\n", oc.Title)
	}
	if account.Failures.Count != 0 {
		fmt.Printf("Failed logins: %d, most recently at %s by %s (%s)\n", account.Failures.Count,
			formatTime(account.Failures.LastTime), account.Failures.LastID, account.Failures.LastMechanism)
	}
}

// implements the account administration commands
func doAccountCommand(arguments docopt.Opts, config *irc.Config, logman *logger.Manager) {
	server, err := irc.OpenForAdmin(config, logman)
	if err != nil {
		log.Fatal("Could not open datastore (is saslserv running?): ", err.Error())
	}
	defer server.Shutdown()

	am := server.Accounts()
	accountName := arguments["<account>"].(string)
	quiet := arguments["--quiet"].(bool)

	switch {
	case arguments["register"].(bool):
		var passphrase, certfp string
		if fp, ok := arguments["--certfp"].(string); ok {
			certfp = fp
		}
		if !arguments["--no-password"].(bool) {
			passphrase = readPassphrase()
		}
		err = am.Register(accountName, passphrase, certfp)
	case arguments["passwd"].(bool):
		if hash, ok := arguments["--atheme-hash"].(string); ok {
			err = am.ImportPassphraseHash(accountName, hash)
		} else {
			err = am.SetPassphrase(accountName, readPassphrase())
		}
	case arguments["drop"].(bool):
		var forgotten int64
		forgotten, err = server.DropAccount(accountName)
		if err == nil && forgotten != 0 && !quiet {
			log.Printf("deleted %d audit log entries\n", forgotten)
		}
	case arguments["freeze"].(bool):
		reason, _ := arguments["<reason>"].(string)
		err = am.SetFrozen(accountName, true, reason)
	case arguments["unfreeze"].(bool):
		err = am.SetFrozen(accountName, false, "")
	case arguments["strictaccess"].(bool):
		var enabled bool
		enabled, err = utils.StringToBool(arguments["<setting>"].(string))
		if err == nil {
			err = am.SetStrictAccess(accountName, enabled)
		}
	case arguments["access"].(bool):
		mask := arguments["<mask>"].(string)
		if arguments["add"].(bool) {
			err = am.AddAccessMask(accountName, mask)
		} else {
			err = am.DelAccessMask(accountName, mask)
		}
	case arguments["certfp"].(bool):
		certfp := arguments["<certfp>"].(string)
		if arguments["add"].(bool) {
			err = am.AddCertfp(accountName, certfp)
		} else {
			err = am.RemoveCertfp(accountName, certfp)
		}
	case arguments["info"].(bool):
		var account irc.ClientAccount
		account, err = am.LoadClientAccount(accountName)
		if err == nil {
			printAccountInfo(config, account)
		}
	}

	if err != nil {
		server.Shutdown()
		log.Fatalf("Could not update account %s: %s", accountName, err.Error())
	}
	if !quiet && !arguments["info"].(bool) {
		log.Println("account updated:", accountName)
	}
}

func main() {
	irc.SetVersionString(version, commit)
	usage := `saslserv.
Usage:
	saslserv initdb [--conf <filename>] [--quiet]
	saslserv mksecret
	saslserv mkcerts [--conf <filename>] [--quiet]
	saslserv run [--conf <filename>] [--quiet] [--smoke]
	saslserv register <account> [--certfp <certfp>] [--no-password] [--conf <filename>] [--quiet]
	saslserv passwd <account> [--atheme-hash <hash>] [--conf <filename>] [--quiet]
	saslserv drop <account> [--conf <filename>] [--quiet]
	saslserv freeze <account> [<reason>] [--conf <filename>] [--quiet]
	saslserv unfreeze <account> [--conf <filename>] [--quiet]
	saslserv strictaccess <account> <setting> [--conf <filename>] [--quiet]
	saslserv access (add|del) <account> <mask> [--conf <filename>] [--quiet]
	saslserv certfp (add|del) <account> <certfp> [--conf <filename>] [--quiet]
	saslserv info <account> [--conf <filename>]
	saslserv -h | --help
	saslserv --version
Options:
	--conf <filename>     Configuration file to use [default: saslserv.yaml].
	--quiet               Don't show startup/shutdown lines.
	--certfp <certfp>     Client certificate fingerprint for SASL EXTERNAL.
	--no-password         Register the account without a passphrase.
	--atheme-hash <hash>  Use a passphrase hash from an Atheme database.
	-h --help             Show this screen.
	--version             Show version.`

	arguments, _ := docopt.ParseArgs(usage, nil, irc.Ver)

	// don't require a config file for mksecret
	if arguments["mksecret"].(bool) {
		fmt.Println(utils.GenerateSecretToken())
		return
	} else if arguments["mkcerts"].(bool) {
		doMkcerts(arguments["--conf"].(string), arguments["--quiet"].(bool))
		return
	}

	configfile := arguments["--conf"].(string)
	config, err := irc.LoadConfig(configfile)
	if err != nil {
		log.Fatal("Config file did not load successfully: ", err.Error())
	}

	logman, err := logger.NewManager(config.Logging)
	if err != nil {
		log.Fatal("Logger did not load successfully:", err.Error())
	}

	if arguments["initdb"].(bool) {
		err = irc.InitDB(config.Datastore.Path)
		if err != nil {
			log.Fatal("Error while initializing db:", err.Error())
		}
		if !arguments["--quiet"].(bool) {
			log.Println("database initialized: ", config.Datastore.Path)
		}
	} else if arguments["run"].(bool) {
		if !arguments["--quiet"].(bool) {
			logman.Info("server", fmt.Sprintf("%s starting", irc.Ver))
		}

		// warning if running a non-final version
		if strings.Contains(irc.Ver, "unreleased") {
			logman.Warning("server", "You are currently running an unreleased version of saslserv that may be unstable and could corrupt your database.")
		}

		server, err := irc.NewServer(config, logman)
		if err != nil {
			logman.Error("server", fmt.Sprintf("Could not load server: %s", err.Error()))
			os.Exit(1)
		}
		if !arguments["--smoke"].(bool) {
			server.Run()
		} else {
			server.Shutdown()
		}
	} else {
		doAccountCommand(arguments, config, logman)
	}
	logman.Close()
}
