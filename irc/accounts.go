// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package irc

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircfmt"
	"github.com/xdg-go/scram"

	"github.com/ergochat/saslserv/irc/kv"
	"github.com/ergochat/saslserv/irc/mechanisms"
	"github.com/ergochat/saslserv/irc/migrations"
	"github.com/ergochat/saslserv/irc/passwd"
	"github.com/ergochat/saslserv/irc/sasl"
	"github.com/ergochat/saslserv/irc/throttle"
	"github.com/ergochat/saslserv/irc/utils"
)

const (
	keyAccountExists      = "account.exists %s"
	keyAccountName        = "account.name %s" // stores the 'preferred name' of the account, not casemapped
	keyAccountRegTime     = "account.registered.time %s"
	keyAccountCredentials = "account.credentials %s"
	keyAccountSettings    = "account.settings %s"
	keyAccountFailures    = "account.failures %s"
	keyAccountLastSeen    = "account.lastseen %s"
	keyCertToAccount      = "account.creds.certfp %s"

	// RFC 7677 minimum
	scramIterations = 4096
	scramSaltLength = 16
)

// everything about accounts is persistent; therefore, the database is the authoritative
// source of truth for all account information. anything on the heap is just a cache
type AccountManager struct {
	sync.RWMutex // tier 2

	server *Server
	// track clients logged in to accounts
	accountToClients map[string][]sasl.Client
	// SASL logins whose clients the uplink has not introduced yet
	pendingLogins map[string]int
	// passphrase attempts per casefolded account
	loginThrottle *throttle.Keyed
}

func (am *AccountManager) Initialize(server *Server) {
	am.server = server
	am.accountToClients = make(map[string][]sasl.Client)
	am.pendingLogins = make(map[string]int)
}

// applyConfig replaces the login throttle when its settings changed.
func (am *AccountManager) applyConfig(oldConfig, config *Config) {
	if oldConfig != nil && oldConfig.Accounts.LoginThrottling == config.Accounts.LoginThrottling {
		return
	}
	throttling := config.Accounts.LoginThrottling
	am.Lock()
	defer am.Unlock()
	am.loginThrottle = throttle.NewKeyed(throttling.Duration, throttling.MaxAttempts)
}

func (am *AccountManager) getLoginThrottle() *throttle.Keyed {
	am.RLock()
	defer am.RUnlock()
	return am.loginThrottle
}

// AccountCredentials stores the various methods for verifying accounts.
type AccountCredentials struct {
	// 0 for a passphrase hash imported from Atheme, 1 for our own
	Version        uint
	PassphraseHash []byte
	SCRAMCreds     *SCRAMCreds `json:",omitempty"`
	Certfps        []string
}

// SCRAMCreds are the SCRAM-SHA-256 verifiers derived from the passphrase.
type SCRAMCreds struct {
	Salt      []byte
	Iters     int
	StoredKey []byte
	ServerKey []byte
}

func (sc *SCRAMCreds) storedCredentials() scram.StoredCredentials {
	return scram.StoredCredentials{
		KeyFactors: scram.KeyFactors{Salt: string(sc.Salt), Iters: sc.Iters},
		StoredKey:  sc.StoredKey,
		ServerKey:  sc.ServerKey,
	}
}

// AccountSettings are the per-account options changed by administrators.
type AccountSettings struct {
	Frozen       bool
	FreezeReason string `json:",omitempty"`
	// refuse logins while a logged-in client of the authenticating account
	// does not match AccessList
	StrictAccess bool
	AccessList   []string `json:",omitempty"`
}

// LoginFailures records failed logins since the last successful one.
type LoginFailures struct {
	Count         int
	LastTime      time.Time
	LastID        string
	LastMechanism string
}

// ClientAccount represents a user account.
type ClientAccount struct {
	Name           string
	NameCasefolded string
	RegisteredAt   time.Time
	LastSeen       time.Time
	Credentials    AccountCredentials
	Settings       AccountSettings
	Failures       LoginFailures
}

type rawClientAccount struct {
	Name         string
	RegisteredAt string
	LastSeen     string
	Credentials  string
	Settings     string
	Failures     string
}

func (am *AccountManager) loadRawAccount(tx kv.Tx, casefoldedAccount string) (result rawClientAccount, err error) {
	accountKey := fmt.Sprintf(keyAccountExists, casefoldedAccount)
	accountNameKey := fmt.Sprintf(keyAccountName, casefoldedAccount)
	registeredTimeKey := fmt.Sprintf(keyAccountRegTime, casefoldedAccount)
	credentialsKey := fmt.Sprintf(keyAccountCredentials, casefoldedAccount)
	settingsKey := fmt.Sprintf(keyAccountSettings, casefoldedAccount)
	failuresKey := fmt.Sprintf(keyAccountFailures, casefoldedAccount)
	lastSeenKey := fmt.Sprintf(keyAccountLastSeen, casefoldedAccount)

	_, e := tx.Get(accountKey)
	if e == kv.ErrNotFound {
		err = errAccountDoesNotExist
		return
	}

	result.Name, _ = tx.Get(accountNameKey)
	result.RegisteredAt, _ = tx.Get(registeredTimeKey)
	result.Credentials, _ = tx.Get(credentialsKey)
	result.Settings, _ = tx.Get(settingsKey)
	result.Failures, _ = tx.Get(failuresKey)
	result.LastSeen, _ = tx.Get(lastSeenKey)
	return
}

func unmarshalTime(raw string) (result time.Time) {
	if nanos, err := strconv.ParseInt(raw, 10, 64); err == nil {
		result = time.Unix(0, nanos).UTC()
	}
	return
}

func marshalTime(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func (am *AccountManager) deserializeRawAccount(raw rawClientAccount, cfName string) (result ClientAccount, err error) {
	result.Name = raw.Name
	result.NameCasefolded = cfName
	result.RegisteredAt = unmarshalTime(raw.RegisteredAt)
	result.LastSeen = unmarshalTime(raw.LastSeen)
	e := json.Unmarshal([]byte(raw.Credentials), &result.Credentials)
	if e != nil {
		am.server.logger.Error("internal", "could not unmarshal credentials", cfName, e.Error())
		err = errAccountDoesNotExist
		return
	}
	if raw.Settings != "" {
		e := json.Unmarshal([]byte(raw.Settings), &result.Settings)
		if e != nil {
			am.server.logger.Warning("internal", "could not unmarshal settings for account", result.Name, e.Error())
		}
	}
	if raw.Failures != "" {
		e := json.Unmarshal([]byte(raw.Failures), &result.Failures)
		if e != nil {
			am.server.logger.Warning("internal", "could not unmarshal login failures for account", result.Name, e.Error())
		}
	}
	return
}

// LoadClientAccount returns the full stored record of an account.
func (am *AccountManager) LoadClientAccount(accountName string) (result ClientAccount, err error) {
	casefoldedAccount, err := CasefoldName(accountName)
	if err != nil {
		err = errAccountDoesNotExist
		return
	}

	var raw rawClientAccount
	am.server.store.View(func(tx kv.Tx) error {
		raw, err = am.loadRawAccount(tx, casefoldedAccount)
		return nil
	})
	if err != nil {
		return
	}

	return am.deserializeRawAccount(raw, casefoldedAccount)
}

// LoadAccount implements sasl.Accounts.
func (am *AccountManager) LoadAccount(accountName string) (result sasl.Account, err error) {
	account, err := am.LoadClientAccount(accountName)
	if err != nil {
		return result, sasl.ErrNoSuchAccount
	}
	result = sasl.Account{
		Name:           account.Name,
		NameCasefolded: account.NameCasefolded,
		Frozen:         account.Settings.Frozen,
		FreezeReason:   account.Settings.FreezeReason,
		StrictAccess:   account.Settings.StrictAccess,
	}
	if oc := am.server.Config().opers[account.NameCasefolded]; oc != nil {
		result.OperClass = oc.Name
	}
	return result, nil
}

func validatePassphrase(passphrase string) error {
	if passphrase == "" {
		return errAccountBadPassphrase
	}
	// a passphrase is sent over PLAIN as a single NUL-separated field
	for _, r := range passphrase {
		if r == 0 || r == '\r' || r == '\n' {
			return errAccountBadPassphrase
		}
	}
	return nil
}

func (ac *AccountCredentials) Serialize() (result string, err error) {
	credText, err := json.Marshal(*ac)
	if err != nil {
		return "", err
	}
	return string(credText), nil
}

// SetPassphrase replaces the credentials' passphrase with a native bcrypt
// hash, and derives SCRAM-SHA-256 verifiers from it when possible.
func (ac *AccountCredentials) SetPassphrase(passphrase string, bcryptCost uint) (err error) {
	if validatePassphrase(passphrase) != nil {
		return errAccountBadPassphrase
	}

	ac.PassphraseHash, err = passwd.GenerateFromPassword([]byte(passphrase), int(bcryptCost))
	if err != nil {
		return errAccountBadPassphrase
	}
	ac.Version = 1

	// SASLprep may reject the passphrase; such accounts can still use PLAIN
	ac.SCRAMCreds, _ = generateSCRAMCreds(passphrase)
	return nil
}

func generateSCRAMCreds(passphrase string) (result *SCRAMCreds, err error) {
	client, err := scram.SHA256.NewClient("*", passphrase, "")
	if err != nil {
		return nil, err
	}
	salt, err := utils.GenerateSalt(scramSaltLength)
	if err != nil {
		return nil, err
	}
	stored := client.GetStoredCredentials(scram.KeyFactors{Salt: string(salt), Iters: scramIterations})
	return &SCRAMCreds{
		Salt:      salt,
		Iters:     scramIterations,
		StoredKey: stored.StoredKey,
		ServerKey: stored.ServerKey,
	}, nil
}

// SetImportedHash replaces the credentials' passphrase with a hash taken
// from an Atheme database.
func (ac *AccountCredentials) SetImportedHash(hash string) (err error) {
	if hash == "" {
		return errAccountBadPassphrase
	}
	if migrations.ClassifyAthemeHash([]byte(hash)) == migrations.HashPBKDF2V2 {
		// reject malformed pbkdf2v2 hashes now rather than at login time
		if _, err := migrations.ParseAthemeSCRAM([]byte(hash)); err == migrations.ErrHashInvalid {
			return err
		}
	}
	ac.Version = 0
	ac.PassphraseHash = []byte(hash)
	ac.SCRAMCreds = nil
	return nil
}

func (ac *AccountCredentials) AddCertfp(certfp string, max int) (err error) {
	for _, current := range ac.Certfps {
		if certfp == current {
			return errNoop
		}
	}

	if max <= len(ac.Certfps) {
		return errLimitExceeded
	}

	ac.Certfps = append(ac.Certfps, certfp)
	return nil
}

func (ac *AccountCredentials) RemoveCertfp(certfp string) (err error) {
	found := false
	newList := make([]string, 0, len(ac.Certfps))
	for _, current := range ac.Certfps {
		if current == certfp {
			found = true
		} else {
			newList = append(newList, current)
		}
	}
	if !found {
		// this is important because it prevents you from deleting someone else's
		// fingerprint record
		return errNoop
	}
	ac.Certfps = newList
	return nil
}

// Register creates an account. Either credential may be empty, but not both.
func (am *AccountManager) Register(account, passphrase, certfp string) error {
	casefoldedAccount, err := CasefoldName(account)
	if err != nil || account == "*" {
		return errAccountCreation
	}
	if certfp != "" {
		certfp = utils.NormalizeCertfp(certfp)
		if certfp == "" {
			return errInvalidCertfp
		}
	}
	if passphrase == "" && certfp == "" {
		return errAccountBadPassphrase
	}

	config := am.server.Config()

	var creds AccountCredentials
	if passphrase != "" {
		if err = creds.SetPassphrase(passphrase, config.Accounts.BcryptCost); err != nil {
			return err
		}
	} else {
		creds.Version = 1
	}
	if certfp != "" {
		creds.AddCertfp(certfp, config.Accounts.MaxCertfps)
	}
	credStr, err := creds.Serialize()
	if err != nil {
		return err
	}

	accountKey := fmt.Sprintf(keyAccountExists, casefoldedAccount)
	accountNameKey := fmt.Sprintf(keyAccountName, casefoldedAccount)
	registeredTimeKey := fmt.Sprintf(keyAccountRegTime, casefoldedAccount)
	credentialsKey := fmt.Sprintf(keyAccountCredentials, casefoldedAccount)
	certFPKey := fmt.Sprintf(keyCertToAccount, certfp)

	err = am.server.store.Update(func(tx kv.Tx) error {
		if _, err := am.loadRawAccount(tx, casefoldedAccount); err != errAccountDoesNotExist {
			return errAccountAlreadyRegistered
		}

		if certfp != "" {
			// make sure certfp doesn't already exist because that'd be silly
			if _, err := tx.Get(certFPKey); err != kv.ErrNotFound {
				return errCertfpAlreadyExists
			}
		}

		tx.Set(accountKey, "1", nil)
		tx.Set(accountNameKey, account, nil)
		tx.Set(registeredTimeKey, marshalTime(time.Now()), nil)
		tx.Set(credentialsKey, credStr, nil)
		if certfp != "" {
			tx.Set(certFPKey, casefoldedAccount, nil)
		}
		return nil
	})
	if err != nil {
		return err
	}

	am.server.logger.Info("accounts", "registered account", account)
	return nil
}

// Unregister deletes an account and all its keys.
func (am *AccountManager) Unregister(account string) error {
	casefoldedAccount, err := CasefoldName(account)
	if err != nil {
		return errAccountDoesNotExist
	}

	err = am.server.store.Update(func(tx kv.Tx) error {
		raw, err := am.loadRawAccount(tx, casefoldedAccount)
		if err != nil {
			return err
		}
		var creds AccountCredentials
		json.Unmarshal([]byte(raw.Credentials), &creds)
		for _, certfp := range creds.Certfps {
			tx.Delete(fmt.Sprintf(keyCertToAccount, certfp))
		}
		for _, key := range []string{keyAccountExists, keyAccountName, keyAccountRegTime, keyAccountCredentials,
			keyAccountSettings, keyAccountFailures, keyAccountLastSeen} {
			tx.Delete(fmt.Sprintf(key, casefoldedAccount))
		}
		return nil
	})
	if err != nil {
		return err
	}

	am.server.logger.Info("accounts", "unregistered account", account)
	return nil
}

type credentialsMunger func(creds *AccountCredentials) error

func (am *AccountManager) modifyCredentials(account string, munger credentialsMunger) (err error) {
	casefoldedAccount, err := CasefoldName(account)
	if err != nil {
		return errAccountDoesNotExist
	}
	credentialsKey := fmt.Sprintf(keyAccountCredentials, casefoldedAccount)

	return am.server.store.Update(func(tx kv.Tx) error {
		raw, err := am.loadRawAccount(tx, casefoldedAccount)
		if err != nil {
			return err
		}
		var creds AccountCredentials
		if err := json.Unmarshal([]byte(raw.Credentials), &creds); err != nil {
			return errAccountUpdateFailed
		}
		oldCertfps := creds.Certfps
		if err := munger(&creds); err != nil {
			return err
		}

		// keep the certfp index consistent with the credentials
		for _, certfp := range oldCertfps {
			if !slices.Contains(creds.Certfps, certfp) {
				tx.Delete(fmt.Sprintf(keyCertToAccount, certfp))
			}
		}
		for _, certfp := range creds.Certfps {
			if slices.Contains(oldCertfps, certfp) {
				continue
			}
			certFPKey := fmt.Sprintf(keyCertToAccount, certfp)
			if _, err := tx.Get(certFPKey); err != kv.ErrNotFound {
				return errCertfpAlreadyExists
			}
			tx.Set(certFPKey, casefoldedAccount, nil)
		}

		credStr, err := creds.Serialize()
		if err != nil {
			return err
		}
		_, _, err = tx.Set(credentialsKey, credStr, nil)
		return err
	})
}

// SetPassphrase sets a new native passphrase for an account.
func (am *AccountManager) SetPassphrase(account, passphrase string) error {
	// hash outside the transaction; bcrypt is slow
	var newCreds AccountCredentials
	if err := newCreds.SetPassphrase(passphrase, am.server.Config().Accounts.BcryptCost); err != nil {
		return err
	}
	return am.modifyCredentials(account, func(creds *AccountCredentials) error {
		creds.Version = newCreds.Version
		creds.PassphraseHash = newCreds.PassphraseHash
		creds.SCRAMCreds = newCreds.SCRAMCreds
		return nil
	})
}

// ImportPassphraseHash sets an Atheme passphrase hash for an account.
func (am *AccountManager) ImportPassphraseHash(account, hash string) error {
	return am.modifyCredentials(account, func(creds *AccountCredentials) error {
		return creds.SetImportedHash(hash)
	})
}

// AddCertfp registers a client certificate fingerprint for EXTERNAL.
func (am *AccountManager) AddCertfp(account, certfp string) error {
	certfp = utils.NormalizeCertfp(certfp)
	if certfp == "" {
		return errInvalidCertfp
	}
	max := am.server.Config().Accounts.MaxCertfps
	return am.modifyCredentials(account, func(creds *AccountCredentials) error {
		return creds.AddCertfp(certfp, max)
	})
}

// RemoveCertfp unregisters a client certificate fingerprint.
func (am *AccountManager) RemoveCertfp(account, certfp string) error {
	certfp = utils.NormalizeCertfp(certfp)
	if certfp == "" {
		return errInvalidCertfp
	}
	return am.modifyCredentials(account, func(creds *AccountCredentials) error {
		return creds.RemoveCertfp(certfp)
	})
}

type settingsMunger func(input AccountSettings) (output AccountSettings, err error)

// ModifyAccountSettings applies munger to the stored settings of account.
func (am *AccountManager) ModifyAccountSettings(account string, munger settingsMunger) (newSettings AccountSettings, err error) {
	casefoldedAccount, err := CasefoldName(account)
	if err != nil {
		return newSettings, errAccountDoesNotExist
	}
	settingsKey := fmt.Sprintf(keyAccountSettings, casefoldedAccount)

	err = am.server.store.Update(func(tx kv.Tx) error {
		raw, err := am.loadRawAccount(tx, casefoldedAccount)
		if err != nil {
			return err
		}
		var settings AccountSettings
		if raw.Settings != "" {
			if err := json.Unmarshal([]byte(raw.Settings), &settings); err != nil {
				return errAccountUpdateFailed
			}
		}
		newSettings, err = munger(settings)
		if err != nil {
			return err
		}
		text, err := json.Marshal(newSettings)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(settingsKey, string(text), nil)
		return err
	})
	return
}

// SetFrozen freezes or thaws an account. Frozen accounts cannot be logged into.
func (am *AccountManager) SetFrozen(account string, frozen bool, reason string) error {
	_, err := am.ModifyAccountSettings(account, func(in AccountSettings) (AccountSettings, error) {
		if in.Frozen == frozen {
			return in, errNoop
		}
		in.Frozen = frozen
		in.FreezeReason = ""
		if frozen {
			in.FreezeReason = reason
		}
		return in, nil
	})
	return err
}

// SetStrictAccess toggles strict access list enforcement.
func (am *AccountManager) SetStrictAccess(account string, enabled bool) error {
	_, err := am.ModifyAccountSettings(account, func(in AccountSettings) (AccountSettings, error) {
		in.StrictAccess = enabled
		return in, nil
	})
	return err
}

// AddAccessMask adds a user@host mask to the access list of account.
func (am *AccountManager) AddAccessMask(account, mask string) error {
	if _, err := utils.CompileMasks([]string{mask}); err != nil || mask == "" {
		return errInvalidMask
	}
	_, err := am.ModifyAccountSettings(account, func(in AccountSettings) (AccountSettings, error) {
		if slices.Contains(in.AccessList, mask) {
			return in, errNoop
		}
		in.AccessList = append(in.AccessList, mask)
		return in, nil
	})
	return err
}

// DelAccessMask removes a user@host mask from the access list of account.
func (am *AccountManager) DelAccessMask(account, mask string) error {
	_, err := am.ModifyAccountSettings(account, func(in AccountSettings) (AccountSettings, error) {
		newList := make([]string, 0, len(in.AccessList))
		for _, current := range in.AccessList {
			if current != mask {
				newList = append(newList, current)
			}
		}
		if len(newList) == len(in.AccessList) {
			return in, errNoop
		}
		in.AccessList = newList
		return in, nil
	})
	return err
}

// CheckPassphrase implements mechanisms.Credentials. A successful check
// against an imported hash upgrades the account to native credentials.
func (am *AccountManager) CheckPassphrase(accountName, passphrase string) (err error) {
	account, err := am.LoadClientAccount(accountName)
	if err != nil {
		return err
	}

	hash := account.Credentials.PassphraseHash
	if len(hash) == 0 {
		return mechanisms.ErrPassphraseMismatch
	}

	loginThrottle := am.getLoginThrottle()
	if loginThrottle != nil {
		if throttled, remaining := loginThrottle.Touch(account.NameCasefolded); throttled {
			am.server.logger.Info("accounts", "passphrase attempt throttled for", account.Name, remaining.Round(time.Second).String())
			return errAccountThrottled
		}
	}

	switch account.Credentials.Version {
	case 0:
		if migrations.CheckAthemePassphrase(hash, []byte(passphrase)) != nil {
			return mechanisms.ErrPassphraseMismatch
		}
		am.upgradeImportedHash(account, passphrase)
	case 1:
		if passwd.CompareHashAndPassword(hash, []byte(passphrase)) != nil {
			return mechanisms.ErrPassphraseMismatch
		}
	default:
		return errAccountInvalidCredentials
	}
	if loginThrottle != nil {
		loginThrottle.Reset(account.NameCasefolded)
	}
	return nil
}

func (am *AccountManager) upgradeImportedHash(account ClientAccount, passphrase string) {
	oldHash := string(account.Credentials.PassphraseHash)
	var newCreds AccountCredentials
	if err := newCreds.SetPassphrase(passphrase, am.server.Config().Accounts.BcryptCost); err != nil {
		// e.g. the imported passphrase contains characters we no longer accept
		am.server.logger.Debug("accounts", "could not upgrade imported hash", account.Name, err.Error())
		return
	}
	err := am.modifyCredentials(account.Name, func(creds *AccountCredentials) error {
		if creds.Version != 0 || string(creds.PassphraseHash) != oldHash {
			return errNoop
		}
		creds.Version = newCreds.Version
		creds.PassphraseHash = newCreds.PassphraseHash
		creds.SCRAMCreds = newCreds.SCRAMCreds
		return nil
	})
	if err == nil {
		am.server.logger.Info("accounts", "upgraded imported passphrase hash", account.Name)
	} else if err != errNoop {
		am.server.logger.Error("accounts", "could not upgrade imported hash", account.Name, err.Error())
	}
}

// AccountForCertfp implements mechanisms.Credentials.
func (am *AccountManager) AccountForCertfp(certfp string) (account string, err error) {
	certFPKey := fmt.Sprintf(keyCertToAccount, certfp)
	am.server.store.View(func(tx kv.Tx) error {
		account, err = tx.Get(certFPKey)
		return nil
	})
	if err != nil {
		return "", mechanisms.ErrUnknownCertfp
	}
	return account, nil
}

// SCRAMCredentials implements mechanisms.Credentials.
func (am *AccountManager) SCRAMCredentials(accountName string) (result scram.StoredCredentials, err error) {
	account, err := am.LoadClientAccount(accountName)
	if err != nil {
		return result, err
	}
	creds := account.Credentials
	if creds.SCRAMCreds != nil {
		return creds.SCRAMCreds.storedCredentials(), nil
	}
	if creds.Version == 0 && len(creds.PassphraseHash) != 0 {
		imported, err := migrations.ParseAthemeSCRAM(creds.PassphraseHash)
		if err == nil && imported.Mechanism == "SCRAM-SHA-256" {
			return scram.StoredCredentials{
				KeyFactors: scram.KeyFactors{Salt: string(imported.Salt), Iters: imported.Iters},
				StoredKey:  imported.StoredKey,
				ServerKey:  imported.ServerKey,
			}, nil
		}
	}
	return result, mechanisms.ErrNoSCRAMCredentials
}

// VerifyAccess implements sasl.Accounts. An empty access list matches nothing.
func (am *AccountManager) VerifyAccess(client sasl.Client, target sasl.Account) bool {
	account, err := am.LoadClientAccount(target.NameCasefolded)
	if err != nil || len(account.Settings.AccessList) == 0 {
		return false
	}
	matcher, err := utils.CompileMasks(account.Settings.AccessList)
	if err != nil {
		am.server.logger.Error("accounts", "invalid access list", account.Name, err.Error())
		return false
	}
	if matcher.MatchString(client.Username + "@" + client.Hostname) {
		return true
	}
	return client.IP != "" && matcher.MatchString(client.Username+"@"+client.IP)
}

// RecordFailedLogin implements sasl.Accounts.
func (am *AccountManager) RecordFailedLogin(casefoldedAccount, id, mechanism string) {
	config := am.server.Config()
	failuresKey := fmt.Sprintf(keyAccountFailures, casefoldedAccount)

	var failures LoginFailures
	err := am.server.store.Update(func(tx kv.Tx) error {
		if _, err := am.loadRawAccount(tx, casefoldedAccount); err != nil {
			return err
		}
		if raw, err := tx.Get(failuresKey); err == nil {
			json.Unmarshal([]byte(raw), &failures)
		}
		failures.Count++
		failures.LastTime = time.Now().UTC()
		failures.LastID = id
		failures.LastMechanism = mechanism
		text, err := json.Marshal(failures)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(failuresKey, string(text), nil)
		return err
	})
	if err != nil {
		return
	}

	if failures.Count%config.Accounts.BadPasswordWarning == 0 {
		am.server.logger.Warning("accounts", fmt.Sprintf("%d failed logins to %s since its last login, most recently by %s (%s)",
			failures.Count, casefoldedAccount, id, mechanism))
	}
}

// MarkPendingLogin implements sasl.Accounts.
func (am *AccountManager) MarkPendingLogin(casefoldedAccount string) {
	am.Lock()
	defer am.Unlock()
	am.pendingLogins[casefoldedAccount]++
}

// ConsumePendingLogin reports whether a SASL login to the account was
// waiting for its client to be introduced, and clears the marker.
func (am *AccountManager) ConsumePendingLogin(casefoldedAccount string) bool {
	am.Lock()
	defer am.Unlock()
	count := am.pendingLogins[casefoldedAccount]
	if count == 0 {
		return false
	}
	if count == 1 {
		delete(am.pendingLogins, casefoldedAccount)
	} else {
		am.pendingLogins[casefoldedAccount] = count - 1
	}
	return true
}

// LoginCount implements sasl.Accounts.
func (am *AccountManager) LoginCount(casefoldedAccount string) int {
	am.RLock()
	defer am.RUnlock()
	return len(am.accountToClients[casefoldedAccount])
}

// ClientsFor implements sasl.Accounts.
func (am *AccountManager) ClientsFor(casefoldedAccount string) (result []sasl.Client) {
	am.RLock()
	defer am.RUnlock()
	clients := am.accountToClients[casefoldedAccount]
	result = make([]sasl.Client, len(clients))
	copy(result, clients)
	return
}

// trackLogin records that client is logged into casefoldedAccount, as
// announced by the network. It reports false if it already was.
func (am *AccountManager) trackLogin(client sasl.Client, casefoldedAccount string) bool {
	am.Lock()
	defer am.Unlock()

	for _, current := range am.accountToClients[casefoldedAccount] {
		if current.ID == client.ID {
			return false
		}
	}
	am.logoutLocked(client.ID)
	client.Account = casefoldedAccount
	am.accountToClients[casefoldedAccount] = append(am.accountToClients[casefoldedAccount], client)
	return true
}

// Login implements sasl.Accounts: it completes a SASL login once the
// network has introduced the client.
func (am *AccountManager) Login(client sasl.Client, account sasl.Account, mechanism string) error {
	am.trackLogin(client, account.NameCasefolded)
	am.server.users.setAccount(client.ID, account.NameCasefolded)

	lastSeenKey := fmt.Sprintf(keyAccountLastSeen, account.NameCasefolded)
	failuresKey := fmt.Sprintf(keyAccountFailures, account.NameCasefolded)
	var failures LoginFailures
	err := am.server.store.Update(func(tx kv.Tx) error {
		if raw, err := tx.Delete(failuresKey); err == nil {
			json.Unmarshal([]byte(raw), &failures)
		}
		_, _, err := tx.Set(lastSeenKey, marshalTime(time.Now()), nil)
		return err
	})
	if err != nil {
		return err
	}

	am.server.Notice(client.ID, fmt.Sprintf(ircfmt.Unescape("You are now logged in as $b%s$b."), account.Name))
	if failures.Count != 0 {
		am.server.Notice(client.ID, fmt.Sprintf(ircfmt.Unescape("$b%d$b failed login attempts since your last login, most recently at %s."),
			failures.Count, failures.LastTime.Format(time.RFC1123)))
	}
	return nil
}

// Logout forgets the login of the client with the given id, if any.
func (am *AccountManager) Logout(id string) {
	am.Lock()
	defer am.Unlock()
	am.logoutLocked(id)
}

func (am *AccountManager) logoutLocked(id string) {
	for casefoldedAccount, clients := range am.accountToClients {
		for i, client := range clients {
			if client.ID != id {
				continue
			}
			if len(clients) == 1 {
				delete(am.accountToClients, casefoldedAccount)
			} else {
				remainingClients := make([]sasl.Client, 0, len(clients)-1)
				remainingClients = append(remainingClients, clients[:i]...)
				am.accountToClients[casefoldedAccount] = append(remainingClients, clients[i+1:]...)
			}
			return
		}
	}
}

// resetLogins forgets every tracked login, e.g. when the uplink is lost.
func (am *AccountManager) resetLogins() {
	am.Lock()
	defer am.Unlock()
	am.accountToClients = make(map[string][]sasl.Client)
	am.pendingLogins = make(map[string]int)
}
