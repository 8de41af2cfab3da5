// Copyright (c) 2020 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

// Package migrations verifies password hashes imported from an Atheme
// database, so accounts keep working without a password reset.
package migrations

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"hash"
	"strconv"

	"github.com/GehirnInc/crypt/md5_crypt"
	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrHashInvalid     = errors.New("password hash invalid for algorithm")
	ErrHashCheckFailed = errors.New("passphrase did not match stored hash")
	ErrNotSCRAM        = errors.New("password hash cannot be used for SCRAM")

	hmacServerKeyText    = []byte("Server Key")
	athemePBKDF2V2Prefix = []byte("$z$")
)

// HashKind identifies which Atheme crypto module produced a hash.
type HashKind uint

const (
	HashPosixCrypt HashKind = iota
	HashPBKDF2
	HashPBKDF2V2
)

func (k HashKind) String() string {
	switch k {
	case HashPosixCrypt:
		return "crypto/posix"
	case HashPBKDF2:
		return "crypto/pbkdf2"
	default:
		return "crypto/pbkdf2v2"
	}
}

// ClassifyAthemeHash returns the module that produced hash.
func ClassifyAthemeHash(hash []byte) HashKind {
	switch {
	case bytes.HasPrefix(hash, athemePBKDF2V2Prefix):
		return HashPBKDF2V2
	case len(hash) < 60:
		return HashPosixCrypt
	default:
		return HashPBKDF2
	}
}

// CheckAthemePassphrase returns nil if passphrase matches an Atheme hash.
func CheckAthemePassphrase(hash, passphrase []byte) (err error) {
	switch ClassifyAthemeHash(hash) {
	case HashPBKDF2V2:
		return checkPBKDF2V2(hash, passphrase)
	case HashPosixCrypt:
		// crypt(3) on the Linux hosts Atheme ran on means MD5-crypt
		return md5_crypt.New().Verify(string(hash), passphrase)
	default:
		return checkPBKDF2(hash, passphrase)
	}
}

type pbkdf2v2Algo struct {
	Hash       func() hash.Hash
	OutputSize int
	SCRAM      bool
	SaltB64    bool
	// the SCRAM mechanism name, e.g. SCRAM-SHA-256
	Mechanism string
}

// the PRF codes of atheme's include/atheme/pbkdf2.h: the tens digit selects
// SCRAM and base64 salts, the units digit the digest
func parsePBKDF2V2Algo(algo string) (result pbkdf2v2Algo, err error) {
	code, err := strconv.Atoi(algo)
	if err != nil {
		return result, ErrHashInvalid
	}

	switch code - code%10 {
	case 0:
	case 20:
		result.SaltB64 = true
	case 40:
		result.SCRAM = true
	case 60:
		result.SCRAM, result.SaltB64 = true, true
	default:
		return result, ErrHashInvalid
	}

	switch code % 10 {
	case 3:
		result.Hash, result.OutputSize, result.Mechanism = md5.New, md5.Size, "SCRAM-MD5"
	case 4:
		result.Hash, result.OutputSize, result.Mechanism = sha1.New, sha1.Size, "SCRAM-SHA-1"
	case 5:
		result.Hash, result.OutputSize, result.Mechanism = sha256.New, sha256.Size, "SCRAM-SHA-256"
	case 6:
		result.Hash, result.OutputSize, result.Mechanism = sha512.New, sha512.Size, "SCRAM-SHA-512"
	default:
		return result, ErrHashInvalid
	}
	return result, nil
}

// pbkdf2v2Hash is a parsed $z$alg$iter$salt$digest hash. For SCRAM
// algorithms the digest is serverkey$storedkey.
type pbkdf2v2Hash struct {
	algo      pbkdf2v2Algo
	iter      int
	salt      []byte
	digest    []byte
	storedKey []byte
}

func parsePBKDF2V2(hash []byte) (result pbkdf2v2Hash, err error) {
	parts := bytes.Split(hash, []byte{'$'})
	if len(parts) < 6 {
		return result, ErrHashInvalid
	}
	if result.algo, err = parsePBKDF2V2Algo(string(parts[2])); err != nil {
		return
	}
	if result.algo.SCRAM && len(parts) != 7 || !result.algo.SCRAM && len(parts) != 6 {
		return result, ErrHashInvalid
	}
	if result.iter, err = strconv.Atoi(string(parts[3])); err != nil || result.iter <= 0 {
		return result, ErrHashInvalid
	}

	result.salt = parts[4]
	if result.algo.SaltB64 {
		if result.salt, err = base64.StdEncoding.DecodeString(string(parts[4])); err != nil {
			return result, ErrHashInvalid
		}
	}
	if result.digest, err = base64.StdEncoding.DecodeString(string(parts[5])); err != nil {
		return result, ErrHashInvalid
	}
	if result.algo.SCRAM {
		if result.storedKey, err = base64.StdEncoding.DecodeString(string(parts[6])); err != nil {
			return result, ErrHashInvalid
		}
	}
	return result, nil
}

func checkPBKDF2V2(hash, passphrase []byte) (err error) {
	parsed, err := parsePBKDF2V2(hash)
	if err != nil {
		return err
	}

	var key []byte
	if parsed.algo.SCRAM {
		salted := pbkdf2.Key(passphrase, parsed.salt, parsed.iter, parsed.algo.OutputSize, parsed.algo.Hash)
		mac := hmac.New(parsed.algo.Hash, salted)
		mac.Write(hmacServerKeyText)
		key = mac.Sum(nil)
	} else {
		key = pbkdf2.Key(passphrase, parsed.salt, parsed.iter, len(parsed.digest), parsed.algo.Hash)
	}

	if subtle.ConstantTimeCompare(key, parsed.digest) == 1 {
		return nil
	}
	return ErrHashCheckFailed
}

// crypto/pbkdf2: SHA2-512, 128000 iterations, a 16-character ASCII salt
// followed by the hex digest, 144 characters in all
func checkPBKDF2(hash, passphrase []byte) (err error) {
	if len(hash) != 144 {
		return ErrHashInvalid
	}

	salt := hash[:16]
	digest := make([]byte, sha512.Size)
	if n, err := hex.Decode(digest, hash[16:]); err != nil || n != sha512.Size {
		return ErrHashCheckFailed
	}

	key := pbkdf2.Key(passphrase, salt, 128000, sha512.Size, sha512.New)
	if subtle.ConstantTimeCompare(key, digest) == 1 {
		return nil
	}
	return ErrHashCheckFailed
}

// SCRAMCredentials are the RFC 5802 verifiers stored in a SCRAM pbkdf2v2 hash.
type SCRAMCredentials struct {
	Mechanism string
	Salt      []byte
	Iters     int
	StoredKey []byte
	ServerKey []byte
}

// ParseAthemeSCRAM extracts SCRAM verifiers from a pbkdf2v2 hash created
// with one of the SCRAM PRFs.
func ParseAthemeSCRAM(hash []byte) (result SCRAMCredentials, err error) {
	if ClassifyAthemeHash(hash) != HashPBKDF2V2 {
		return result, ErrNotSCRAM
	}
	parsed, err := parsePBKDF2V2(hash)
	if err != nil {
		return result, err
	}
	if !parsed.algo.SCRAM {
		return result, ErrNotSCRAM
	}
	return SCRAMCredentials{
		Mechanism: parsed.algo.Mechanism,
		Salt:      parsed.salt,
		Iters:     parsed.iter,
		StoredKey: parsed.storedKey,
		ServerKey: parsed.digest,
	}, nil
}
