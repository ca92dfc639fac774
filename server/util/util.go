// Copyright (C) 2024 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package util

import (
	"crypto/sha1" //nolint:gosec // SSHA is the storage format of the directory
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"regexp"
	"runtime"
	"strings"

	"github.com/croessner/syncauth/server/config"
	"github.com/croessner/syncauth/server/definitions"
	"github.com/croessner/syncauth/server/errors"
	"github.com/croessner/syncauth/server/log"
	"github.com/go-kit/log/level"
	"github.com/simia-tech/crypt"
)

// Legal characters for a login name: any character except "(", ")", "{", SP, CTL, "%", "*", "\" and '"'.
var usernamePattern = regexp.MustCompile(`^[^\x00-\x1F\x7F(){}%"*\\ ]+$`)

// CryptPassword is a container for a salted password hash as stored in the
// userPassword attribute of a directory entry.
type CryptPassword struct {
	definitions.Algorithm
	definitions.PasswordOption
	Password string
	Salt     []byte
}

// Generate creates the encrypted form of a plain text password. It sets the
// Algorithm, PasswordOption, Salt and Password fields of the CryptPassword
// struct and returns the generated password string.
func (c *CryptPassword) Generate(plainPassword string, salt []byte, alg definitions.Algorithm, pwOption definitions.PasswordOption) (
	string, error,
) {
	var hashValue hash.Hash

	switch alg {
	case definitions.SSHA1:
		hashValue = sha1.New() //nolint:gosec // SSHA is the storage format of the directory
	case definitions.SSHA256:
		hashValue = sha256.New()
	case definitions.SSHA512:
		hashValue = sha512.New()
	default:
		return "", errors.ErrUnsupportedAlgorithm
	}

	c.Algorithm = alg
	c.Salt = salt

	hashValue.Write([]byte(plainPassword))
	hashValue.Write(salt)

	hashSum := hashValue.Sum(nil)

	hashWithSalt := make([]byte, len(hashSum)+len(salt))
	copy(hashWithSalt, hashSum)
	copy(hashWithSalt[len(hashSum):], salt)

	switch pwOption {
	case definitions.B64:
		c.Password = base64.StdEncoding.EncodeToString(hashWithSalt)
		c.PasswordOption = definitions.B64
	case definitions.HEX:
		c.Password = hex.EncodeToString(hashWithSalt)
		c.PasswordOption = definitions.HEX
	default:
		return "", errors.ErrUnsupportedPasswordOption
	}

	return c.Password, nil
}

// Full format: {SSHA}payload, {SSHA256.B64}payload or {SSHA512.HEX}payload;
// option and dot are optional, default B64. A bare SSHA prefix selects SHA-1.
var passwordPrefixPattern = regexp.MustCompile(`^\{SSHA(1|256|512)?(?:\.(HEX|B64))?}(.+)$`)

// digestLength returns the raw digest size of the given algorithm.
func digestLength(alg definitions.Algorithm) int {
	switch alg {
	case definitions.SSHA512:
		return sha512.Size
	case definitions.SSHA256:
		return sha256.Size
	default:
		return sha1.Size
	}
}

// GetParameters splits an encoded password into its components. It extracts
// the salt, algorithm and password option from the crypted password and sets
// the corresponding fields in the CryptPassword struct.
func (c *CryptPassword) GetParameters(cryptedPassword string) (
	salt []byte, alg definitions.Algorithm, pwOption definitions.PasswordOption, err error,
) {
	var decodedPwSalt []byte

	subs := passwordPrefixPattern.FindStringSubmatch(cryptedPassword)
	if len(subs) != 4 { // full match + 3 capture groups
		return nil, alg, pwOption, errors.ErrUnsupportedAlgorithm
	}

	switch subs[1] {
	case "512":
		alg = definitions.SSHA512
	case "256":
		alg = definitions.SSHA256
	case "1", "":
		alg = definitions.SSHA1
	}

	c.Algorithm = alg

	switch subs[2] {
	case "HEX":
		pwOption = definitions.HEX
	default:
		pwOption = definitions.B64
	}

	c.PasswordOption = pwOption

	// Group 3 is the encoded password+salt payload.
	c.Password = subs[3]

	if pwOption == definitions.B64 {
		decodedPwSalt, err = base64.StdEncoding.DecodeString(c.Password)
	} else {
		decodedPwSalt, err = hex.DecodeString(c.Password)
	}

	if err != nil {
		return nil, alg, pwOption, err
	}

	digestLen := digestLength(alg)
	if len(decodedPwSalt) <= digestLen {
		return nil, alg, pwOption, errors.ErrPasswordEncoding
	}

	salt = decodedPwSalt[digestLen:]
	c.Salt = salt

	return salt, alg, pwOption, nil
}

// SSHAPassword hashes a plain text password into the "{SSHA}<base64>" form
// stored in the userPassword attribute. The salt must have been drawn from a
// random source by the caller.
func SSHAPassword(plainPassword string, salt []byte) (string, error) {
	password := &CryptPassword{}

	encoded, err := password.Generate(plainPassword, salt, definitions.SSHA1, definitions.B64)
	if err != nil {
		return "", err
	}

	return "{SSHA}" + encoded, nil
}

// ComparePasswords takes a plain password, creates a hash with the parameters
// of the stored one and compares both in constant time. If an error occurs,
// the result is false and the error is returned.
func ComparePasswords(hashPassword string, plainPassword string) (bool, error) {
	if strings.HasPrefix(hashPassword, "{SSHA") {
		password := &CryptPassword{}

		salt, alg, pwOption, err := password.GetParameters(hashPassword)
		if err != nil {
			return false, err
		}

		newPassword := &CryptPassword{}

		_, err = newPassword.Generate(plainPassword, salt, alg, pwOption)
		if err != nil {
			return false, err
		}

		return subtle.ConstantTimeCompare([]byte(password.Password), []byte(newPassword.Password)) == 1, nil
	}

	// Supported passwords: MD5, SHA256, SHA512, bcrypt, Argon2i, Argon2id
	_, _, _, pwhash, err := crypt.DecodeSettings(hashPassword)
	if err != nil {
		return false, err
	}

	settings, _, found := strings.Cut(hashPassword, pwhash)
	if !found {
		return false, errors.ErrUnsupportedAlgorithm
	}

	encoded, err := crypt.Crypt(plainPassword, settings)
	if err != nil {
		return false, err
	}

	return subtle.ConstantTimeCompare([]byte(encoded), []byte(hashPassword)) == 1, nil
}

// ValidateUsername validates the given username against the usernamePattern
// regular expression. Usernames end up embedded in distinguished names and
// search filters, so shell out early on anything suspicious.
func ValidateUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// EscapeLDAPFilter escapes a string for safe embedding into an LDAP filter
// per RFC 4515.
func EscapeLDAPFilter(value string) string {
	if value == "" {
		return value
	}

	var sb strings.Builder

	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '\\':
			sb.WriteString(`\5c`)
		case '*':
			sb.WriteString(`\2a`)
		case '(':
			sb.WriteString(`\28`)
		case ')':
			sb.WriteString(`\29`)
		case '\x00':
			sb.WriteString(`\00`)
		default:
			sb.WriteByte(value[i])
		}
	}

	return sb.String()
}

// RemoveCRLFFromQueryOrFilter strips line breaks from values that end up in
// SQL queries or LDAP filters.
func RemoveCRLFFromQueryOrFilter(value string, sep string) string {
	re := regexp.MustCompile(`\s*[\r\n]+\s*`)

	return re.ReplaceAllString(value, sep)
}

// ByteSize formats a given number of bytes into a human-readable string
// representation, e.g. 1.5KB or 20MB.
func ByteSize(bytes uint64) string {
	const unit = 1024

	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}

	div, exp := uint64(unit), 0

	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f%cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// DebugModule writes a debug log line when the given module is selected in
// the server configuration and the log level is debug. The calling function
// name is attached to each line.
func DebugModule(module definitions.DbgModule, keyvals ...any) {
	var moduleName string

	if config.GetFile().GetServer().GetLog().GetLogLevel() < definitions.LogLevelDebug {
		return
	}

	switch module {
	case definitions.DbgAll:
		moduleName = definitions.DbgAllName
	case definitions.DbgAuth:
		moduleName = definitions.DbgAuthName
	case definitions.DbgLDAP:
		moduleName = definitions.DbgLDAPName
	case definitions.DbgLDAPPool:
		moduleName = definitions.DbgLDAPPoolName
	case definitions.DbgSQL:
		moduleName = definitions.DbgSQLName
	case definitions.DbgCache:
		moduleName = definitions.DbgCacheName
	case definitions.DbgStats:
		moduleName = definitions.DbgStatsName
	default:
		return
	}

	for _, selected := range config.GetFile().GetServer().GetLog().GetDebugModules() {
		if !(selected == definitions.DbgAll || selected == module) {
			continue
		}

		keyvals = append(keyvals, "debug_module", moduleName)

		if counter, _, _, ok := runtime.Caller(1); ok {
			keyvals = append(keyvals, "function", runtime.FuncForPC(counter).Name())

			level.Debug(log.GetLogger()).Log(keyvals...)
		}

		break
	}
}
