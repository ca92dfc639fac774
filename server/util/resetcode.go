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
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // verification key, not a credential
	"encoding/hex"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/croessner/syncauth/server/definitions"
)

const resetCodeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var resetCodePattern = regexp.MustCompile(`^[A-Z0-9]{4}(-[A-Z0-9]{4}){3}$`)

// GenerateResetCode mints a new reset code together with its expiration
// time. The code consists of four hyphen-separated groups of four uppercase
// alphanumeric characters.
func GenerateResetCode() (code string, expiration time.Time, err error) {
	groups := make([]string, definitions.ResetCodeGroups)

	for group := range groups {
		var sb strings.Builder

		for i := 0; i < definitions.ResetCodeGroupLen; i++ {
			index, randErr := rand.Int(rand.Reader, big.NewInt(int64(len(resetCodeChars))))
			if randErr != nil {
				return "", time.Time{}, randErr
			}

			sb.WriteByte(resetCodeChars[index.Int64()])
		}

		groups[group] = sb.String()
	}

	return strings.Join(groups, "-"), time.Now().Add(definitions.ResetCodeValidity), nil
}

// CheckResetCode verifies that a reset code is well-formed. Malformed codes
// are rejected before any storage lookup happens.
func CheckResetCode(code string) bool {
	return resetCodePattern.MatchString(code)
}

// RegistrationKey derives the verification key stored in the mail-verified
// attribute of a freshly created user entry.
func RegistrationKey(username string) (string, error) {
	nonce, err := rand.Int(rand.Reader, big.NewInt(10000000))
	if err != nil {
		return "", err
	}

	hashValue := sha1.New() //nolint:gosec // verification key, not a credential
	hashValue.Write([]byte(nonce.String()))
	hashValue.Write([]byte(username))

	return hex.EncodeToString(hashValue.Sum(nil)), nil
}
