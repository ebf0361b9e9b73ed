// Copyright 2020-2021 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"regexp"
	"strings"

	"gopkg.in/src-d/go-errors.v1"
)

var (
	regNative = regexp.MustCompile(`^\*[0-9A-F]{40}$`)

	// ErrParseTokenFile is given when the token file is malformed.
	ErrParseTokenFile = errors.NewKind("error parsing token file")
	// ErrUnknownPermission happens when a listed permission is not defined.
	ErrUnknownPermission = errors.NewKind("unknown permission, %s")
	// ErrDuplicateToken happens when a token's hash appears more than once.
	ErrDuplicateToken = errors.NewKind("duplicate token")
)

// nativeToken holds the hashed credential and permissions for one bearer
// token, the token-based analogue of the teacher's nativeUser.
type nativeToken struct {
	TokenHash       string
	JSONPermissions []string `json:"Permissions"`
	Permissions     Permission
}

// allowed checks whether the token carries permission p.
func (t nativeToken) allowed(p Permission) error {
	if t.Permissions&p == p {
		return nil
	}
	missing := (^t.Permissions) & p
	return ErrNotAuthorized.Wrap(ErrNoPermission.New(missing))
}

// NativePassword hashes a bearer token the way mysql_native_password
// hashes a password: sha1(sha1(token)), upper-hex, "*"-prefixed. Keeping
// this scheme (rather than a plain token comparison) means a token file
// can be generated and distributed without ever storing tokens themselves.
func NativePassword(token string) string {
	if len(token) == 0 {
		return ""
	}

	hash := sha1.New()
	hash.Write([]byte(token))
	s1 := hash.Sum(nil)

	hash.Reset()
	hash.Write(s1)
	s2 := hash.Sum(nil)

	return fmt.Sprintf("*%s", strings.ToUpper(hex.EncodeToString(s2)))
}

// Native holds a fixed table of hashed bearer tokens and the permissions
// each one carries.
type Native struct {
	tokens map[string]nativeToken // keyed by NativePassword(token)
}

var _ Authenticator = (*Native)(nil)

// NewNativeSingle creates a Native recognizing a single bearer token,
// granted the given permissions.
func NewNativeSingle(token string, perm Permission) *Native {
	hash := NativePassword(token)
	return &Native{tokens: map[string]nativeToken{
		hash: {TokenHash: hash, Permissions: perm},
	}}
}

// NewNativeFile creates a Native and loads hashed tokens from a JSON file.
// Each entry's TokenHash may be given already hashed (matching regNative)
// or as a raw token, which is hashed on load.
func NewNativeFile(file string) (*Native, error) {
	var data []nativeToken

	raw, err := ioutil.ReadFile(file)
	if err != nil {
		return nil, ErrParseTokenFile.New(err)
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, ErrParseTokenFile.New(err)
	}

	tokens := make(map[string]nativeToken)
	for _, t := range data {
		if !regNative.MatchString(t.TokenHash) {
			t.TokenHash = NativePassword(t.TokenHash)
		}
		if _, ok := tokens[t.TokenHash]; ok {
			return nil, ErrParseTokenFile.Wrap(ErrDuplicateToken.New())
		}

		if len(t.JSONPermissions) == 0 {
			t.Permissions = DefaultPermissions
		}
		for _, p := range t.JSONPermissions {
			perm, ok := PermissionNames[strings.ToLower(p)]
			if !ok {
				return nil, ErrParseTokenFile.Wrap(ErrUnknownPermission.New(p))
			}
			t.Permissions |= perm
		}

		tokens[t.TokenHash] = t
	}

	return &Native{tokens}, nil
}

// Allowed implements Authenticator.
func (s *Native) Allowed(token string, permission Permission) error {
	t, ok := s.tokens[NativePassword(token)]
	if !ok {
		return ErrNotAuthorized.Wrap(ErrNoPermission.New(permission))
	}
	return t.allowed(permission)
}
