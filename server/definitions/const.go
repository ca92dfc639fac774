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

package definitions

import "time"

const (
	// LogKeyGUID represents the per-operation identifier used in log entries.
	LogKeyGUID = "session"

	// LogKeyMsg represents the message content in log entries.
	LogKeyMsg = "msg"

	// LogKeyError represents error information in log entries.
	LogKeyError = "error"

	// LogKeyErrorDetails represents additional error details in log entries.
	LogKeyErrorDetails = "error_details"

	// LogKeyWarning represents warning information in log entries.
	LogKeyWarning = "warn"

	// LogKeyInstance represents instance identification in log entries.
	LogKeyInstance = "instance"

	// LogKeyUsername represents the username an operation acts on.
	LogKeyUsername = "username"

	// LogKeyUserID represents the numeric user id an operation acts on.
	LogKeyUserID = "user_id"

	// LogKeyBackend represents the authentication backend that handled an operation.
	LogKeyBackend = "backend"

	// LogKeyLDAPPoolName represents the name of the LDAP connection pool.
	LogKeyLDAPPoolName = "pool"

	// LogKeyBindDN represents the distinguished name used for an LDAP bind.
	LogKeyBindDN = "bind_dn"

	// LogKeyNode represents the service node assigned to a user.
	LogKeyNode = "node"

	// LogKeyStatus represents the general status (like authentication) for logging.
	LogKeyStatus = "authenticated"

	// LogKeyOperation represents the backend operation being executed.
	LogKeyOperation = "operation"

	// LogKeyLatency represents the latency of an operation for performance logging.
	LogKeyLatency = "latency"
)

const (
	// LogLevelNone is the iota constant representing no logs
	LogLevelNone = iota

	// LogLevelError is the iota constant for error logs
	LogLevelError

	// LogLevelWarn is the iota constant for warning logs
	LogLevelWarn

	// LogLevelInfo is the iota constant for info logs
	LogLevelInfo

	// LogLevelDebug is the iota constant for debug logs
	LogLevelDebug
)

const (
	// BackendUnknown refers to an unidentified backend.
	BackendUnknown Backend = iota

	// BackendLDAP is the directory-backed authentication backend.
	BackendLDAP

	// BackendMemory is the in-process map-backed authentication backend.
	BackendMemory
)

const (
	// BackendUnknownName refers to an unidentified backend
	BackendUnknownName = "unknown"

	// BackendLDAPName indicates the directory-backed backend
	BackendLDAPName = "ldap"

	// BackendMemoryName indicates the in-process map-backed backend
	BackendMemoryName = "memory"
)

const (
	// ProgName is the program name used for configuration lookups and logging.
	ProgName = "syncauth"

	// InstanceName is the default name of a syncauth instance.
	InstanceName = "syncauth"

	// Localhost represents the hostname for the local machine.
	Localhost = "localhost"

	// Localhost4 is a shorthand for the IPv4 localhost address
	Localhost4 = "127.0.0.1"

	// RedisAddress is the default address of a local Redis instance.
	RedisAddress = Localhost4

	// RedisPort is the default port of a local Redis instance.
	RedisPort = 6379
)

const (
	// LDAPConnectTimeout is the connection timeout (in seconds) for the LDAP server
	LDAPConnectTimeout = 30

	// LDAPPoolSize is the default number of connection slots per pool.
	LDAPPoolSize = 10

	// LDAPRetryMax is the default number of retries for failed binds and for
	// acquisition attempts against a saturated pool.
	LDAPRetryMax = 3

	// LDAPRetryDelay is the default pause between two bind or acquisition retries.
	LDAPRetryDelay = 100 * time.Millisecond

	// SQLMaxConnections is the default upper bound of open SQL connections.
	SQLMaxConnections = 10

	// SQLMaxIdleConnections is the default number of idle SQL connections kept around.
	SQLMaxIdleConnections = 2
)

// LDAPSingleValue represents the index used to access the single value of an attribute in an LDAP response.
const LDAPSingleValue = 0

// DistinguishedName represents the distinguished name attribute used in LDAP operations.
const DistinguishedName = "dn"

const (
	// LDAPStateClosed represents the state of a pooled connection without a live session
	LDAPStateClosed LDAPState = iota

	// LDAPStateFree represents the state of a pooled connection that is available for use
	LDAPStateFree

	// LDAPStateBusy represents the state of a pooled connection that is currently checked out
	LDAPStateBusy
)

const (
	// LDAPSearch identifies an LDAP search operation.
	LDAPSearch LDAPCommand = iota

	// LDAPAdd identifies an LDAP add operation.
	LDAPAdd

	// LDAPModify identifies an LDAP modify operation.
	LDAPModify

	// LDAPDelete identifies an LDAP delete operation.
	LDAPDelete
)

// Attribute names of a user entry in the directory.
const (
	// AttrCommonName is the "cn" attribute.
	AttrCommonName = "cn"

	// AttrSurname is the "sn" attribute.
	AttrSurname = "sn"

	// AttrUID is the login name attribute.
	AttrUID = "uid"

	// AttrUIDNumber is the numeric user id attribute.
	AttrUIDNumber = "uidNumber"

	// AttrPrimaryNode holds the node a user account is pinned to.
	AttrPrimaryNode = "primaryNode"

	// AttrRescueNode holds the fallback node of a user account.
	AttrRescueNode = "rescueNode"

	// AttrUserPassword is the hashed password attribute.
	AttrUserPassword = "userPassword"

	// AttrAccountEnabled is the soft-disable flag attribute.
	AttrAccountEnabled = "account-enabled"

	// AttrMail is the e-mail address attribute.
	AttrMail = "mail"

	// AttrMailVerified holds the registration verification key.
	AttrMailVerified = "mail-verified"

	// AttrObjectClass is the "objectClass" attribute.
	AttrObjectClass = "objectClass"
)

const (
	// AccountEnabled is the sentinel value of AttrAccountEnabled for active accounts.
	AccountEnabled = "Yes"

	// NodePrefix tags node values stored in AttrPrimaryNode and AttrRescueNode.
	NodePrefix = "weave:"

	// ObjectClassDataStore is the auxiliary object class carrying the node attributes.
	ObjectClassDataStore = "dataStore"

	// ObjectClassInetOrgPerson is the structural object class of a user entry.
	ObjectClassInetOrgPerson = "inetOrgPerson"

	// UsersRootMD5 selects the hash-bucketed DN scheme instead of a fixed users root.
	UsersRootMD5 = "md5"

	// NodeScheme is the default URL scheme of assigned node endpoints.
	NodeScheme = "https"
)

const (
	// ResetCodeGroups is the number of hyphen-separated groups in a reset code.
	ResetCodeGroups = 4

	// ResetCodeGroupLen is the number of characters per reset code group.
	ResetCodeGroupLen = 4

	// ResetCodeValidity is how long a generated reset code stays usable.
	ResetCodeValidity = 6 * time.Hour
)

const (
	// SSHA1 is a constant for choosing the salted SHA-1 algorithm
	SSHA1 Algorithm = iota

	// SSHA256 is a constant for choosing the SHA-256 algorithm
	SSHA256

	// SSHA512 is a constant for choosing the SHA-512 algorithm
	SSHA512
)

const (
	// B64 instructs password routines to deal with base64 encoded hashes
	B64 PasswordOption = iota

	// HEX instructs password routines to deal with hexadecimal encoded hashes
	HEX
)

const (
	// DbgNone is used when no debugging module is selected.
	DbgNone DbgModule = iota

	// DbgAll is used for indicating all debugging modules.
	DbgAll

	// DbgAuth is the debugging module for authentication processes.
	DbgAuth

	// DbgLDAP is the debugging module for LDAP related debugging.
	DbgLDAP

	// DbgLDAPPool is the dedicated module for debugging LDAP connection pooling issues.
	DbgLDAPPool

	// DbgSQL is the debugging module for node assignment and reset code storage.
	DbgSQL

	// DbgCache is suitable for cache mechanism debugging.
	DbgCache

	// DbgStats used for debugging statistical computations.
	DbgStats
)

const (
	// DbgNoneName is the debug identifier for 'none'
	DbgNoneName = "none"

	// DbgAllName is the debug identifier for 'all'
	DbgAllName = "all"

	// DbgAuthName is the debug identifier for authentication
	DbgAuthName = "auth"

	// DbgLDAPName is the debug identifier for LDAP
	DbgLDAPName = "ldap"

	// DbgLDAPPoolName is the debug identifier for the LDAP pool
	DbgLDAPPoolName = "ldappool"

	// DbgSQLName is the debug identifier for SQL storage
	DbgSQLName = "sql"

	// DbgCacheName is the debug identifier for cache
	DbgCacheName = "cache"

	// DbgStatsName is the debug identifier for statistics
	DbgStatsName = "statistics"
)
