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

package backend

import (
	"context"
	"crypto/md5" //nolint:gosec // DN bucketing, not a credential
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/croessner/syncauth/server/backend/bktype"
	"github.com/croessner/syncauth/server/backend/ldappool"
	"github.com/croessner/syncauth/server/config"
	"github.com/croessner/syncauth/server/definitions"
	"github.com/croessner/syncauth/server/errors"
	"github.com/croessner/syncauth/server/log"
	"github.com/croessner/syncauth/server/stats"
	"github.com/croessner/syncauth/server/util"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-ldap/ldap/v3"
	"github.com/segmentio/ksuid"
	"golang.org/x/sync/singleflight"
)

// LDAPBackend implements Backend against a directory, with SQL-backed node
// assignment and reset codes. All directory traffic goes through the
// connection pool; authentication is the user's own bind.
type LDAPBackend struct {
	conf       *config.LDAPSection
	nodesConf  *config.NodesSection
	pool       ldappool.ConnectionPool
	nodes      NodeAssignmentStore
	resetCodes ResetCodeStore
	cache      *NodeCache
	logger     kitlog.Logger

	// checkAccountState additionally requires the account-enabled
	// attribute on authentication. Fixed at construction time.
	checkAccountState bool

	assignGroup singleflight.Group
}

var _ Backend = (*LDAPBackend)(nil)

// NewLDAPBackend assembles the directory backend from its collaborators.
// A nil logger falls back to the global logger.
func NewLDAPBackend(
	conf *config.LDAPSection,
	nodesConf *config.NodesSection,
	pool ldappool.ConnectionPool,
	nodes NodeAssignmentStore,
	resetCodes ResetCodeStore,
	cache *NodeCache,
	logger kitlog.Logger,
) *LDAPBackend {
	if logger == nil {
		logger = log.GetLogger()
	}

	return &LDAPBackend{
		conf:              conf,
		nodesConf:         nodesConf,
		pool:              pool,
		nodes:             nodes,
		resetCodes:        resetCodes,
		cache:             cache,
		logger:            logger,
		checkAccountState: conf.GetCheckAccountState(),
	}
}

// GetName returns the backend variant name.
func (l *LDAPBackend) GetName() string {
	return definitions.BackendLDAPName
}

// userDN derives the distinguished name of a user entry. With users_root
// set to "md5" the entry lives in a hash bucket below users_base_dn, the
// bucket components being the shrinking suffixes of the first five hex
// characters of the name's md5.
func (l *LDAPBackend) userDN(username string) (string, error) {
	if !util.ValidateUsername(username) {
		return "", errors.ErrInvalidUsername
	}

	escaped := ldap.EscapeDN(username)

	if l.conf.GetUsersRoot() == definitions.UsersRootMD5 {
		digest := md5.Sum([]byte(username)) //nolint:gosec // DN bucketing, not a credential
		bucket := hex.EncodeToString(digest[:])[:5]

		return fmt.Sprintf("uid=%s,dc=%s,dc=%s,dc=%s,dc=%s,dc=%s,%s",
			escaped, bucket, bucket[1:], bucket[2:], bucket[3:], bucket[4:], l.conf.GetUsersBaseDN()), nil
	}

	return fmt.Sprintf("uid=%s,%s", escaped, l.conf.GetUsersRoot()), nil
}

// searchBase returns the subtree all user entries live under.
func (l *LDAPBackend) searchBase() string {
	if l.conf.GetUsersRoot() == definitions.UsersRootMD5 {
		return l.conf.GetUsersBaseDN()
	}

	return l.conf.GetUsersRoot()
}

// searchUser runs a subtree search under the default bind. A missing base
// or entry is a negative result, not an error.
func (l *LDAPBackend) searchUser(ctx context.Context, guid string, filter string, attributes []string) (bktype.AttributeMapping, error) {
	var result bktype.AttributeMapping

	err := l.pool.WithConnection(ctx, "", "", func(conn ldappool.DirectoryConnection) error {
		searchResult, _, err := conn.Search(&bktype.LDAPSearchRequest{
			GUID:       guid,
			BaseDN:     l.searchBase(),
			Scope:      bktype.ScopeSubtree,
			Filter:     filter,
			Attributes: attributes,
		})
		if err != nil {
			return ldappool.ClassifyError(err)
		}

		result = searchResult

		return nil
	})

	if err != nil {
		if stderrors.Is(err, errors.ErrNoSuchObject) {
			return nil, nil
		}

		return nil, err
	}

	return result, nil
}

// resolveUser looks an entry up by its numeric user id.
func (l *LDAPBackend) resolveUser(ctx context.Context, guid string, userID string, attributes []string) (bktype.AttributeMapping, error) {
	filter := fmt.Sprintf("(%s=%s)", definitions.AttrUIDNumber, util.EscapeLDAPFilter(userID))

	return l.searchUser(ctx, guid, filter, attributes)
}

// hashUserPassword hashes a plain password into the stored SSHA form.
func hashUserPassword(plainPassword string) (string, error) {
	salt := make([]byte, 4)

	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	return util.SSHAPassword(plainPassword, salt)
}

// GetUserID resolves a username to its numeric id, empty when unknown.
func (l *LDAPBackend) GetUserID(ctx context.Context, username string) (string, error) {
	if !util.ValidateUsername(username) {
		return "", nil
	}

	guid := ksuid.New().String()
	filter := fmt.Sprintf("(%s=%s)", definitions.AttrUID, util.EscapeLDAPFilter(username))

	result, err := l.searchUser(ctx, guid, filter, []string{definitions.AttrUIDNumber})
	if err != nil {
		return "", err
	}

	return result.GetSingleValue(definitions.AttrUIDNumber), nil
}

// CreateUser allocates a numeric id and adds the directory entry under the
// admin bind. The fresh entry carries empty node attributes, node
// assignment happens on first GetUserNode.
func (l *LDAPBackend) CreateUser(ctx context.Context, username string, password string, email string) (bool, error) {
	guid := ksuid.New().String()

	dn, err := l.userDN(username)
	if err != nil {
		return false, err
	}

	userID, err := l.nodes.AllocateUserID(ctx)
	if err != nil {
		return false, err
	}

	passwordHash, err := hashUserPassword(password)
	if err != nil {
		return false, err
	}

	registrationKey, err := util.RegistrationKey(username)
	if err != nil {
		return false, err
	}

	attributes := map[string][]string{
		definitions.AttrObjectClass:    {definitions.ObjectClassDataStore, definitions.ObjectClassInetOrgPerson},
		definitions.AttrCommonName:     {username},
		definitions.AttrSurname:        {username},
		definitions.AttrUID:            {username},
		definitions.AttrUIDNumber:      {strconv.FormatInt(userID, 10)},
		definitions.AttrPrimaryNode:    {definitions.NodePrefix},
		definitions.AttrRescueNode:     {definitions.NodePrefix},
		definitions.AttrUserPassword:   {passwordHash},
		definitions.AttrAccountEnabled: {definitions.AccountEnabled},
		definitions.AttrMailVerified:   {registrationKey},
	}

	if email != "" {
		attributes[definitions.AttrMail] = []string{email}
	}

	adminDN, err := l.conf.GetAdminDN()
	if err != nil {
		return false, err
	}

	err = l.pool.WithConnection(ctx, adminDN, l.conf.GetAdminPW(), func(conn ldappool.DirectoryConnection) error {
		if addErr := conn.Add(&bktype.LDAPAddRequest{GUID: guid, DN: dn, Attributes: attributes}); addErr != nil {
			return ldappool.ClassifyError(addErr)
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	level.Info(l.logger).Log(
		definitions.LogKeyGUID, guid,
		definitions.LogKeyUsername, username,
		definitions.LogKeyUserID, userID,
		definitions.LogKeyMsg, "User created",
	)

	return true, nil
}

// AuthenticateUser binds as the user's own DN, which is the password check,
// and reads the uidNumber from the bound entry. Invalid credentials and
// missing entries are negative results; a soft-disabled account fails
// authentication when account state checking is on.
func (l *LDAPBackend) AuthenticateUser(ctx context.Context, username string, password string) (string, error) {
	if password == "" {
		return "", nil
	}

	dn, err := l.userDN(username)
	if err != nil {
		return "", nil
	}

	guid := ksuid.New().String()

	attributes := []string{definitions.AttrUIDNumber}
	if l.checkAccountState {
		attributes = append(attributes, definitions.AttrAccountEnabled)
	}

	var result bktype.AttributeMapping

	err = l.pool.WithConnection(ctx, dn, password, func(conn ldappool.DirectoryConnection) error {
		searchResult, _, searchErr := conn.Search(&bktype.LDAPSearchRequest{
			GUID:       guid,
			BaseDN:     dn,
			Scope:      bktype.ScopeBase,
			Filter:     "(objectClass=*)",
			Attributes: attributes,
		})
		if searchErr != nil {
			return ldappool.ClassifyError(searchErr)
		}

		result = searchResult

		return nil
	})

	if err != nil {
		if stderrors.Is(err, errors.ErrInvalidCredentials) || stderrors.Is(err, errors.ErrNoSuchObject) {
			stats.LoginsCounter.WithLabelValues("fail").Inc()

			util.DebugModule(definitions.DbgAuth, definitions.LogKeyGUID, guid, definitions.LogKeyBindDN, dn, definitions.LogKeyMsg, "Authentication failed")

			return "", nil
		}

		return "", err
	}

	if l.checkAccountState && result.GetSingleValue(definitions.AttrAccountEnabled) != definitions.AccountEnabled {
		stats.LoginsCounter.WithLabelValues("fail").Inc()

		util.DebugModule(definitions.DbgAuth, definitions.LogKeyGUID, guid, definitions.LogKeyBindDN, dn, definitions.LogKeyMsg, "Account disabled")

		return "", nil
	}

	stats.LoginsCounter.WithLabelValues("ok").Inc()

	return result.GetSingleValue(definitions.AttrUIDNumber), nil
}

// GetUserInfo returns the username and e-mail for a user id.
func (l *LDAPBackend) GetUserInfo(ctx context.Context, userID string) (string, string, error) {
	guid := ksuid.New().String()

	result, err := l.resolveUser(ctx, guid, userID, []string{definitions.AttrUID, definitions.AttrMail})
	if err != nil {
		return "", "", err
	}

	return result.GetSingleValue(definitions.AttrUID), result.GetSingleValue(definitions.AttrMail), nil
}

// UpdateEmail replaces the mail attribute under the user's own bind. The
// current password is required, self-service proves possession.
func (l *LDAPBackend) UpdateEmail(ctx context.Context, userID string, email string, password string) (bool, error) {
	if password == "" {
		return false, nil
	}

	guid := ksuid.New().String()

	result, err := l.resolveUser(ctx, guid, userID, []string{definitions.AttrUID})
	if err != nil {
		return false, err
	}

	dn := result.GetSingleValue(definitions.DistinguishedName)
	if dn == "" {
		return false, nil
	}

	err = l.pool.WithConnection(ctx, dn, password, func(conn ldappool.DirectoryConnection) error {
		if modErr := conn.Modify(&bktype.LDAPModifyRequest{
			GUID:    guid,
			DN:      dn,
			Replace: map[string][]string{definitions.AttrMail: {email}},
		}); modErr != nil {
			return ldappool.ClassifyError(modErr)
		}

		return nil
	})

	if err != nil {
		if stderrors.Is(err, errors.ErrInvalidCredentials) || stderrors.Is(err, errors.ErrNoSuchObject) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// UpdatePassword replaces the stored password hash. Without an old password
// this is an administrative reset under the admin bind, otherwise the user
// binds with the old password. Pooled entries stuck on outdated credentials
// are purged afterwards.
func (l *LDAPBackend) UpdatePassword(ctx context.Context, userID string, newPassword string, oldPassword string) (bool, error) {
	guid := ksuid.New().String()

	result, err := l.resolveUser(ctx, guid, userID, []string{definitions.AttrUID})
	if err != nil {
		return false, err
	}

	dn := result.GetSingleValue(definitions.DistinguishedName)
	if dn == "" {
		return false, nil
	}

	passwordHash, err := hashUserPassword(newPassword)
	if err != nil {
		return false, err
	}

	bindDN, bindPW := dn, oldPassword

	if oldPassword == "" {
		bindDN, err = l.conf.GetAdminDN()
		if err != nil {
			return false, err
		}

		bindPW = l.conf.GetAdminPW()
	}

	err = l.pool.WithConnection(ctx, bindDN, bindPW, func(conn ldappool.DirectoryConnection) error {
		if modErr := conn.Modify(&bktype.LDAPModifyRequest{
			GUID:    guid,
			DN:      dn,
			Replace: map[string][]string{definitions.AttrUserPassword: {passwordHash}},
		}); modErr != nil {
			return ldappool.ClassifyError(modErr)
		}

		return nil
	})

	if err != nil {
		if stderrors.Is(err, errors.ErrInvalidCredentials) || stderrors.Is(err, errors.ErrNoSuchObject) {
			return false, nil
		}

		return false, err
	}

	l.pool.Purge(dn, newPassword)

	return true, nil
}

// DeleteUser removes the entry under the user's own bind. The current
// password is required.
func (l *LDAPBackend) DeleteUser(ctx context.Context, userID string, password string) (bool, error) {
	if password == "" {
		return false, nil
	}

	guid := ksuid.New().String()

	result, err := l.resolveUser(ctx, guid, userID, []string{definitions.AttrUID})
	if err != nil {
		return false, err
	}

	dn := result.GetSingleValue(definitions.DistinguishedName)
	if dn == "" {
		return false, nil
	}

	err = l.pool.WithConnection(ctx, dn, password, func(conn ldappool.DirectoryConnection) error {
		if delErr := conn.Delete(&bktype.LDAPDeleteRequest{GUID: guid, DN: dn}); delErr != nil {
			return ldappool.ClassifyError(delErr)
		}

		return nil
	})

	if err != nil {
		if stderrors.Is(err, errors.ErrInvalidCredentials) || stderrors.Is(err, errors.ErrNoSuchObject) {
			return false, nil
		}

		return false, err
	}

	l.cache.Delete(ctx, userID)
	l.pool.Purge(dn, "")

	if _, err = l.resetCodes.ClearResetCode(ctx, userID); err != nil {
		level.Warn(l.logger).Log(
			definitions.LogKeyGUID, guid,
			definitions.LogKeyUserID, userID,
			definitions.LogKeyMsg, "Clearing reset code after delete failed",
			definitions.LogKeyError, err,
		)
	}

	return true, nil
}

// GetUserNode returns the URL of the user's assigned node. Assigned nodes
// are immutable, so the first non-empty primaryNode value wins and the
// result is cacheable. Unassigned users only get a node when assign is set;
// concurrent in-process assignments for the same id are collapsed.
func (l *LDAPBackend) GetUserNode(ctx context.Context, userID string, assign bool) (string, error) {
	if l.nodesConf.GetSingleBox() {
		return "", nil
	}

	stopTimer := stats.PrometheusTimer("backend", "get_user_node")

	defer stopTimer()

	if nodeURL, found := l.cache.Get(ctx, userID); found {
		return nodeURL, nil
	}

	guid := ksuid.New().String()

	result, err := l.resolveUser(ctx, guid, userID, []string{definitions.AttrPrimaryNode})
	if err != nil {
		return "", err
	}

	dn := result.GetSingleValue(definitions.DistinguishedName)
	if dn == "" {
		return "", nil
	}

	for _, value := range result[definitions.AttrPrimaryNode] {
		node := strings.TrimPrefix(value, definitions.NodePrefix)
		if node == "" {
			continue
		}

		nodeURL := fmt.Sprintf("%s://%s/", l.nodesConf.GetScheme(), node)

		l.cache.Set(ctx, userID, nodeURL)

		return nodeURL, nil
	}

	if !assign {
		return "", nil
	}

	// Collapsed callers share the winning caller's ctx, guid and dn. The
	// assignment is one admin write plus bookkeeping, so a follower riding
	// a foreign deadline is acceptable.
	nodeURL, err, _ := l.assignGroup.Do(userID, func() (any, error) {
		return l.assignNode(ctx, guid, userID, dn)
	})
	if err != nil {
		return "", err
	}

	return nodeURL.(string), nil
}

// assignNode picks the least loaded node, writes it to the directory under
// the admin bind and reserves the capacity slot. A failing reservation
// after the successful directory write is logged and swallowed, the user
// keeps the node.
func (l *LDAPBackend) assignNode(ctx context.Context, guid string, userID string, dn string) (string, error) {
	pick, err := l.nodes.PickNode(ctx)
	if err != nil {
		return "", err
	}

	adminDN, err := l.conf.GetAdminDN()
	if err != nil {
		return "", err
	}

	err = l.pool.WithConnection(ctx, adminDN, l.conf.GetAdminPW(), func(conn ldappool.DirectoryConnection) error {
		if modErr := conn.Modify(&bktype.LDAPModifyRequest{
			GUID:    guid,
			DN:      dn,
			Replace: map[string][]string{definitions.AttrPrimaryNode: {definitions.NodePrefix + pick.Node}},
		}); modErr != nil {
			return ldappool.ClassifyError(modErr)
		}

		return nil
	})
	if err != nil {
		return "", errors.ErrNodeAttribution.WithDetail(err.Error()).WithGUID(guid)
	}

	if err = l.nodes.ReserveNode(ctx, pick); err != nil {
		level.Warn(l.logger).Log(
			definitions.LogKeyGUID, guid,
			definitions.LogKeyUserID, userID,
			definitions.LogKeyNode, pick.Node,
			definitions.LogKeyMsg, "Node reservation bookkeeping failed, assignment kept",
			definitions.LogKeyError, err,
		)
	}

	nodeURL := fmt.Sprintf("%s://%s/", l.nodesConf.GetScheme(), pick.Node)

	l.cache.Set(ctx, userID, nodeURL)

	level.Info(l.logger).Log(
		definitions.LogKeyGUID, guid,
		definitions.LogKeyUserID, userID,
		definitions.LogKeyNode, pick.Node,
		definitions.LogKeyMsg, "Node assigned",
	)

	return nodeURL, nil
}

// GenerateResetCode delegates to the SQL-backed reset code store.
func (l *LDAPBackend) GenerateResetCode(ctx context.Context, userID string, overwrite bool) (string, error) {
	return l.resetCodes.GenerateResetCode(ctx, userID, overwrite)
}

// VerifyResetCode delegates to the SQL-backed reset code store.
func (l *LDAPBackend) VerifyResetCode(ctx context.Context, userID string, code string) (bool, error) {
	return l.resetCodes.VerifyResetCode(ctx, userID, code)
}

// ClearResetCode delegates to the SQL-backed reset code store.
func (l *LDAPBackend) ClearResetCode(ctx context.Context, userID string) (bool, error) {
	return l.resetCodes.ClearResetCode(ctx, userID)
}
