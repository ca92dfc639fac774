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
	"database/sql"
	stderrors "errors"

	"github.com/croessner/syncauth/server/definitions"
	"github.com/croessner/syncauth/server/errors"
	"github.com/croessner/syncauth/server/stats"
	"github.com/croessner/syncauth/server/util"
)

// NodePick is the snapshot of the node row selected for an assignment. The
// snapshot values feed the follow-up reservation update.
type NodePick struct {
	Node                 string `db:"node"`
	AvailableAssignments int    `db:"available_assignments"`
	Actives              int    `db:"actives"`
}

// NodeAssignmentStore reserves capacity slots on sync nodes and allocates
// numeric user ids.
type NodeAssignmentStore interface {
	// PickNode selects the least active node that still has free
	// assignments and is not marked down. It fails with ErrNodeAttribution
	// when no node qualifies. The selection is advisory until ReserveNode
	// commits it.
	PickNode(ctx context.Context) (*NodePick, error)

	// ReserveNode decrements the free assignments and increments the active
	// sessions of the picked node, using the snapshot values from PickNode.
	// Selection and reservation are deliberately not wrapped in a
	// transaction; two concurrent assignments may pick the same node and
	// the bookkeeping drifts by the overlap. This looseness is part of the
	// contract, callers rely on the directory entry, not on these counters.
	ReserveNode(ctx context.Context, pick *NodePick) error

	// AllocateUserID returns the next id from the auto-increment table.
	AllocateUserID(ctx context.Context) (int64, error)

	// CreateSchema creates the backing tables when they do not exist.
	CreateSchema(ctx context.Context) error
}

// nodeAssignmentStoreImpl implements NodeAssignmentStore over the shared
// SQLDatabase handle.
type nodeAssignmentStoreImpl struct {
	db *SQLDatabase
}

var _ NodeAssignmentStore = (*nodeAssignmentStoreImpl)(nil)

// NewNodeAssignmentStore creates a store over the given database handle.
func NewNodeAssignmentStore(db *SQLDatabase) NodeAssignmentStore {
	return &nodeAssignmentStoreImpl{db: db}
}

func (n *nodeAssignmentStoreImpl) PickNode(ctx context.Context) (*NodePick, error) {
	conn, err := n.db.GetConn()
	if err != nil {
		return nil, err
	}

	pick := &NodePick{}

	err = conn.GetContext(ctx, pick,
		"SELECT node, available_assignments, actives FROM available_nodes WHERE available_assignments > 0 AND downed = 0 ORDER BY actives ASC LIMIT 1")
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrNodeAttribution.WithDetail("No node with available assignments")
		}

		return nil, errors.ErrNodeAttribution.WithDetail(err.Error())
	}

	util.DebugModule(definitions.DbgSQL, "node", pick.Node, "available_assignments", pick.AvailableAssignments, "actives", pick.Actives)

	return pick, nil
}

func (n *nodeAssignmentStoreImpl) ReserveNode(ctx context.Context, pick *NodePick) error {
	conn, err := n.db.GetConn()
	if err != nil {
		return err
	}

	query := conn.Rebind("UPDATE available_nodes SET available_assignments = ?, actives = ? WHERE node = ?")

	_, err = conn.ExecContext(ctx, query, pick.AvailableAssignments-1, pick.Actives+1, pick.Node)
	if err != nil {
		return errors.ErrNodeAttribution.WithDetail(err.Error())
	}

	stats.NodeAssignments.WithLabelValues(pick.Node).Inc()

	return nil
}

func (n *nodeAssignmentStoreImpl) AllocateUserID(ctx context.Context) (int64, error) {
	conn, err := n.db.GetConn()
	if err != nil {
		return 0, err
	}

	if n.db.GetDriver() == "postgres" {
		var id int64

		if err = conn.GetContext(ctx, &id, "INSERT INTO user_ids DEFAULT VALUES RETURNING id"); err != nil {
			return 0, errors.ErrBackend.WithDetail(err.Error())
		}

		return id, nil
	}

	result, err := conn.ExecContext(ctx, "INSERT INTO user_ids () VALUES ()")
	if err != nil {
		return 0, errors.ErrBackend.WithDetail(err.Error())
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, errors.ErrBackend.WithDetail(err.Error())
	}

	return id, nil
}

// SchemaStatements returns the DDL for the given driver.
func SchemaStatements(driver string) []string {
	if driver == "postgres" {
		return []string{
			"CREATE TABLE IF NOT EXISTS user_ids (id BIGSERIAL PRIMARY KEY)",
			"CREATE TABLE IF NOT EXISTS available_nodes (node VARCHAR(256) NOT NULL PRIMARY KEY, available_assignments SMALLINT NOT NULL DEFAULT 0, downed SMALLINT NOT NULL DEFAULT 0, backoff SMALLINT NOT NULL DEFAULT 0, actives INT NOT NULL DEFAULT 0)",
			"CREATE TABLE IF NOT EXISTS reset_codes (username VARCHAR(32) NOT NULL PRIMARY KEY, reset VARCHAR(32), expiration TIMESTAMP)",
		}
	}

	return []string{
		"CREATE TABLE IF NOT EXISTS user_ids (id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY)",
		"CREATE TABLE IF NOT EXISTS available_nodes (node VARCHAR(256) NOT NULL PRIMARY KEY, available_assignments SMALLINT NOT NULL DEFAULT 0, downed SMALLINT NOT NULL DEFAULT 0, backoff SMALLINT NOT NULL DEFAULT 0, actives INT NOT NULL DEFAULT 0)",
		"CREATE TABLE IF NOT EXISTS reset_codes (username VARCHAR(32) NOT NULL PRIMARY KEY, reset VARCHAR(32), expiration DATETIME)",
	}
}

func (n *nodeAssignmentStoreImpl) CreateSchema(ctx context.Context) error {
	conn, err := n.db.GetConn()
	if err != nil {
		return err
	}

	for _, statement := range SchemaStatements(n.db.GetDriver()) {
		if _, err = conn.ExecContext(ctx, statement); err != nil {
			return errors.ErrSQLConfig.WithDetail(err.Error())
		}
	}

	return nil
}
