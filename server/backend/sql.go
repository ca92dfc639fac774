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
	"strings"
	"time"

	"github.com/croessner/syncauth/server/config"
	"github.com/croessner/syncauth/server/definitions"
	"github.com/croessner/syncauth/server/errors"
	"github.com/croessner/syncauth/server/util"
	"github.com/jmoiron/sqlx"

	// Database drivers registered for sqlx.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// SQLDatabase is the shared connection pool behind the node assignment
// registry and the reset code store.
type SQLDatabase struct {
	dsn    string
	driver string
	Conn   *sqlx.DB
}

// GetConn returns the underlying sqlx handle.
func (s *SQLDatabase) GetConn() (*sqlx.DB, error) {
	if s == nil || s.Conn == nil {
		return nil, errors.ErrNoDatabaseConnection.WithDetail("No SQL database connection established")
	}

	return s.Conn, nil
}

// GetDriver returns the driver name selected from the DSN scheme.
func (s *SQLDatabase) GetDriver() string {
	if s == nil {
		return ""
	}

	return s.driver
}

// Close closes the connection pool.
func (s *SQLDatabase) Close() error {
	if s == nil || s.Conn == nil {
		return nil
	}

	return s.Conn.Close()
}

// NewDatabase opens the SQL connection pool described by the sql section of
// the configuration. The driver is selected from the DSN scheme, mysql:// or
// postgres://.
func NewDatabase(ctx context.Context, sqlConf *config.SQLSection) (*SQLDatabase, error) {
	dsn := sqlConf.GetDSN()
	if dsn == "" {
		return nil, errors.ErrSQLConfig.WithDetail("No DSN configured")
	}

	newDatabase := &SQLDatabase{dsn: dsn}

	if err := newDatabase.parseDSN(); err != nil {
		return nil, err
	}

	util.DebugModule(definitions.DbgSQL, "sql_driver", newDatabase.driver)

	if err := newDatabase.connect(ctx, sqlConf); err != nil {
		return nil, err
	}

	return newDatabase, nil
}

func (s *SQLDatabase) connect(ctx context.Context, sqlConf *config.SQLSection) error {
	var err error

	s.Conn, err = sqlx.ConnectContext(ctx, s.driver, func() string {
		// The MySQL driver expects a bare DSN without the URL scheme.
		if s.driver == "mysql" {
			return s.dsn[strings.Index(s.dsn, "://")+3:]
		}

		return s.dsn
	}())

	if err != nil {
		return errors.ErrSQLConfig.WithDetail(err.Error())
	}

	s.Conn.SetConnMaxLifetime(time.Minute * 3) //nolint:gomnd // Time factor
	s.Conn.SetMaxOpenConns(sqlConf.GetMaxConnections())
	s.Conn.SetMaxIdleConns(sqlConf.GetMaxIdleConnections())

	return nil
}

func (s *SQLDatabase) parseDSN() error {
	switch {
	case strings.HasPrefix(s.dsn, "mysql://"):
		s.driver = "mysql"
	case strings.HasPrefix(s.dsn, "postgres://") || strings.HasPrefix(s.dsn, "postgresql://"):
		s.driver = "postgres"
	default:
		return errors.ErrUnsupportedSQLDriver.WithDetail(s.dsn)
	}

	return nil
}

// NewDatabaseFromConn wraps an existing database handle, used by tests to
// inject a mocked connection.
func NewDatabaseFromConn(driver string, conn *sqlx.DB) *SQLDatabase {
	return &SQLDatabase{driver: driver, Conn: conn}
}
