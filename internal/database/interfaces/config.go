// Copyright (c) 2025 Recordbase
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package interfaces

// PostgreSQLConfig holds the connection settings a PostgreSQL repository
// needs. It mirrors the platform configuration but keeps the database layer
// importable without the platform package.
type PostgreSQLConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	Database           string
	Schema             string
	SSLMode            string
	MaxOpenConnections int
	MaxIdleConnections int
	MaxLifetime        int // seconds
	ConnectTimeout     int // seconds
}
