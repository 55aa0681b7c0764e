// Copyright (c) 2025 Recordbase
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/recordbase/recordbase/internal/database/interfaces"
	"github.com/recordbase/recordbase/internal/pkg/log"
)

// PostgreSQLRepository implements the Repository interface for PostgreSQL.
// Every collection is a table holding one JSONB document per row; condition
// trees are compiled into a single parameterized WHERE clause.
type PostgreSQLRepository struct {
	db     *sqlx.DB
	dbName string
	schema string
}

// PostgreSQLQueryResult implements QueryResult for PostgreSQL
type PostgreSQLQueryResult struct {
	rows   *sql.Rows
	err    error
	closed bool
}

// PostgreSQLSingleResult implements SingleResult for PostgreSQL
type PostgreSQLSingleResult struct {
	row      *sql.Row
	err      error
	noResult bool
}

// NewPostgreSQLRepository creates a new PostgreSQL repository
func NewPostgreSQLRepository(ctx context.Context, config *interfaces.PostgreSQLConfig, databaseName string) (*PostgreSQLRepository, error) {
	connStr := buildConnectionString(config, databaseName)

	db, err := sqlx.ConnectContext(ctx, "postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL with sqlx: %w", err)
	}

	// Configure connection pool
	if config.MaxOpenConnections > 0 {
		db.SetMaxOpenConns(config.MaxOpenConnections)
	}
	if config.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(config.MaxIdleConnections)
	}
	if config.MaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(config.MaxLifetime) * time.Second)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	schema := "public"
	if config.Schema != "" {
		schema = config.Schema
	}

	repo := &PostgreSQLRepository{
		db:     db,
		dbName: databaseName,
		schema: schema,
	}

	if err := repo.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// buildConnectionString builds PostgreSQL connection string from config
func buildConnectionString(config *interfaces.PostgreSQLConfig, databaseName string) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("host=%s", config.Host))
	parts = append(parts, fmt.Sprintf("port=%d", config.Port))
	parts = append(parts, fmt.Sprintf("dbname=%s", databaseName))

	if config.Username != "" {
		parts = append(parts, fmt.Sprintf("user=%s", config.Username))
	}
	if config.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", config.Password))
	}

	parts = append(parts, fmt.Sprintf("sslmode=%s", config.SSLMode))

	if config.ConnectTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", config.ConnectTimeout))
	}

	return strings.Join(parts, " ")
}

func (r *PostgreSQLRepository) initializeSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, r.schema)); err != nil {
		log.Error("PostgreSQL schema initialization error: %s", err.Error())
		return err
	}
	return nil
}

// generateIndexName creates collection-specific index names to avoid conflicts
func (r *PostgreSQLRepository) generateIndexName(collectionName, indexType string) string {
	sanitized := strings.ReplaceAll(collectionName, "-", "_")
	sanitized = strings.ReplaceAll(sanitized, ".", "_")
	return fmt.Sprintf("idx_%s_%s", sanitized, indexType)
}

// ensureTable ensures the collection table exists, idempotently.
func (r *PostgreSQLRepository) ensureTable(ctx context.Context, collectionName string) error {
	tableName := r.getTableName(collectionName)

	var exists bool
	checkQuery := `SELECT EXISTS (
		SELECT FROM information_schema.tables
		WHERE table_schema = $1 AND table_name = $2
	)`

	err := r.db.QueryRowContext(ctx, checkQuery, r.schema, collectionName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check for existence of table %s: %w", tableName, err)
	}

	if exists {
		return nil
	}

	createQuery := fmt.Sprintf(`
	CREATE TABLE %s (
		id BIGSERIAL PRIMARY KEY,
		object_id VARCHAR(255) UNIQUE NOT NULL,
		data JSONB NOT NULL,
		created_date BIGINT,
		last_updated BIGINT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`, tableName)

	_, err = r.db.ExecContext(ctx, createQuery)
	if err != nil {
		// Handle concurrent table creation errors
		if pgErr, ok := err.(*pq.Error); ok {
			switch pgErr.Code {
			case "42P07": // duplicate_table
				return nil
			case "23505": // unique_violation on pg_class during concurrent create
				if strings.Contains(pgErr.Message, "pg_class_relname_nsp_index") {
					return nil
				}
			}
		}
		return fmt.Errorf("failed to create table %s: %w", tableName, err)
	}

	indexQueries := []string{
		fmt.Sprintf("CREATE INDEX %s ON %s (object_id)",
			r.generateIndexName(collectionName, "object_id"), tableName),
		fmt.Sprintf("CREATE INDEX %s ON %s (created_date)",
			r.generateIndexName(collectionName, "created_date"), tableName),
		fmt.Sprintf("CREATE INDEX %s ON %s USING GIN (data)",
			r.generateIndexName(collectionName, "data_gin"), tableName),
	}

	for _, indexQuery := range indexQueries {
		if _, err := r.db.ExecContext(ctx, indexQuery); err != nil {
			log.Warn("Failed to create index: %s", err.Error())
			// Continue with other indexes
		}
	}

	return nil
}

// getTableName returns the table name for a collection
func (r *PostgreSQLRepository) getTableName(collectionName string) string {
	return fmt.Sprintf("%s.%s", r.schema, collectionName)
}

// Save stores a single document
func (r *PostgreSQLRepository) Save(ctx context.Context, collectionName string, objectID string, createdDate, lastUpdated int64, data interface{}) <-chan interfaces.RepositoryResult {
	result := make(chan interfaces.RepositoryResult)

	go func() {
		defer close(result)

		if err := r.ensureTable(ctx, collectionName); err != nil {
			result <- interfaces.RepositoryResult{Error: err}
			return
		}

		jsonData, err := json.Marshal(data)
		if err != nil {
			result <- interfaces.RepositoryResult{Error: fmt.Errorf("failed to marshal data: %w", err)}
			return
		}

		tableName := r.getTableName(collectionName)
		query := fmt.Sprintf(`
			INSERT INTO %s (object_id, data, created_date, last_updated)
			VALUES ($1, $2, $3, $4)
			RETURNING id`, tableName)

		var id int64
		err = r.db.QueryRowContext(ctx, query, objectID, jsonData, createdDate, lastUpdated).Scan(&id)
		if err != nil {
			if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" { // Unique violation
				result <- interfaces.RepositoryResult{Error: interfaces.ErrDuplicateKey}
				return
			}
			log.Error("PostgreSQL Save error: %s", err.Error())
			result <- interfaces.RepositoryResult{Error: err}
			return
		}

		result <- interfaces.RepositoryResult{Result: id}
	}()

	return result
}

// Find retrieves the documents matching the condition tree.
func (r *PostgreSQLRepository) Find(ctx context.Context, collectionName string, where *interfaces.Node, opts *interfaces.FindOptions) <-chan interfaces.QueryResult {
	result := make(chan interfaces.QueryResult)

	go func() {
		defer close(result)

		if err := r.ensureTable(ctx, collectionName); err != nil {
			result <- &PostgreSQLQueryResult{err: err}
			return
		}

		b := newClauseBuilder(r.schema)
		whereClause, err := b.render(where, rootAlias)
		if err != nil {
			result <- &PostgreSQLQueryResult{err: err}
			return
		}

		fullQuery := fmt.Sprintf("SELECT %s.data FROM %s %s", rootAlias, r.getTableName(collectionName), rootAlias)
		if whereClause != "" && whereClause != "TRUE" {
			fullQuery += " WHERE " + whereClause
		}

		fullQuery += " ORDER BY " + r.buildOrderByClause(opts)

		if opts != nil {
			if opts.Limit != nil {
				fullQuery += fmt.Sprintf(" LIMIT %d", *opts.Limit)
			}
			if opts.Skip != nil {
				fullQuery += fmt.Sprintf(" OFFSET %d", *opts.Skip)
			}
		}

		finalQuery, allArgs, err := r.bindQuery(fullQuery, b.namedArgs, b.positionalArgs)
		if err != nil {
			result <- &PostgreSQLQueryResult{err: err}
			return
		}

		rows, err := r.db.QueryContext(ctx, finalQuery, allArgs...)
		if err != nil {
			log.Error("PostgreSQL Find error: %s", err.Error())
			result <- &PostgreSQLQueryResult{err: err}
			return
		}

		result <- &PostgreSQLQueryResult{rows: rows}
	}()

	return result
}

// FindOne retrieves a single document
func (r *PostgreSQLRepository) FindOne(ctx context.Context, collectionName string, where *interfaces.Node) <-chan interfaces.SingleResult {
	result := make(chan interfaces.SingleResult)

	go func() {
		defer close(result)

		if err := r.ensureTable(ctx, collectionName); err != nil {
			result <- &PostgreSQLSingleResult{err: err}
			return
		}

		b := newClauseBuilder(r.schema)
		whereClause, err := b.render(where, rootAlias)
		if err != nil {
			result <- &PostgreSQLSingleResult{err: err}
			return
		}

		fullQuery := fmt.Sprintf("SELECT %s.data FROM %s %s", rootAlias, r.getTableName(collectionName), rootAlias)
		if whereClause != "" && whereClause != "TRUE" {
			fullQuery += " WHERE " + whereClause
		}
		fullQuery += " LIMIT 1"

		finalQuery, allArgs, err := r.bindQuery(fullQuery, b.namedArgs, b.positionalArgs)
		if err != nil {
			result <- &PostgreSQLSingleResult{err: err}
			return
		}

		row := r.db.QueryRowContext(ctx, finalQuery, allArgs...)
		result <- &PostgreSQLSingleResult{row: row}
	}()

	return result
}

// Update replaces the stored document for an object id.
func (r *PostgreSQLRepository) Update(ctx context.Context, collectionName string, objectID string, data interface{}) <-chan interfaces.RepositoryResult {
	result := make(chan interfaces.RepositoryResult)

	go func() {
		defer close(result)

		if err := r.ensureTable(ctx, collectionName); err != nil {
			result <- interfaces.RepositoryResult{Error: err}
			return
		}

		jsonData, err := json.Marshal(data)
		if err != nil {
			result <- interfaces.RepositoryResult{Error: fmt.Errorf("failed to marshal data: %w", err)}
			return
		}

		tableName := r.getTableName(collectionName)
		query := fmt.Sprintf(`UPDATE %s SET data = $2, last_updated = $3 WHERE object_id = $1`, tableName)

		execResult, err := r.db.ExecContext(ctx, query, objectID, jsonData, time.Now().Unix())
		if err != nil {
			log.Error("PostgreSQL Update error: %s", err.Error())
			result <- interfaces.RepositoryResult{Error: err}
			return
		}

		rowsAffected, err := execResult.RowsAffected()
		if err != nil {
			result <- interfaces.RepositoryResult{Error: fmt.Errorf("failed to get rows affected: %w", err)}
			return
		}
		if rowsAffected == 0 {
			result <- interfaces.RepositoryResult{Error: interfaces.ErrNoDocuments}
			return
		}

		result <- interfaces.RepositoryResult{Result: "OK"}
	}()

	return result
}

// Delete deletes documents matching the condition tree.
func (r *PostgreSQLRepository) Delete(ctx context.Context, collectionName string, where *interfaces.Node) <-chan interfaces.RepositoryResult {
	result := make(chan interfaces.RepositoryResult)

	go func() {
		defer close(result)
		result <- r.deleteOne(ctx, collectionName, where)
	}()

	return result
}

func (r *PostgreSQLRepository) deleteOne(ctx context.Context, collectionName string, where *interfaces.Node) interfaces.RepositoryResult {
	if err := r.ensureTable(ctx, collectionName); err != nil {
		return interfaces.RepositoryResult{Error: err}
	}

	b := newClauseBuilder(r.schema)
	whereClause, err := b.render(where, rootAlias)
	if err != nil {
		return interfaces.RepositoryResult{Error: err}
	}

	fullQuery := fmt.Sprintf("DELETE FROM %s %s", r.getTableName(collectionName), rootAlias)
	if whereClause != "" && whereClause != "TRUE" {
		fullQuery += " WHERE " + whereClause
	}

	finalQuery, allArgs, err := r.bindQuery(fullQuery, b.namedArgs, b.positionalArgs)
	if err != nil {
		return interfaces.RepositoryResult{Error: err}
	}

	execResult, err := r.db.ExecContext(ctx, finalQuery, allArgs...)
	if err != nil {
		log.Error("PostgreSQL Delete error: %s", err.Error())
		return interfaces.RepositoryResult{Error: err}
	}

	rowsAffected, err := execResult.RowsAffected()
	if err != nil {
		return interfaces.RepositoryResult{Error: fmt.Errorf("failed to get rows affected: %w", err)}
	}

	return interfaces.RepositoryResult{Result: rowsAffected}
}

// DeleteMany deletes documents for multiple independent condition trees
// inside one transaction.
func (r *PostgreSQLRepository) DeleteMany(ctx context.Context, collectionName string, wheres []*interfaces.Node) <-chan interfaces.RepositoryResult {
	result := make(chan interfaces.RepositoryResult)

	go func() {
		defer close(result)

		if err := r.ensureTable(ctx, collectionName); err != nil {
			result <- interfaces.RepositoryResult{Error: err}
			return
		}

		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			result <- interfaces.RepositoryResult{Error: err}
			return
		}
		defer tx.Rollback()

		tableName := r.getTableName(collectionName)
		var totalDeleted int64

		for _, where := range wheres {
			b := newClauseBuilder(r.schema)
			whereClause, err := b.render(where, rootAlias)
			if err != nil {
				result <- interfaces.RepositoryResult{Error: err}
				return
			}

			fullQuery := fmt.Sprintf("DELETE FROM %s %s", tableName, rootAlias)
			if whereClause != "" && whereClause != "TRUE" {
				fullQuery += " WHERE " + whereClause
			}

			finalQuery, allArgs, err := r.bindQuery(fullQuery, b.namedArgs, b.positionalArgs)
			if err != nil {
				result <- interfaces.RepositoryResult{Error: err}
				return
			}

			execResult, err := tx.ExecContext(ctx, finalQuery, allArgs...)
			if err != nil {
				log.Error("PostgreSQL DeleteMany error: %s", err.Error())
				result <- interfaces.RepositoryResult{Error: err}
				return
			}

			if n, err := execResult.RowsAffected(); err == nil {
				totalDeleted += n
			}
		}

		if err := tx.Commit(); err != nil {
			result <- interfaces.RepositoryResult{Error: err}
			return
		}

		result <- interfaces.RepositoryResult{Result: totalDeleted}
	}()

	return result
}

// Count counts documents matching the condition tree.
func (r *PostgreSQLRepository) Count(ctx context.Context, collectionName string, where *interfaces.Node) <-chan interfaces.CountResult {
	result := make(chan interfaces.CountResult)

	go func() {
		defer close(result)

		if err := r.ensureTable(ctx, collectionName); err != nil {
			result <- interfaces.CountResult{Error: err}
			return
		}

		b := newClauseBuilder(r.schema)
		whereClause, err := b.render(where, rootAlias)
		if err != nil {
			result <- interfaces.CountResult{Error: err}
			return
		}

		fullQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", r.getTableName(collectionName), rootAlias)
		if whereClause != "" && whereClause != "TRUE" {
			fullQuery += " WHERE " + whereClause
		}

		finalQuery, allArgs, err := r.bindQuery(fullQuery, b.namedArgs, b.positionalArgs)
		if err != nil {
			result <- interfaces.CountResult{Error: err}
			return
		}

		var count int64
		if err := r.db.QueryRowContext(ctx, finalQuery, allArgs...).Scan(&count); err != nil {
			log.Error("PostgreSQL Count error: %s", err.Error())
			result <- interfaces.CountResult{Error: err}
			return
		}

		result <- interfaces.CountResult{Count: count}
	}()

	return result
}

// Ping checks the database connection
func (r *PostgreSQLRepository) Ping(ctx context.Context) <-chan error {
	result := make(chan error)

	go func() {
		defer close(result)
		result <- r.db.PingContext(ctx)
	}()

	return result
}

// Close closes the database connection
func (r *PostgreSQLRepository) Close() error {
	return r.db.Close()
}

// bindQuery converts the rendered clause into an executable query using the
// hybrid approach: sqlx named parameters for scalars and temporary
// placeholders for array arguments.
//
// IMPORTANT: sqlx.BindNamed() matches :paramName patterns, which can
// incorrectly match ::type casts. Casts are escaped with #CAST# before
// binding and restored afterwards; sqlx matches :[a-zA-Z0-9_]+ for parameter
// names, so # breaks the pattern.
func (r *PostgreSQLRepository) bindQuery(fullQuery string, namedArgs map[string]interface{}, positionalArgs []interface{}) (string, []interface{}, error) {
	tempEscapedQuery := strings.ReplaceAll(fullQuery, "::", "#CAST#")

	var reboundQuery string
	var namedArgsSlice []interface{}
	if len(namedArgs) > 0 {
		var err error
		reboundQuery, namedArgsSlice, err = r.db.BindNamed(tempEscapedQuery, namedArgs)
		if err != nil {
			return "", nil, fmt.Errorf("failed to bind named query: %w", err)
		}
	} else {
		reboundQuery = r.db.Rebind(tempEscapedQuery)
		namedArgsSlice = []interface{}{}
	}

	// Replace temporary array placeholders with correct positional numbers
	finalQuery := reboundQuery
	for i := range positionalArgs {
		tempPlaceholder := fmt.Sprintf("__ARRAY_PARAM_%d__", i)
		finalPlaceholder := fmt.Sprintf("$%d", len(namedArgsSlice)+i+1)
		finalQuery = strings.Replace(finalQuery, tempPlaceholder, finalPlaceholder, 1)
	}

	// Restore ::type casts
	finalQuery = strings.ReplaceAll(finalQuery, "#CAST#", "::")

	allArgs := append(namedArgsSlice, positionalArgs...)
	return finalQuery, allArgs, nil
}

// buildOrderByClause builds an ORDER BY clause from find options. Sort keys
// apply in slice order; object_id is always appended as a tie breaker so that
// repeated identical queries return ties in a stable order.
func (r *PostgreSQLRepository) buildOrderByClause(opts *interfaces.FindOptions) string {
	var clauses []string
	if opts != nil {
		for _, s := range opts.Sort {
			expr := jsonPathExpr(rootAlias, s.Property, false)
			if s.Cast != "" {
				expr = fmt.Sprintf("(%s)%s", expr, s.Cast)
			}
			direction := "ASC"
			if s.Descending {
				direction = "DESC"
			}
			clauses = append(clauses, fmt.Sprintf("%s %s", expr, direction))
		}
	}
	clauses = append(clauses, fmt.Sprintf("%s.object_id ASC", rootAlias))
	return strings.Join(clauses, ", ")
}

// PostgreSQLQueryResult implementation
func (r *PostgreSQLQueryResult) Next() bool {
	if r.rows == nil || r.closed {
		return false
	}
	return r.rows.Next()
}

func (r *PostgreSQLQueryResult) Decode(v interface{}) error {
	if r.rows == nil {
		return fmt.Errorf("rows is nil")
	}

	var jsonData []byte
	if err := r.rows.Scan(&jsonData); err != nil {
		return err
	}

	return json.Unmarshal(jsonData, v)
}

func (r *PostgreSQLQueryResult) Close() {
	if r.rows != nil && !r.closed {
		r.rows.Close()
		r.closed = true
	}
}

func (r *PostgreSQLQueryResult) Error() error {
	if r.err != nil {
		return r.err
	}
	if r.rows != nil {
		return r.rows.Err()
	}
	return nil
}

// PostgreSQLSingleResult implementation
func (r *PostgreSQLSingleResult) Decode(v interface{}) error {
	if r.err != nil {
		return r.err
	}
	if r.row == nil {
		return interfaces.ErrNoDocuments
	}

	var jsonData []byte
	if err := r.row.Scan(&jsonData); err != nil {
		if err == sql.ErrNoRows {
			r.noResult = true
			return interfaces.ErrNoDocuments
		}
		return err
	}

	return json.Unmarshal(jsonData, v)
}

func (r *PostgreSQLSingleResult) Error() error {
	return r.err
}

func (r *PostgreSQLSingleResult) NoResult() bool {
	return r.noResult
}
