// Copyright (c) 2025 Recordbase
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package interfaces

import (
	"context"
	"time"
)

// Repository defines the interface for document storage operations. Every
// collection is a schemaless set of JSON documents keyed by an opaque
// object id; single-document writes are atomic.
type Repository interface {
	Save(ctx context.Context, collectionName string, objectID string, createdDate, lastUpdated int64, data interface{}) <-chan RepositoryResult
	Find(ctx context.Context, collectionName string, where *Node, opts *FindOptions) <-chan QueryResult
	FindOne(ctx context.Context, collectionName string, where *Node) <-chan SingleResult
	Update(ctx context.Context, collectionName string, objectID string, data interface{}) <-chan RepositoryResult
	Delete(ctx context.Context, collectionName string, where *Node) <-chan RepositoryResult
	DeleteMany(ctx context.Context, collectionName string, wheres []*Node) <-chan RepositoryResult
	Count(ctx context.Context, collectionName string, where *Node) <-chan CountResult

	// Connection management
	Ping(ctx context.Context) <-chan error
	Close() error
}

// FindOptions represents options for find operations
type FindOptions struct {
	Limit *int64
	Skip  *int64
	Sort  []SortField
}

// RepositoryResult represents the result of a repository operation
type RepositoryResult struct {
	Result interface{}
	Error  error
}

// QueryResult represents a query result cursor
type QueryResult interface {
	Next() bool
	Decode(v interface{}) error
	Close()
	Error() error
}

// SingleResult represents a single document result
type SingleResult interface {
	Decode(v interface{}) error
	Error() error
	NoResult() bool
}

// CountResult represents the result of a count operation
type CountResult struct {
	Count int64
	Error error
}

// Common errors
var (
	ErrNoDocuments      = NewRepositoryError("no documents found", "NOT_FOUND")
	ErrDuplicateKey     = NewRepositoryError("duplicate key error", "DUPLICATE_KEY")
	ErrInvalidFilter    = NewRepositoryError("invalid filter", "INVALID_FILTER")
	ErrConnectionFailed = NewRepositoryError("database connection failed", "CONNECTION_FAILED")
)

// RepositoryError represents a repository specific error
type RepositoryError struct {
	Message string
	Code    string
	Time    time.Time
}

func (e *RepositoryError) Error() string {
	return e.Message
}

// NewRepositoryError creates a new repository error
func NewRepositoryError(message, code string) *RepositoryError {
	return &RepositoryError{
		Message: message,
		Code:    code,
		Time:    time.Now(),
	}
}
