// Package database provides the PostgreSQL connection pool and repositories.
package database
