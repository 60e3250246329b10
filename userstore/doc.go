// Package userstore provides a Postgres implementation of goSession.UserStore
// over the users table created by internal/db migrations.
package userstore
