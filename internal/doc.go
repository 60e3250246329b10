// Package internal holds helpers private to goSession: random identifiers
// and token values drawn from an injectable byte source.
//
// # Sub-packages
//
//   - db: Postgres connection setup and embedded schema migrations
//   - dispatch: bounded async worker queue shared by audit and mail delivery
//   - envconfig: environment-driven settings for cmd/sessiond
//   - enginetest: in-memory fakes and a miniredis-backed engine for tests
package internal
