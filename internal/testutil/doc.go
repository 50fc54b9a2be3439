// Package testutil contains helpers used across tests to reduce boilerplate
// when constructing messages, recording relayed traffic and seeding session
// data. They are not intended for production usage.
package testutil
