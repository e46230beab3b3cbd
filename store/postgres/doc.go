// Package postgres provides database/sql repositories for accounts and
// sessions backed by PostgreSQL through the pgx stdlib driver, plus the
// embedded goose migrations that create their tables.
//
// [AccountRepository] satisfies authcore.AccountStore and
// [SessionRepository] satisfies session.Persistence.
package postgres
