package db

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// PostgreSQL error codes mapped onto the shared taxonomy.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
)

// MapError translates driver errors into shared error kinds. Errors that already
// carry a kind are returned untouched.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if shared.KindOf(err) != nil {
		return err
	}
	// cancelled by the caller, not refused by the database
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.Wrap(shared.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation, codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return shared.Wrap(shared.ErrConflict, err)
		case codeQueryCanceled, codeAdminShutdown, codeCannotConnectNow:
			return shared.Wrap(shared.ErrStorageUnavailable, err)
		}
		return err
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return shared.Wrap(shared.ErrStorageUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return shared.Wrap(shared.ErrStorageUnavailable, err)
	}
	return err
}
