package ledger

import "codeberg.org/mutker/circulatord/internal/errors"

const (
	// Configuration Errors
	ErrInvalidDBPath = errors.ErrorCode("ledger_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed  = errors.ErrorCode("ledger_schema_init_failed")
	ErrTransactionFailed = errors.ErrorCode("ledger_transaction_failed")

	// Storage Errors
	ErrStorageAccess = errors.ErrorCode("ledger_storage_access_failed")
	ErrStorageInit   = errors.ErrInitFailed
	ErrStorageClose  = errors.ErrShutdownFailed

	// Domain Errors
	ErrDateSkew = errors.ErrLedgerDateSkew
)
