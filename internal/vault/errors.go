package vault

import "errors"

// Typed failures surfaced by vault operations. Gate rejections
// (ErrHedgeTooSoon, ErrDriftNotMet, policy cooldown) are routine and simply
// mean "retry later"; guardrail violations signal a sizing or configuration
// bug upstream.
var (
	ErrUnauthorized  = errors.New("vault: unauthorized")
	ErrPaused        = errors.New("vault: paused")
	ErrInvalidParams = errors.New("vault: invalid params")

	ErrOracleNotReady = errors.New("vault: oracle not ready")
	ErrOracleDegraded = errors.New("vault: oracle degraded, hedge blocked")
	ErrHedgeTooSoon   = errors.New("vault: hedge interval not met")
	ErrDriftNotMet    = errors.New("vault: drift below band")

	ErrVolOutOfRange = errors.New("vault: vol out of range")
	ErrCapExceeded   = errors.New("vault: cap exceeded")
	ErrReserveTooLow = errors.New("vault: reserve below minimum ratio")

	ErrKeeperRateLimited      = errors.New("vault: keeper rate limited")
	ErrKeeperBondInsufficient = errors.New("vault: keeper bond insufficient")
)
