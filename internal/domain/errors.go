package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrInvalidTrade    = errors.New("invalid trade contents")
	ErrForbidden       = errors.New("forbidden")
	ErrNotTrader       = errors.New("only the trader may confirm")
	ErrNoOffer         = errors.New("no trade offer to confirm")
	ErrConfirmInFlight = errors.New("confirmation already in flight")
	ErrUnfairTrade     = errors.New("point imbalance exceeds fairness threshold")
	ErrRateLimited     = errors.New("rate limited")
	ErrLockHeld        = errors.New("lock already held")
)
