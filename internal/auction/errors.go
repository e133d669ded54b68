package auction

import (
	"github.com/terminal-bench/nftauction/internal/apperr"
	"github.com/terminal-bench/nftauction/internal/ledger"
)

var (
	ErrInvalidDuration     = apperr.New(apperr.ErrValidation, "invalid auction duration")
	ErrInvalidPrice        = apperr.New(apperr.ErrValidation, "starting price must be a positive integer")
	ErrInvalidAmount       = apperr.New(apperr.ErrValidation, "bid amount must be a positive integer")
	ErrInvalidRequest      = apperr.New(apperr.ErrValidation, "invalid request")
	ErrInvalidFilter       = apperr.New(apperr.ErrValidation, "invalid filter")
	ErrUnsupportedCurrency = apperr.New(apperr.ErrValidation, "unsupported currency")
	ErrBidTooLow           = apperr.New(apperr.ErrValidation, "bid too low")

	// ErrInsufficientAllowance is returned when a token bidder has not
	// authorized the escrow to take the bid amount.
	ErrInsufficientAllowance = ledger.ErrInsufficientAllowance

	ErrAssetNotApproved = apperr.New(apperr.ErrAuthorization, "asset not approved for auction")
	ErrNotOwner         = apperr.New(apperr.ErrAuthorization, "caller is not the owner")

	ErrAuctionNotFound  = apperr.New(apperr.ErrNotFound, "auction not found")
	ErrAuctionNotActive = apperr.New(apperr.ErrState, "auction is not active")
	ErrAuctionEnded     = apperr.New(apperr.ErrState, "auction has ended")
	ErrAuctionNotEnded  = apperr.New(apperr.ErrState, "auction has not ended")

	ErrRefundFailed         = apperr.New(apperr.ErrAdapterFailure, "refund of previous bidder failed")
	ErrSettlementIncomplete = apperr.New(apperr.ErrAdapterFailure, "settlement incomplete")

	ErrReconciliationRequired = apperr.New(apperr.ErrReconciliation, "manual reconciliation required")
)
