// Package assets tracks custody of the unique items being auctioned.
package assets

import (
	"context"
	"fmt"

	"github.com/terminal-bench/nftauction/internal/apperr"
)

var (
	ErrUnknownAsset   = apperr.New(apperr.ErrNotFound, "unknown asset")
	ErrNotAssetOwner  = apperr.New(apperr.ErrAuthorization, "not the asset owner")
	ErrNotInCustody   = apperr.New(apperr.ErrState, "asset is not in custody")
	ErrAlreadyMinted  = apperr.New(apperr.ErrValidation, "asset already exists")
	ErrInvalidAssetID = apperr.New(apperr.ErrValidation, "invalid asset reference")
)

// Ref identifies one asset: the registry (collection) it lives in and its
// item id within that registry.
type Ref struct {
	Registry string `json:"registry"`
	ItemID   string `json:"item_id"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s", r.Registry, r.ItemID)
}

// Valid reports whether both parts are set.
func (r Ref) Valid() bool {
	return r.Registry != "" && r.ItemID != ""
}

// Registry is the custody backend the auction engine talks to.
type Registry interface {
	// IsApproved reports whether owner owns ref and operator may move it.
	IsApproved(ctx context.Context, ref Ref, owner, operator string) (bool, error)
	// Lock moves ref from owner into engine custody.
	Lock(ctx context.Context, ref Ref, owner string) error
	// ReleaseTo moves ref out of custody to recipient.
	ReleaseTo(ctx context.Context, ref Ref, recipient string) error
}
