package domain

import (
	"github.com/ethereum/go-ethereum/common"

	wrapErrors "github.com/linlinbupt123-crypto/vault_service/errors"
)

// Access holds the principals allowed to call role-gated entry points.
type Access struct {
	Owner     common.Address
	Bridge    common.Address
	Confirmer common.Address
	// Keeper may harvest and distribute in addition to the owner.
	Keeper common.Address
}

func (a Access) OnlyOwner(caller common.Address) error {
	return a.require(caller, a.Owner)
}

func (a Access) OnlyBridge(caller common.Address) error {
	return a.require(caller, a.Bridge)
}

func (a Access) OnlyConfirmer(caller common.Address) error {
	return a.require(caller, a.Confirmer)
}

func (a Access) OnlyKeeper(caller common.Address) error {
	if caller == a.Owner && caller != (common.Address{}) {
		return nil
	}
	return a.require(caller, a.Keeper)
}

func (a Access) require(caller, want common.Address) error {
	// an unset role locks the entry point
	if want == (common.Address{}) || caller != want {
		return wrapErrors.ErrUnauthorized
	}
	return nil
}
