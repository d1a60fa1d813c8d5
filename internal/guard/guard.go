// Package guard decides whether a caller may act on a ledger record.
//
// Both engines authorize the same way: the authenticated caller must be the
// identity recorded on the record (the seller on a listing, the owner on a
// staked position, the admin on the config, the depositor on a custody
// record). The guard holds no state and never fails; it only answers.
package guard

import (
	"fmt"

	"github.com/rwastockholm/custody-engine/internal/model"
)

// ErrUnauthorized is returned by Require when the guard denies a caller.
var ErrUnauthorized = model.NewError(model.CodeUnauthorized, "guard: caller is not the recorded identity")

// Permits reports whether claimed may act on a record owned by recorded.
// An empty identity on either side never matches.
func Permits(claimed, recorded string) bool {
	if claimed == "" || recorded == "" {
		return false
	}
	return claimed == recorded
}

// Require is Permits as an error, for call sites that bail out on denial.
func Require(claimed, recorded string) error {
	if Permits(claimed, recorded) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnauthorized, claimed)
}
