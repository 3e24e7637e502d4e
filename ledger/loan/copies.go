package loan

import (
	"errors"
	"fmt"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// ReserveCopy takes one copy of the item out of availability for a new loan.
func ReserveCopy(item ledger.Item) (ledger.Item, error) {
	if item.AvailableCopies <= 0 {
		return item, errors.Join(
			ledger.ErrCopyCountOutOfRange,
			fmt.Errorf("item %s has no available copy to reserve", item.ID),
		)
	}

	reserved := item
	reserved.AvailableCopies--

	return reserved, nil
}

// ReleaseCopy puts one copy of the item back into availability when a loan closes.
func ReleaseCopy(item ledger.Item) (ledger.Item, error) {
	if item.AvailableCopies >= item.TotalCopies {
		return item, errors.Join(
			ledger.ErrCopyCountOutOfRange,
			fmt.Errorf("item %s already has all %d copies available", item.ID, item.TotalCopies),
		)
	}

	released := item
	released.AvailableCopies++

	return released, nil
}
