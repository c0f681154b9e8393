// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxAccountIDLen    = 36
	MaxAccountLabelLen = 36
)

var (
	ErrLabelTooLong = errors.New("account label too long")
	ErrLabelEmpty   = errors.New("account label empty")
)

type AccountID string

// Account is the phone account the host call system registers for an
// application link. Calls placed by the link are attributed to it.
type Account struct {
	ID    AccountID `json:"id"`
	Label string    `json:"label"`
}

func NewAccount(label string) (*Account, error) {
	if err := validateLabel(label); err != nil {
		return nil, err
	}
	id := AccountID(uuid.NewString())
	return &Account{ID: id, Label: label}, nil
}

func (a *Account) SetLabel(label string) error {
	if err := validateLabel(label); err != nil {
		return err
	}
	a.Label = label
	return nil
}

func validateLabel(label string) error {
	if len(label) == 0 {
		return ErrLabelEmpty
	}
	if len(label) > MaxAccountLabelLen {
		return ErrLabelTooLong
	}
	return nil
}
