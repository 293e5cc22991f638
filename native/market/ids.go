package market

import "github.com/google/uuid"

func newReceiptID() string {
	return uuid.NewString()
}
