package models

// PayableKind enumerates the business entities a transaction can pay for.
type PayableKind string

const (
	PayableKindOrder        PayableKind = "order"
	PayableKindSubscription PayableKind = "subscription"
	PayableKindInvoice      PayableKind = "invoice"
)

// Valid reports whether the kind is one of the known payable kinds.
func (k PayableKind) Valid() bool {
	switch k {
	case PayableKindOrder, PayableKindSubscription, PayableKindInvoice:
		return true
	}
	return false
}

// PayableRef identifies what a transaction is paying for.
type PayableRef struct {
	Kind PayableKind `json:"kind"`
	ID   uint        `json:"id"`
}
