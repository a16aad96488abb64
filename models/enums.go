package models

import "errors"

type MovementType string

const (
	MovementTypeAddition   MovementType = "ADDITION"
	MovementTypeDamage     MovementType = "DAMAGE"
	MovementTypeCorrection MovementType = "CORRECTION"
	MovementTypeSale       MovementType = "SALE"
	MovementTypeReversal   MovementType = "REVERSAL"
)

func (t MovementType) Validate() error {
	switch t {
	case MovementTypeAddition, MovementTypeDamage, MovementTypeCorrection,
		MovementTypeSale, MovementTypeReversal:
		return nil
	}
	return errors.New("invalid movement type")
}

// ManualMovementTypes are the movement types operators may record directly.
// SALE and REVERSAL rows are only written by the sale engine and the
// mutation executor.
var ManualMovementTypes = []MovementType{
	MovementTypeAddition, MovementTypeDamage, MovementTypeCorrection,
}

type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPartial PaymentStatus = "PARTIAL"
)

func (s PaymentStatus) Validate() error {
	switch s {
	case PaymentStatusPaid, PaymentStatusPending, PaymentStatusPartial:
		return nil
	}
	return errors.New("invalid payment status")
}

type ChangeType string

const (
	ChangeTypeQuantityChange ChangeType = "QUANTITY_CHANGE"
	ChangeTypePaymentUpdate  ChangeType = "PAYMENT_UPDATE"
	ChangeTypeDeletion       ChangeType = "DELETION"
)

func (t ChangeType) Validate() error {
	switch t {
	case ChangeTypeQuantityChange, ChangeTypePaymentUpdate, ChangeTypeDeletion:
		return nil
	}
	return errors.New("invalid change type")
}

type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

func (d Decision) Validate() error {
	switch d {
	case DecisionApprove, DecisionReject:
		return nil
	}
	return errors.New("invalid decision")
}
