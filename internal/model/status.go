package model

import "fmt"

// LoanStatus описывает состояние займа в жизненном цикле.
type LoanStatus string

const (
	LoanStatusPending         LoanStatus = "pending"
	LoanStatusApproved        LoanStatus = "approved"
	LoanStatusRejected        LoanStatus = "rejected"
	LoanStatusDisbursed       LoanStatus = "disbursed"
	LoanStatusPartiallyPaid   LoanStatus = "partially_paid"
	LoanStatusOverdue         LoanStatus = "overdue"
	LoanStatusPenaltyAccruing LoanStatus = "penalty_accruing"
	LoanStatusDefaulted       LoanStatus = "defaulted"
	LoanStatusRepaid          LoanStatus = "repaid"
	LoanStatusClosed          LoanStatus = "closed"
)

var allStatuses = []LoanStatus{
	LoanStatusPending, LoanStatusApproved, LoanStatusRejected, LoanStatusDisbursed,
	LoanStatusPartiallyPaid, LoanStatusOverdue, LoanStatusPenaltyAccruing,
	LoanStatusDefaulted, LoanStatusRepaid, LoanStatusClosed,
}

// ParseLoanStatus разбирает строковое представление статуса.
func ParseLoanStatus(s string) (LoanStatus, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown loan status %q", s)
}

// RepayingStatuses перечисляет статусы выданного, но ещё не погашенного и не просроченного займа.
var RepayingStatuses = []LoanStatus{LoanStatusDisbursed, LoanStatusPartiallyPaid}

// IsActive сообщает, что по займу ожидаются платежи и он учитывается в active_loans.
func (s LoanStatus) IsActive() bool {
	switch s {
	case LoanStatusDisbursed, LoanStatusPartiallyPaid, LoanStatusOverdue, LoanStatusPenaltyAccruing:
		return true
	}
	return false
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s LoanStatus) IsTerminal() bool {
	switch s {
	case LoanStatusRejected, LoanStatusRepaid, LoanStatusClosed:
		return true
	}
	return false
}

// Capabilities перечисляет действия, допустимые для займа в данном статусе.
type Capabilities struct {
	CanApprove       bool `json:"can_approve"`
	CanReject        bool `json:"can_reject"`
	CanDisburse      bool `json:"can_disburse"`
	CanRecordPayment bool `json:"can_record_payment"`
	CanWaivePenalty  bool `json:"can_waive_penalty"`
	CanMarkDefaulted bool `json:"can_mark_defaulted"`
	CanClose         bool `json:"can_close"`
}

// CapabilitiesFor возвращает допустимые переходы. Других источников этого знания нет.
func CapabilitiesFor(s LoanStatus) Capabilities {
	var c Capabilities
	switch s {
	case LoanStatusPending:
		c.CanApprove = true
		c.CanReject = true
	case LoanStatusApproved:
		c.CanDisburse = true
	case LoanStatusDisbursed, LoanStatusPartiallyPaid, LoanStatusOverdue, LoanStatusPenaltyAccruing:
		c.CanRecordPayment = true
		c.CanWaivePenalty = true
		c.CanMarkDefaulted = true
	case LoanStatusDefaulted:
		c.CanRecordPayment = true
		c.CanWaivePenalty = true
		c.CanClose = true
	}
	return c
}
