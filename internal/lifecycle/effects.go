package lifecycle

import "github.com/mmeshcher/loan-backoffice/internal/model"

// Шаблоны уведомлений.
const (
	TemplateLoanApproved       = "loan_approved"
	TemplateLoanRejected       = "loan_rejected"
	TemplateLoanDisbursed      = "loan_disbursed"
	TemplateAdminDisbursement  = "admin_loan_disbursed"
	TemplatePaymentReceived    = "payment_received"
	TemplateLoanRepaid         = "loan_repaid"
	TemplatePaymentReminder    = "payment_reminder"
	TemplateLoanOverdue        = "loan_overdue"
	TemplatePenaltyApplied     = "penalty_applied"
	TemplateLoanDefaulted      = "loan_defaulted"
	TemplateAdminLoanDefaulted = "admin_loan_defaulted"
)

// Audience описывает получателя уведомления.
type Audience int

const (
	AudienceCustomer Audience = iota
	AudienceAdmin
)

func (a Audience) String() string {
	if a == AudienceAdmin {
		return "admin"
	}
	return "customer"
}

// Effect описывает побочное действие, выполняемое после фиксации перехода.
type Effect interface {
	effect()
}

// Notify описывает отправку уведомления по шаблону.
type Notify struct {
	Template string
	Audience Audience
	Vars     map[string]string
}

// Record описывает запись в журнал действий.
type Record struct {
	Activity model.Activity
}

func (Notify) effect() {}
func (Record) effect() {}
