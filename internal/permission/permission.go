// Package permission реализует проверку прав действующего лица.
package permission

import (
	"sort"

	"github.com/mmeshcher/loan-backoffice/internal/apperr"
)

// Capability описывает право на одно действие.
type Capability string

const (
	CustomersCreate    Capability = "customers:create"
	CustomersView      Capability = "customers:view"
	LoansView          Capability = "loans:view"
	LoansCreate        Capability = "loans:create"
	LoansApprove       Capability = "loans:approve"
	LoansReject        Capability = "loans:reject"
	LoansDisburse      Capability = "loans:disburse"
	PaymentsRecord     Capability = "payments:record"
	LoansWaivePenalty  Capability = "loans:waive_penalty"
	LoansMarkDefaulted Capability = "loans:mark_defaulted"
	LoansClose         Capability = "loans:close"
	SettingsUpdate     Capability = "settings:update"
	JobsRun            Capability = "jobs:run"
)

// Set содержит набор прав.
type Set map[Capability]struct{}

// NewSet строит набор из перечисленных прав.
func NewSet(caps ...Capability) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has сообщает, содержится ли право в наборе.
func (s Set) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// List возвращает права набора в отсортированном виде.
func (s Set) List() []Capability {
	res := make([]Capability, 0, len(s))
	for c := range s {
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// Role описывает роль сотрудника бэк-офиса.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleOfficer   Role = "officer"
	RoleCollector Role = "collector"
	RoleViewer    Role = "viewer"
	RoleSystem    Role = "system"
)

var all = []Capability{
	CustomersCreate, CustomersView, LoansView, LoansCreate, LoansApprove, LoansReject,
	LoansDisburse, PaymentsRecord, LoansWaivePenalty, LoansMarkDefaulted, LoansClose,
	SettingsUpdate, JobsRun,
}

var roles = map[Role]Set{
	RoleAdmin: NewSet(all...),
	RoleOfficer: NewSet(CustomersCreate, CustomersView, LoansView, LoansCreate,
		LoansApprove, LoansReject, LoansDisburse, PaymentsRecord),
	RoleCollector: NewSet(CustomersView, LoansView, PaymentsRecord, LoansWaivePenalty,
		LoansMarkDefaulted, LoansClose),
	RoleViewer: NewSet(CustomersView, LoansView),
	RoleSystem: NewSet(all...),
}

// ForRole возвращает набор прав роли; неизвестная роль не даёт прав.
func ForRole(r Role) Set {
	if s, ok := roles[r]; ok {
		return s
	}
	return Set{}
}

// Actor описывает действующее лицо операции.
type Actor struct {
	ID           int64
	Role         Role
	Capabilities Set
}

// NewActor строит действующее лицо с правами его роли.
func NewActor(id int64, role Role) Actor {
	return Actor{ID: id, Role: role, Capabilities: ForRole(role)}
}

// System описывает действующее лицо для фоновых заданий.
var System = NewActor(0, RoleSystem)

// Require возвращает ошибку класса Forbidden, если у лица нет права.
func Require(a Actor, c Capability) error {
	if a.Capabilities.Has(c) {
		return nil
	}
	return apperr.Forbidden("You do not have permission to perform %s", c)
}
