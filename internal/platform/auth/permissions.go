package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin        Role = "admin"
	RolePhysician    Role = "physician"
	RoleRadiologist  Role = "radiologist"
	RoleReceptionist Role = "receptionist"
)

var knownRoles = map[Role]bool{
	RoleAdmin:        true,
	RolePhysician:    true,
	RoleRadiologist:  true,
	RoleReceptionist: true,
}

func (r Role) Valid() bool { return knownRoles[r] }

// ParseRoles converts token or header values into roles, dropping unknown
// names.
func ParseRoles(values []string) []Role {
	out := make([]Role, 0, len(values))
	for _, v := range values {
		r := Role(strings.ToLower(strings.TrimSpace(v)))
		if r.Valid() {
			out = append(out, r)
		}
	}
	return out
}

// Capability is a bit set of model-level permissions.
type Capability uint32

const (
	CapPatientView Capability = 1 << iota
	CapPatientAdd
	CapPatientChange
	CapPatientDelete
	CapOrderView
	CapOrderAdd
	CapOrderChange
	CapOrderDelete
	CapXRayView
	CapXRayAdd
	CapXRayDelete
	CapDiagnosisView
	CapDiagnosisAdd
	CapDiagnosisChange
	CapDiagnosisDelete
	CapReportView
	CapReportAdd
	CapReportChange
	CapReportDelete
	CapStatisticsView
	CapAuditView
	CapUserManage

	capAll = CapUserManage<<1 - 1
)

var roleCapabilities = map[Role]Capability{
	RoleAdmin: capAll,
	RolePhysician: CapPatientView | CapPatientAdd | CapPatientChange |
		CapOrderView | CapOrderAdd | CapOrderChange |
		CapXRayView |
		CapDiagnosisView | CapDiagnosisChange |
		CapReportView | CapReportAdd | CapReportChange |
		CapStatisticsView,
	RoleRadiologist: CapPatientView |
		CapOrderView | CapOrderChange |
		CapXRayView | CapXRayAdd |
		CapDiagnosisView | CapDiagnosisAdd | CapDiagnosisChange |
		CapStatisticsView,
	RoleReceptionist: CapPatientView | CapPatientAdd | CapPatientChange |
		CapOrderView | CapOrderAdd |
		CapStatisticsView,
}

// Operation enumerates every authorized action of the API.
type Operation int

const (
	ListPatients Operation = iota
	ViewPatient
	CreatePatient
	UpdatePatient
	DeletePatient
	ListOrders
	CreateOrder
	UpdateOrder
	UpdateOrderStatus
	DeleteOrder
	ListXRays
	UploadXRay
	DeleteXRay
	ListDiagnoses
	SubmitDiagnosis
	MarkReviewed
	ReviewAsRadiologist
	ApproveAsPhysician
	DeleteDiagnosis
	ListReports
	CreateReport
	UpdateReport
	ReceiveReport
	DeleteReport
	ViewStatistics
	ViewAuditLog
	ManageUsers

	operationCount
)

// requirement is what an actor must hold to perform an operation: every
// capability bit in caps and, when roles is non-empty, one of those roles.
// Administrators satisfy every role requirement.
type requirement struct {
	name  string
	caps  Capability
	roles []Role
}

var requirements = [operationCount]requirement{
	ListPatients:        {"list_patients", CapPatientView, nil},
	ViewPatient:         {"view_patient", CapPatientView, nil},
	CreatePatient:       {"create_patient", CapPatientAdd, nil},
	UpdatePatient:       {"update_patient", CapPatientChange, nil},
	DeletePatient:       {"delete_patient", CapPatientDelete, nil},
	ListOrders:          {"list_orders", CapOrderView, nil},
	CreateOrder:         {"create_order", CapOrderAdd, nil},
	UpdateOrder:         {"update_order", CapOrderChange, nil},
	UpdateOrderStatus:   {"update_order_status", CapOrderChange, nil},
	DeleteOrder:         {"delete_order", CapOrderDelete, nil},
	ListXRays:           {"list_xrays", CapXRayView, nil},
	UploadXRay:          {"upload_xray", CapXRayAdd, nil},
	DeleteXRay:          {"delete_xray", CapXRayDelete, nil},
	ListDiagnoses:       {"list_diagnoses", CapDiagnosisView, nil},
	SubmitDiagnosis:     {"submit_diagnosis", CapDiagnosisAdd, nil},
	MarkReviewed:        {"mark_reviewed", CapDiagnosisChange, []Role{RolePhysician}},
	ReviewAsRadiologist: {"review_as_radiologist", CapDiagnosisChange, nil},
	ApproveAsPhysician:  {"approve_as_physician", CapDiagnosisChange, nil},
	DeleteDiagnosis:     {"delete_diagnosis", CapDiagnosisView, []Role{RolePhysician}},
	ListReports:         {"list_reports", CapReportView, nil},
	CreateReport:        {"create_report", CapReportAdd, nil},
	UpdateReport:        {"update_report", CapReportChange, nil},
	ReceiveReport:       {"receive_report", CapReportChange, nil},
	DeleteReport:        {"delete_report", CapReportDelete, nil},
	ViewStatistics:      {"view_statistics", CapStatisticsView, nil},
	ViewAuditLog:        {"view_audit_log", CapAuditView, nil},
	ManageUsers:         {"manage_users", CapUserManage, nil},
}

func (op Operation) String() string {
	if op < 0 || op >= operationCount {
		return fmt.Sprintf("operation(%d)", int(op))
	}
	return requirements[op].name
}

// Actor is the authorization context passed explicitly into every service
// call.
type Actor struct {
	UserID   uuid.UUID
	Username string
	Roles    []Role
}

func (a Actor) HasRole(role Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (a Actor) IsAdmin() bool { return a.HasRole(RoleAdmin) }

// Capabilities is the union of the capabilities of every role the actor holds.
func (a Actor) Capabilities() Capability {
	var caps Capability
	for _, r := range a.Roles {
		caps |= roleCapabilities[r]
	}
	return caps
}

// Can reports whether Authorize would allow op.
func (a Actor) Can(op Operation) bool {
	return Authorize(a, op) == nil
}

// ForbiddenError is returned when an actor lacks what an operation requires.
type ForbiddenError struct {
	Op     Operation
	Reason string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *ForbiddenError) Status() int  { return http.StatusForbidden }
func (e *ForbiddenError) Code() string { return "forbidden" }

// Authorize resolves op against the actor's roles.
func Authorize(a Actor, op Operation) error {
	if op < 0 || op >= operationCount {
		return &ForbiddenError{Op: op, Reason: "unknown operation"}
	}
	req := requirements[op]
	if a.Capabilities()&req.caps != req.caps {
		return &ForbiddenError{Op: op, Reason: "permission denied"}
	}
	if len(req.roles) == 0 || a.IsAdmin() {
		return nil
	}
	for _, r := range req.roles {
		if a.HasRole(r) {
			return nil
		}
	}
	names := make([]string, len(req.roles))
	for i, r := range req.roles {
		names[i] = string(r)
	}
	return &ForbiddenError{Op: op, Reason: "requires role " + strings.Join(names, " or ")}
}
