package truth

// Code is a stable, API-visible error identifier (§7). Every sentinel
// error below has a matching Code so callers can branch on the string
// form when errors.Is isn't convenient (e.g. across a process boundary).
type Code string

const (
	CodeWorkflowNotPublished Code = "WORKFLOW_NOT_PUBLISHED"
	CodeWorkflowNotEditable  Code = "WORKFLOW_NOT_EDITABLE"
	CodeInvalidState         Code = "INVALID_STATE"
	CodeValidationFailed     Code = "VALIDATION_FAILED"
	CodeMissingEvidenceSchema Code = "MISSING_EVIDENCE_SCHEMA"
	CodeEvidenceRequired     Code = "EVIDENCE_REQUIRED"
	CodeSchedulingDataMissing Code = "SCHEDULING_DATA_MISSING"
	CodeInvalidTimeRange     Code = "INVALID_TIME_RANGE"
	CodeAnchorTaskMissing    Code = "ANCHOR_TASK_MISSING"
	CodeCustomerMismatch     Code = "CUSTOMER_MISMATCH"
	CodeFlowGroupNotFound    Code = "FLOW_GROUP_NOT_FOUND"
	CodeJobNotFound          Code = "JOB_NOT_FOUND"
	CodeJobAlreadyExists     Code = "JOB_ALREADY_EXISTS"
	CodeForbidden            Code = "FORBIDDEN"
	CodeNoMembership         Code = "NO_MEMBERSHIP"
	CodePublishedImmutable   Code = "PUBLISHED_IMMUTABLE"
	CodeInvalidTaskOverrides Code = "INVALID_TASK_OVERRIDES"
	CodeInvalidJobPriority   Code = "INVALID_JOB_PRIORITY"
	CodeEventNotFound        Code = "EVENT_NOT_FOUND"
	CodeNotFound             Code = "NOT_FOUND"
)

// codedError pairs a sentinel error with its stable code.
type codedError struct {
	code Code
	msg  string
}

func (e *codedError) Error() string { return e.msg }

// Code returns the stable error code for e, satisfying the CodeError
// interface below.
func (e *codedError) Code() Code { return e.code }

// CodeError is implemented by every sentinel in this file; callers that
// need the stable string code (e.g. to populate the {error:{code,...}}
// envelope, §6) can type-assert to it instead of string-matching
// Error().
type CodeError interface {
	error
	Code() Code
}

func newErr(code Code, msg string) *codedError { return &codedError{code: code, msg: msg} }

// Sentinel errors, one per §7 code. Use errors.Is against these, or
// errors.As against CodeError to recover the Code.
var (
	ErrWorkflowNotPublished  = newErr(CodeWorkflowNotPublished, "workflow is not published")
	ErrWorkflowNotEditable   = newErr(CodeWorkflowNotEditable, "workflow is not editable")
	ErrInvalidState          = newErr(CodeInvalidState, "invalid lifecycle transition")
	ErrValidationFailed      = newErr(CodeValidationFailed, "workflow failed validation")
	ErrMissingEvidenceSchema = newErr(CodeMissingEvidenceSchema, "evidence required but no schema defined")
	ErrEvidenceRequired      = newErr(CodeEvidenceRequired, "task requires evidence before an outcome can be recorded")
	ErrSchedulingDataMissing = newErr(CodeSchedulingDataMissing, "scheduling metadata missing on outcome")
	ErrInvalidTimeRange      = newErr(CodeInvalidTimeRange, "schedule end time must be after start time")
	ErrAnchorTaskMissing     = newErr(CodeAnchorTaskMissing, "no anchor task found on entry node")
	ErrCustomerMismatch      = newErr(CodeCustomerMismatch, "sale evidence customer does not match anchor identity")
	ErrFlowGroupNotFound     = newErr(CodeFlowGroupNotFound, "flow group not found")
	ErrJobNotFound           = newErr(CodeJobNotFound, "job not found")
	ErrJobAlreadyExists      = newErr(CodeJobAlreadyExists, "job already exists for flow group")
	ErrPublishedImmutable    = newErr(CodePublishedImmutable, "published workflow versions are immutable")
	ErrInvalidTaskOverrides  = newErr(CodeInvalidTaskOverrides, "task override references a task not in the snapshot")
	ErrInvalidJobPriority    = newErr(CodeInvalidJobPriority, "invalid job priority value")
	ErrEventNotFound         = newErr(CodeEventNotFound, "change request or detour event not found")
	// ErrNotFound is returned by postgres Get* methods (those without a
	// bool "found" return) when no row matches the given id.
	ErrNotFound = newErr(CodeNotFound, "row not found")
)
