// Package models defines flow type definitions to avoid circular imports.
package models

// FlowKind identifies one of the fixed data-collection conversations.
type FlowKind string

// StepName represents a specific state within a flow.
type StepName string

// FieldKey represents a key for a collected or derived record field.
type FieldKey string

// Flow kind constants.
const (
	FlowFiling             FlowKind = "filing"
	FlowInformationRequest FlowKind = "information_request"
	FlowViolationReport    FlowKind = "violation_report"
)

// AllFlows lists every flow kind in a stable order.
var AllFlows = []FlowKind{FlowFiling, FlowInformationRequest, FlowViolationReport}

// IsValid reports whether k names a known flow.
func (k FlowKind) IsValid() bool {
	switch k {
	case FlowFiling, FlowInformationRequest, FlowViolationReport:
		return true
	default:
		return false
	}
}

// Pseudo-states shared by every flow.
const (
	StateCancelled StepName = "CANCELLED"
	StateComplete  StepName = "COMPLETE"
)

// IsTerminal reports whether the step is one of the terminal pseudo-states.
func (s StepName) IsTerminal() bool {
	return s == StateCancelled || s == StateComplete
}

// Filing flow steps.
const (
	StepFilingName        StepName = "FILING_NAME"
	StepFilingGuardian    StepName = "FILING_GUARDIAN"
	StepFilingAge         StepName = "FILING_AGE"
	StepFilingPhone       StepName = "FILING_PHONE"
	StepFilingVerify      StepName = "FILING_VERIFY"
	StepFilingEmail       StepName = "FILING_EMAIL"
	StepFilingIdentity    StepName = "FILING_IDENTITY"
	StepFilingAddress     StepName = "FILING_ADDRESS"
	StepFilingDescription StepName = "FILING_DESCRIPTION"
	StepFilingCategory    StepName = "FILING_CATEGORY"
	StepFilingDate        StepName = "FILING_DATE"
	StepFilingLocation    StepName = "FILING_LOCATION"
	StepFilingDetails     StepName = "FILING_DETAILS"
)

// Information-request flow steps.
const (
	StepInfoName       StepName = "INFO_NAME"
	StepInfoPhone      StepName = "INFO_PHONE"
	StepInfoVerify     StepName = "INFO_VERIFY"
	StepInfoEmail      StepName = "INFO_EMAIL"
	StepInfoIdentity   StepName = "INFO_IDENTITY"
	StepInfoAddress    StepName = "INFO_ADDRESS"
	StepInfoDepartment StepName = "INFO_DEPARTMENT"
	StepInfoSought     StepName = "INFO_SOUGHT"
	StepInfoPurpose    StepName = "INFO_PURPOSE"
)

// Violation-report flow steps.
const (
	StepViolationName        StepName = "VIOLATION_NAME"
	StepViolationPhone       StepName = "VIOLATION_PHONE"
	StepViolationVerify      StepName = "VIOLATION_VERIFY"
	StepViolationVehicle     StepName = "VIOLATION_VEHICLE"
	StepViolationType        StepName = "VIOLATION_TYPE"
	StepViolationLocation    StepName = "VIOLATION_LOCATION"
	StepViolationPhoto       StepName = "VIOLATION_PHOTO"
	StepViolationDescription StepName = "VIOLATION_DESCRIPTION"
)

// Field keys for collected values.
const (
	FieldName              FieldKey = "name"
	FieldGuardianName      FieldKey = "guardian_name"
	FieldAge               FieldKey = "age"
	FieldPhone             FieldKey = "phone"
	FieldEmail             FieldKey = "email"
	FieldAddress           FieldKey = "address"
	FieldIncidentSummary   FieldKey = "incident_summary"
	FieldCategory          FieldKey = "category"
	FieldIncidentDate      FieldKey = "incident_date"
	FieldIncidentLocation  FieldKey = "incident_location"
	FieldAdditionalDetails FieldKey = "additional_details"
	FieldDepartment        FieldKey = "department"
	FieldInformationSought FieldKey = "information_sought"
	FieldPurpose           FieldKey = "purpose"
	FieldVehicleNumber     FieldKey = "vehicle_number"
	FieldViolationType     FieldKey = "violation_type"
	FieldLocation          FieldKey = "location"
	FieldLatitude          FieldKey = "latitude"
	FieldLongitude         FieldKey = "longitude"
	FieldDescription       FieldKey = "description"
)

// Derived field keys added by the finalizer.
const (
	FieldPoliceStation FieldKey = "police_station"
	FieldPhotoPath     FieldKey = "photo_path"
)

var fieldLabels = map[FieldKey]string{
	FieldName:              "Name",
	FieldGuardianName:      "Father's/Husband's Name",
	FieldAge:               "Age",
	FieldPhone:             "Phone (verified)",
	FieldEmail:             "Email",
	FieldAddress:           "Address",
	FieldIncidentSummary:   "Incident Summary",
	FieldCategory:          "Complaint Type",
	FieldIncidentDate:      "Date of Incident",
	FieldIncidentLocation:  "Place of Incident",
	FieldAdditionalDetails: "Additional Details",
	FieldDepartment:        "Public Authority",
	FieldInformationSought: "Information Sought",
	FieldPurpose:           "Purpose",
	FieldVehicleNumber:     "Vehicle Number",
	FieldViolationType:     "Violation Type",
	FieldLocation:          "Location",
	FieldLatitude:          "Latitude",
	FieldLongitude:         "Longitude",
	FieldDescription:       "Description",
	FieldPoliceStation:     "Police Station",
	FieldPhotoPath:         "Photo Evidence",
}

// Label returns the human-readable label of a field key.
func (k FieldKey) Label() string {
	if l, ok := fieldLabels[k]; ok {
		return l
	}
	return string(k)
}
