package consultation

import (
	"strings"
	"time"
)

// QueueStatus is the triage state of a pending appointment.
type QueueStatus string

const (
	StatusPending   QueueStatus = "pending"
	StatusEmergency QueueStatus = "emergency"
	StatusOnHold    QueueStatus = "on_hold"
	StatusOther     QueueStatus = "other"
)

// ParseQueueStatus accepts the stored form and a few display spellings.
func ParseQueueStatus(s string) (QueueStatus, bool) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")) {
	case "pending":
		return StatusPending, true
	case "emergency":
		return StatusEmergency, true
	case "on_hold", "onhold", "hold":
		return StatusOnHold, true
	case "other":
		return StatusOther, true
	}
	return StatusOther, false
}

// ParseQueueStatuses parses a comma separated filter, skipping unknown entries.
func ParseQueueStatuses(csv string) []QueueStatus {
	var out []QueueStatus
	for _, part := range strings.Split(csv, ",") {
		if st, ok := ParseQueueStatus(part); ok {
			out = append(out, st)
		}
	}
	return out
}

// QueueEntry is one pending appointment. Only Status changes after load.
type QueueEntry struct {
	AppointmentID string      `json:"appointment_id"`
	DisplayNumber int         `json:"display_number"`
	PatientName   string      `json:"patient_name"`
	AgeYears      int         `json:"age_years"`
	PatientCode   string      `json:"patient_code"`
	PhoneNumber   string      `json:"phone_number"`
	Gender        string      `json:"gender"`
	Status        QueueStatus `json:"status"`
}

// LabTest is a catalog entry. ID must be positive.
type LabTest struct {
	ID     int64    `json:"id"`
	Code   string   `json:"code"`
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

// TestTemplate is a named bundle of catalog test names.
type TestTemplate struct {
	Name      string   `json:"name"`
	TestNames []string `json:"test_names"`
}

// SelectedTest is a catalog test ordered for the active patient. Values and
// RefRanges are position-aligned with Fields.
type SelectedTest struct {
	TestID      int64    `json:"test_id"`
	LabTestCode string   `json:"lab_test_code"`
	LabTestName string   `json:"lab_test_name"`
	Fields      []string `json:"fields"`
	Values      []string `json:"values"`
	RefRanges   []string `json:"ref_ranges"`
	Comment     string   `json:"comment"`
}

// PrescribedMedication is one line of the management plan.
type PrescribedMedication struct {
	ID                  string  `json:"id"`
	DrugID              int64   `json:"drug_id"`
	ItemCode            string  `json:"item_code"`
	DrugName            string  `json:"drug_name"`
	Form                string  `json:"form"`
	QuantityPerDose     int     `json:"quantity_per_dose"`
	FrequencyCode       string  `json:"frequency_code"`
	DurationDays        int     `json:"duration_days"`
	SpecialInstructions *string `json:"special_instructions,omitempty"`
}

// TotalQuantity is recomputed from the current dose, duration and frequency.
func (m PrescribedMedication) TotalQuantity() int {
	return TotalQuantity(m.QuantityPerDose, m.DurationDays, m.FrequencyCode)
}

// InvestigationRecord is a previously saved test result for a patient.
type InvestigationRecord struct {
	ID            int64     `json:"id"`
	AppointmentID string    `json:"appointment_id"`
	LabTestID     int64     `json:"lab_test_id"`
	LabTestName   string    `json:"lab_test_name"`
	Fields        string    `json:"fields"`
	Values        string    `json:"values"`
	RefRange      string    `json:"ref_range"`
	Comment       string    `json:"comment"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Encoding configures how multi-valued fields are flattened for storage.
type Encoding struct {
	NoteDelimiter    string
	FindingDelimiter string
	ParamDelimiter   string
	MissingValue     string
}

// DefaultEncoding keeps note tags and findings on distinct delimiters.
func DefaultEncoding() Encoding {
	return Encoding{
		NoteDelimiter:    "|",
		FindingDelimiter: ",",
		ParamDelimiter:   ",",
		MissingValue:     "-",
	}
}

// Payload is what the persistence sink receives on finish.
type Payload struct {
	AppointmentID     string                 `json:"appointment_id"`
	PatientID         string                 `json:"patient_id"`
	ConsultantID      string                 `json:"consultant_id"`
	AuthorIdentity    string                 `json:"author_identity"`
	ClinicalNote      ClinicalNotePayload    `json:"clinical_note"`
	Examination       ExaminationPayload     `json:"examination"`
	Diagnosis         DiagnosisPayload       `json:"diagnosis"`
	Investigation     []InvestigationPayload `json:"investigation"`
	Management        []MedicationPayload    `json:"management"`
	NextVisitDate     *string                `json:"next_visit_date,omitempty"`
	ChargingReference string                 `json:"charging_reference,omitempty"`
	DoctorCharge      *float64               `json:"doctor_charge,omitempty"`
}

type ClinicalNotePayload struct {
	PresentingComplaints string `json:"presenting_complaints"`
	MedicalHistory       string `json:"medical_history"`
	SurgicalHistory      string `json:"surgical_history"`
	Allergies            string `json:"allergies"`
	Comment              string `json:"comment"`
}

type ExaminationPayload struct {
	General          string `json:"general"`
	CardioVascular   string `json:"cardio_vascular"`
	Respiratory      string `json:"respiratory"`
	CentralNerve     string `json:"central_nerve"`
	GastroIntestinal string `json:"gastro_intestinal"`
}

type DiagnosisPayload struct {
	InfectiousDiseases string `json:"infectious_diseases"`
	ChronicDiseases    string `json:"chronic_diseases"`
	Gastrointestinal   string `json:"gastrointestinal"`
	Neurological       string `json:"neurological"`
	Musculoskeletal    string `json:"musculoskeletal"`
	Other              string `json:"other"`
}

type InvestigationPayload struct {
	LabTestID   int64  `json:"lab_test_id"`
	LabTestCode string `json:"lab_test_code"`
	LabTestName string `json:"lab_test_name"`
	Fields      string `json:"fields"`
	Values      string `json:"values"`
	RefRange    string `json:"ref_range"`
	Comment     string `json:"comment"`
}

type MedicationPayload struct {
	DrugID              int64   `json:"drug_id"`
	ItemCode            string  `json:"item_code"`
	DrugName            string  `json:"drug_name"`
	Form                string  `json:"form"`
	QuantityPerDose     int     `json:"quantity_per_dose"`
	FrequencyCode       string  `json:"frequency_code"`
	DurationDays        int     `json:"duration_days"`
	SpecialInstructions *string `json:"special_instructions,omitempty"`
}
