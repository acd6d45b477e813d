package consultation

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Patient is the identity snapshot copied from the selected queue entry.
type Patient struct {
	AppointmentID string `json:"appointment_id"`
	PatientCode   string `json:"patient_code"`
	PatientName   string `json:"patient_name"`
	AgeYears      int    `json:"age_years"`
	Gender        string `json:"gender"`
	ContactNumber string `json:"contact_number"`
}

// FollowUp holds the optional scheduling and charging details.
type FollowUp struct {
	NextVisitDate     *time.Time `json:"next_visit_date,omitempty"`
	ChargingReference string     `json:"charging_reference,omitempty"`
	DoctorCharge      *float64   `json:"doctor_charge,omitempty"`
}

// Session is the working document for one encounter. It is not safe for
// concurrent use; Desk serializes access.
type Session struct {
	enc       Encoding
	patient   Patient
	notes     [noteFieldCount]TagSet
	comment   string
	findings  [examCategoryCount]TagSet
	diagnoses [diagnosisCategoryCount]TagSet
	tests     *Reconciler
	search    string
	meds      []PrescribedMedication
	followUp  FollowUp
}

// NewSession returns an empty, patient-less session using enc at the
// storage boundary.
func NewSession(enc Encoding) *Session {
	return &Session{enc: enc, tests: NewReconciler(nil, nil)}
}

// LoadFrom starts a fresh encounter for entry. Nothing from the previous
// patient survives except the lab catalog.
func (s *Session) LoadFrom(entry QueueEntry) {
	s.clearClinical()
	s.patient = Patient{
		AppointmentID: entry.AppointmentID,
		PatientCode:   entry.PatientCode,
		PatientName:   entry.PatientName,
		AgeYears:      entry.AgeYears,
		Gender:        entry.Gender,
		ContactNumber: entry.PhoneNumber,
	}
}

// Reset leaves the session patient-less and empty.
func (s *Session) Reset() {
	s.LoadFrom(QueueEntry{})
}

func (s *Session) clearClinical() {
	s.notes = [noteFieldCount]TagSet{}
	s.comment = ""
	s.findings = [examCategoryCount]TagSet{}
	s.diagnoses = [diagnosisCategoryCount]TagSet{}
	s.tests.Clear()
	s.search = ""
	s.meds = nil
	s.followUp = FollowUp{}
}

func (s *Session) Patient() Patient { return s.patient }

func (s *Session) HasPatient() bool { return s.patient.AppointmentID != "" }

func (s *Session) Encoding() Encoding { return s.enc }

// -- Clinical note --

// AddNoteTag adds tag to a clinical note field. Tags containing the note
// delimiter are rejected.
func (s *Session) AddNoteTag(f NoteField, tag string) error {
	if f < 0 || f >= noteFieldCount {
		return invalidInput("unknown note field %d", f)
	}
	if err := checkTag(tag, s.enc.NoteDelimiter); err != nil {
		return err
	}
	s.notes[f].Add(tag)
	return nil
}

// RemoveNoteTag drops tag from a note field. Unknown fields are ignored.
func (s *Session) RemoveNoteTag(f NoteField, tag string) {
	if f >= 0 && f < noteFieldCount {
		s.notes[f].Remove(tag)
	}
}

func (s *Session) NoteTags(f NoteField) []string {
	if f < 0 || f >= noteFieldCount {
		return nil
	}
	return s.notes[f].Values()
}

func (s *Session) SetComment(comment string) { s.comment = strings.TrimSpace(comment) }

func (s *Session) Comment() string { return s.comment }

// -- Examination --

// AddFinding adds tag to an examination category.
func (s *Session) AddFinding(c ExamCategory, tag string) error {
	if c < 0 || c >= examCategoryCount {
		return invalidInput("unknown examination category %d", c)
	}
	if err := checkTag(tag, s.enc.FindingDelimiter); err != nil {
		return err
	}
	s.findings[c].Add(tag)
	return nil
}

func (s *Session) RemoveFinding(c ExamCategory, tag string) {
	if c >= 0 && c < examCategoryCount {
		s.findings[c].Remove(tag)
	}
}

func (s *Session) Findings(c ExamCategory) []string {
	if c < 0 || c >= examCategoryCount {
		return nil
	}
	return s.findings[c].Values()
}

// -- Diagnosis --

// AddDiagnosis adds tag to a diagnosis category.
func (s *Session) AddDiagnosis(c DiagnosisCategory, tag string) error {
	if c < 0 || c >= diagnosisCategoryCount {
		return invalidInput("unknown diagnosis category %d", c)
	}
	if err := checkTag(tag, s.enc.FindingDelimiter); err != nil {
		return err
	}
	s.diagnoses[c].Add(tag)
	return nil
}

func (s *Session) RemoveDiagnosis(c DiagnosisCategory, tag string) {
	if c >= 0 && c < diagnosisCategoryCount {
		s.diagnoses[c].Remove(tag)
	}
}

func (s *Session) Diagnoses(c DiagnosisCategory) []string {
	if c < 0 || c >= diagnosisCategoryCount {
		return nil
	}
	return s.diagnoses[c].Values()
}

// -- Investigation --

// Tests exposes the lab test reconciler for this session.
func (s *Session) Tests() *Reconciler { return s.tests }

func (s *Session) SetSearch(term string) { s.search = term }

func (s *Session) Search() string { return s.search }

// FilteredCatalog applies the current search term.
func (s *Session) FilteredCatalog() []LabTest { return s.tests.Filter(s.search) }

// RecordResult stores result values for an ordered test, aligned to its
// parameter fields.
func (s *Session) RecordResult(testID int64, values, refRanges []string, comment string) error {
	return s.tests.RecordResult(testID, values, refRanges, comment, s.enc.ParamDelimiter)
}

// -- Management --

// AddMedication validates m, assigns it a fresh id and appends it.
func (s *Session) AddMedication(m PrescribedMedication) (PrescribedMedication, error) {
	m.DrugName = strings.TrimSpace(m.DrugName)
	m.FrequencyCode = strings.TrimSpace(m.FrequencyCode)
	switch {
	case m.DrugName == "":
		return PrescribedMedication{}, invalidInput("drug name is required")
	case m.QuantityPerDose <= 0:
		return PrescribedMedication{}, invalidInput("quantity per dose must be positive")
	case m.DurationDays <= 0:
		return PrescribedMedication{}, invalidInput("duration must be at least one day")
	}
	m.ID = uuid.NewString()
	s.meds = append(s.meds, m)
	return m, nil
}

// UpdateFrequency is the only in-place edit allowed on a prescribed line.
func (s *Session) UpdateFrequency(id, code string) error {
	for i := range s.meds {
		if s.meds[i].ID == id {
			s.meds[i].FrequencyCode = strings.TrimSpace(code)
			return nil
		}
	}
	return ErrNotFound
}

// RemoveMedication drops the line with id and reports whether it existed.
func (s *Session) RemoveMedication(id string) bool {
	for i := range s.meds {
		if s.meds[i].ID == id {
			s.meds = append(s.meds[:i:i], s.meds[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Session) ClearMedications() { s.meds = nil }

func (s *Session) Medications() []PrescribedMedication {
	return append([]PrescribedMedication(nil), s.meds...)
}

// -- Scheduling --

// SetFollowUp replaces the follow-up details. The next visit keeps only its
// calendar date.
func (s *Session) SetFollowUp(f FollowUp) error {
	if f.DoctorCharge != nil && *f.DoctorCharge < 0 {
		return invalidInput("doctor charge cannot be negative")
	}
	if f.NextVisitDate != nil {
		d := dateOnly(*f.NextVisitDate)
		f.NextVisitDate = &d
	}
	f.ChargingReference = strings.TrimSpace(f.ChargingReference)
	s.followUp = f
	return nil
}

func (s *Session) FollowUp() FollowUp { return s.followUp }

// -- Lifecycle --

// ValidateForFinish reports the first reason the session cannot be saved.
func (s *Session) ValidateForFinish() error {
	if s.patient.AppointmentID == "" {
		return &FieldError{Field: "appointment", Err: ErrMissingIdentity}
	}
	if s.patient.PatientCode == "" {
		return &FieldError{Field: "patient code", Err: ErrMissingIdentity}
	}
	if s.notes[PresentingComplaints].IsEmpty() {
		return missingField("presenting complaint")
	}
	return nil
}

// ToPayload flattens the session into the shape the persistence sink stores.
func (s *Session) ToPayload(consultantID, author string) *Payload {
	note := TagField{Delimiter: s.enc.NoteDelimiter}
	finding := TagField{Delimiter: s.enc.FindingDelimiter}

	p := &Payload{
		AppointmentID:  s.patient.AppointmentID,
		PatientID:      s.patient.PatientCode,
		ConsultantID:   consultantID,
		AuthorIdentity: author,
		ClinicalNote: ClinicalNotePayload{
			PresentingComplaints: note.Join(s.notes[PresentingComplaints]),
			MedicalHistory:       note.Join(s.notes[MedicalHistory]),
			SurgicalHistory:      note.Join(s.notes[SurgicalHistory]),
			Allergies:            note.Join(s.notes[Allergies]),
			Comment:              s.comment,
		},
		Examination: ExaminationPayload{
			General:          finding.Join(s.findings[ExamGeneral]),
			CardioVascular:   finding.Join(s.findings[ExamCardioVascular]),
			Respiratory:      finding.Join(s.findings[ExamRespiratory]),
			CentralNerve:     finding.Join(s.findings[ExamCentralNerve]),
			GastroIntestinal: finding.Join(s.findings[ExamGastroIntestinal]),
		},
		Diagnosis: DiagnosisPayload{
			InfectiousDiseases: finding.Join(s.diagnoses[DiagnosisInfectious]),
			ChronicDiseases:    finding.Join(s.diagnoses[DiagnosisChronic]),
			Gastrointestinal:   finding.Join(s.diagnoses[DiagnosisGastrointestinal]),
			Neurological:       finding.Join(s.diagnoses[DiagnosisNeurological]),
			Musculoskeletal:    finding.Join(s.diagnoses[DiagnosisMusculoskeletal]),
			Other:              finding.Join(s.diagnoses[DiagnosisOther]),
		},
		Investigation:     s.tests.payload(s.enc),
		Management:        make([]MedicationPayload, 0, len(s.meds)),
		ChargingReference: s.followUp.ChargingReference,
		DoctorCharge:      s.followUp.DoctorCharge,
	}
	for _, m := range s.meds {
		p.Management = append(p.Management, MedicationPayload{
			DrugID:              m.DrugID,
			ItemCode:            m.ItemCode,
			DrugName:            m.DrugName,
			Form:                m.Form,
			QuantityPerDose:     m.QuantityPerDose,
			FrequencyCode:       m.FrequencyCode,
			DurationDays:        m.DurationDays,
			SpecialInstructions: m.SpecialInstructions,
		})
	}
	if s.followUp.NextVisitDate != nil {
		d := s.followUp.NextVisitDate.Format(dateLayout)
		p.NextVisitDate = &d
	}
	return p
}

// View is a read-only snapshot of the session for display.
type View struct {
	Patient       Patient             `json:"patient"`
	ClinicalNote  map[string][]string `json:"clinical_note"`
	Comment       string              `json:"comment"`
	Examination   map[string][]string `json:"examination"`
	Diagnosis     map[string][]string `json:"diagnosis"`
	SelectedTests []SelectedTest      `json:"selected_tests"`
	Search        string              `json:"search"`
	Medications   []MedicationView    `json:"medications"`
	FollowUp      FollowUp            `json:"follow_up"`
}

// MedicationView adds the derived course total for display.
type MedicationView struct {
	PrescribedMedication
	TotalQuantity int `json:"total_quantity"`
}

// View is the read model of the session, with derived totals filled in.
func (s *Session) View() View {
	v := View{
		Patient:       s.patient,
		ClinicalNote:  make(map[string][]string, noteFieldCount),
		Comment:       s.comment,
		Examination:   make(map[string][]string, examCategoryCount),
		Diagnosis:     make(map[string][]string, diagnosisCategoryCount),
		SelectedTests: s.tests.Selected(),
		Search:        s.search,
		Medications:   make([]MedicationView, 0, len(s.meds)),
		FollowUp:      s.followUp,
	}
	for f := NoteField(0); f < noteFieldCount; f++ {
		v.ClinicalNote[f.String()] = s.notes[f].Values()
	}
	for c := ExamCategory(0); c < examCategoryCount; c++ {
		v.Examination[c.String()] = s.findings[c].Values()
	}
	for c := DiagnosisCategory(0); c < diagnosisCategoryCount; c++ {
		v.Diagnosis[c.String()] = s.diagnoses[c].Values()
	}
	for _, m := range s.meds {
		v.Medications = append(v.Medications, MedicationView{PrescribedMedication: m, TotalQuantity: m.TotalQuantity()})
	}
	return v
}

func checkTag(tag, delimiter string) error {
	if strings.TrimSpace(tag) == "" {
		return nil
	}
	if delimiter != "" && strings.Contains(tag, delimiter) {
		return invalidInput("tag %q contains the delimiter %q", tag, delimiter)
	}
	return nil
}
