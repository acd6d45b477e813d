package consultation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession(DefaultEncoding())
	s.Tests().SetCatalog(sampleCatalog(), sampleTemplates())
	s.LoadFrom(QueueEntry{AppointmentID: "a1", PatientCode: "P-1", PatientName: "Jane", AgeYears: 40, PhoneNumber: "555"})
	return s
}

func fillSession(t *testing.T, s *Session) {
	t.Helper()
	require.NoError(t, s.AddNoteTag(PresentingComplaints, "fever"))
	require.NoError(t, s.AddNoteTag(Allergies, "penicillin"))
	s.SetComment("follow up in a week")
	require.NoError(t, s.AddFinding(ExamRespiratory, "wheeze"))
	require.NoError(t, s.AddDiagnosis(DiagnosisInfectious, "influenza"))
	require.NoError(t, s.Tests().ToggleByID(1))
	s.SetSearch("fb")
	_, err := s.AddMedication(PrescribedMedication{DrugName: "Paracetamol", QuantityPerDose: 2, FrequencyCode: "TDS", DurationDays: 3})
	require.NoError(t, err)
	charge := 25.0
	require.NoError(t, s.SetFollowUp(FollowUp{ChargingReference: "CH-1", DoctorCharge: &charge}))
}

func TestSession_LoadFromClearsPreviousPatient(t *testing.T) {
	s := activeSession(t)
	fillSession(t, s)

	s.LoadFrom(QueueEntry{AppointmentID: "a2", PatientCode: "P-2"})

	v := s.View()
	assert.Equal(t, "a2", v.Patient.AppointmentID)
	for _, tags := range v.ClinicalNote {
		assert.Empty(t, tags)
	}
	for _, tags := range v.Examination {
		assert.Empty(t, tags)
	}
	for _, tags := range v.Diagnosis {
		assert.Empty(t, tags)
	}
	assert.Empty(t, v.Comment)
	assert.Empty(t, v.SelectedTests)
	assert.Empty(t, v.Search)
	assert.Empty(t, v.Medications)
	assert.Nil(t, v.FollowUp.DoctorCharge)
	assert.Len(t, s.Tests().Catalog(), 3, "catalog survives a patient switch")
}

func TestSession_ResetIsPatientless(t *testing.T) {
	s := activeSession(t)
	s.Reset()
	assert.False(t, s.HasPatient())
	assert.Equal(t, Patient{}, s.Patient())
}

func TestSession_TagsRejectDelimiter(t *testing.T) {
	s := activeSession(t)
	assert.True(t, errors.Is(s.AddNoteTag(MedicalHistory, "asthma|copd"), ErrInvalidInput))
	assert.True(t, errors.Is(s.AddFinding(ExamGeneral, "pale, sweaty"), ErrInvalidInput))
	assert.True(t, errors.Is(s.AddDiagnosis(DiagnosisOther, "a,b"), ErrInvalidInput))

	// a comma is fine in a note tag since notes use their own delimiter
	require.NoError(t, s.AddNoteTag(MedicalHistory, "asthma, mild"))
	assert.Equal(t, []string{"asthma, mild"}, s.NoteTags(MedicalHistory))
}

func TestSession_RemoveTags(t *testing.T) {
	s := activeSession(t)
	require.NoError(t, s.AddFinding(ExamGeneral, "pale"))
	require.NoError(t, s.AddFinding(ExamGeneral, "afebrile"))
	s.RemoveFinding(ExamGeneral, "pale")
	assert.Equal(t, []string{"afebrile"}, s.Findings(ExamGeneral))

	require.NoError(t, s.AddDiagnosis(DiagnosisChronic, "diabetes"))
	s.RemoveDiagnosis(DiagnosisChronic, "diabetes")
	assert.Empty(t, s.Diagnoses(DiagnosisChronic))

	require.NoError(t, s.AddNoteTag(SurgicalHistory, "appendectomy"))
	s.RemoveNoteTag(SurgicalHistory, "appendectomy")
	assert.Empty(t, s.NoteTags(SurgicalHistory))
}

func TestSession_ValidateForFinish(t *testing.T) {
	s := NewSession(DefaultEncoding())
	err := s.ValidateForFinish()
	assert.True(t, errors.Is(err, ErrMissingIdentity))

	s.LoadFrom(QueueEntry{AppointmentID: "a1"})
	err = s.ValidateForFinish()
	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "patient code", fe.Field)

	s.LoadFrom(QueueEntry{AppointmentID: "a1", PatientCode: "P-1"})
	err = s.ValidateForFinish()
	assert.True(t, errors.Is(err, ErrMissingRequiredField))
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "presenting complaint", fe.Field)

	require.NoError(t, s.AddNoteTag(PresentingComplaints, "headache"))
	assert.NoError(t, s.ValidateForFinish())
}

func TestSession_Medications(t *testing.T) {
	s := activeSession(t)

	_, err := s.AddMedication(PrescribedMedication{DrugName: " ", QuantityPerDose: 1, DurationDays: 1})
	assert.True(t, errors.Is(err, ErrInvalidInput))
	_, err = s.AddMedication(PrescribedMedication{DrugName: "X", QuantityPerDose: 0, DurationDays: 1})
	assert.True(t, errors.Is(err, ErrInvalidInput))
	_, err = s.AddMedication(PrescribedMedication{DrugName: "X", QuantityPerDose: 1, DurationDays: 0})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	m1, err := s.AddMedication(PrescribedMedication{DrugName: "Amoxicillin", QuantityPerDose: 1, FrequencyCode: "TDS", DurationDays: 5})
	require.NoError(t, err)
	m2, err := s.AddMedication(PrescribedMedication{DrugName: "Ibuprofen", QuantityPerDose: 1, FrequencyCode: "BD", DurationDays: 3})
	require.NoError(t, err)
	assert.NotEmpty(t, m1.ID)
	assert.NotEqual(t, m1.ID, m2.ID)

	require.NoError(t, s.UpdateFrequency(m1.ID, "QDS"))
	assert.Equal(t, 20, s.Medications()[0].TotalQuantity())
	assert.True(t, errors.Is(s.UpdateFrequency("missing", "BD"), ErrNotFound))

	assert.True(t, s.RemoveMedication(m1.ID))
	assert.False(t, s.RemoveMedication(m1.ID))
	require.Len(t, s.Medications(), 1)

	s.ClearMedications()
	assert.Empty(t, s.Medications())
}

func TestSession_FollowUp(t *testing.T) {
	s := activeSession(t)
	neg := -1.0
	assert.True(t, errors.Is(s.SetFollowUp(FollowUp{DoctorCharge: &neg}), ErrInvalidInput))

	next := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)
	require.NoError(t, s.SetFollowUp(FollowUp{NextVisitDate: &next, ChargingReference: " CH-9 "}))
	f := s.FollowUp()
	assert.Equal(t, "CH-9", f.ChargingReference)
	assert.Equal(t, 0, f.NextVisitDate.Hour())
}

func TestSession_ToPayload(t *testing.T) {
	s := activeSession(t)
	fillSession(t, s)
	require.NoError(t, s.AddNoteTag(PresentingComplaints, "cough"))
	require.NoError(t, s.AddFinding(ExamRespiratory, "crackles"))
	next := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetFollowUp(FollowUp{NextVisitDate: &next}))

	p := s.ToPayload("dr-1", "Dr One")

	assert.Equal(t, "a1", p.AppointmentID)
	assert.Equal(t, "P-1", p.PatientID)
	assert.Equal(t, "dr-1", p.ConsultantID)
	assert.Equal(t, "Dr One", p.AuthorIdentity)
	assert.Equal(t, "fever|cough", p.ClinicalNote.PresentingComplaints)
	assert.Equal(t, "penicillin", p.ClinicalNote.Allergies)
	assert.Equal(t, "", p.ClinicalNote.MedicalHistory)
	assert.Equal(t, "follow up in a week", p.ClinicalNote.Comment)
	assert.Equal(t, "wheeze,crackles", p.Examination.Respiratory)
	assert.Equal(t, "influenza", p.Diagnosis.InfectiousDiseases)
	require.Len(t, p.Investigation, 1)
	assert.Equal(t, int64(1), p.Investigation[0].LabTestID)
	assert.Equal(t, "", p.Investigation[0].Values)
	require.Len(t, p.Management, 1)
	assert.Equal(t, "Paracetamol", p.Management[0].DrugName)
	require.NotNil(t, p.NextVisitDate)
	assert.Equal(t, "2025-06-01", *p.NextVisitDate)
}

func TestSession_CustomEncoding(t *testing.T) {
	s := NewSession(Encoding{NoteDelimiter: ";", FindingDelimiter: "/", ParamDelimiter: "^", MissingValue: "?"})
	s.LoadFrom(QueueEntry{AppointmentID: "a1", PatientCode: "P-1"})
	require.NoError(t, s.AddNoteTag(PresentingComplaints, "a"))
	require.NoError(t, s.AddNoteTag(PresentingComplaints, "b"))
	require.NoError(t, s.AddFinding(ExamGeneral, "x, y"))
	require.NoError(t, s.AddFinding(ExamGeneral, "z"))

	p := s.ToPayload("c", "c")
	assert.Equal(t, "a;b", p.ClinicalNote.PresentingComplaints)
	assert.Equal(t, "x, y/z", p.Examination.General)
}

func TestSession_ViewMedicationTotals(t *testing.T) {
	s := activeSession(t)
	fillSession(t, s)
	v := s.View()
	require.Len(t, v.Medications, 1)
	assert.Equal(t, 18, v.Medications[0].TotalQuantity)
	assert.Equal(t, []string{"fever"}, v.ClinicalNote["presenting_complaints"])
}
