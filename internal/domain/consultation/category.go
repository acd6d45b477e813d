package consultation

import "strings"

// NoteField selects one of the clinical note tag fields.
type NoteField int

const (
	PresentingComplaints NoteField = iota
	MedicalHistory
	SurgicalHistory
	Allergies
	noteFieldCount
)

var noteFieldNames = [noteFieldCount]string{
	"presenting_complaints", "medical_history", "surgical_history", "allergies",
}

func (f NoteField) String() string {
	if f < 0 || f >= noteFieldCount {
		return "unknown"
	}
	return noteFieldNames[f]
}

// ExamCategory selects an anatomical examination section.
type ExamCategory int

const (
	ExamGeneral ExamCategory = iota
	ExamCardioVascular
	ExamRespiratory
	ExamCentralNerve
	ExamGastroIntestinal
	examCategoryCount
)

var examCategoryNames = [examCategoryCount]string{
	"general", "cardio_vascular", "respiratory", "central_nerve", "gastro_intestinal",
}

func (c ExamCategory) String() string {
	if c < 0 || c >= examCategoryCount {
		return "unknown"
	}
	return examCategoryNames[c]
}

// DiagnosisCategory selects a diagnosis section.
type DiagnosisCategory int

const (
	DiagnosisInfectious DiagnosisCategory = iota
	DiagnosisChronic
	DiagnosisGastrointestinal
	DiagnosisNeurological
	DiagnosisMusculoskeletal
	DiagnosisOther
	diagnosisCategoryCount
)

var diagnosisCategoryNames = [diagnosisCategoryCount]string{
	"infectious_diseases", "chronic_diseases", "gastrointestinal", "neurological", "musculoskeletal", "other",
}

func (c DiagnosisCategory) String() string {
	if c < 0 || c >= diagnosisCategoryCount {
		return "unknown"
	}
	return diagnosisCategoryNames[c]
}

// ParseNoteField, ParseExamCategory and ParseDiagnosisCategory accept the
// snake_case name or the CamelCase display label, case-insensitively.
func ParseNoteField(s string) (NoteField, error) {
	i := lookupName(noteFieldNames[:], s)
	if i < 0 {
		return 0, invalidInput("unknown note field %q", s)
	}
	return NoteField(i), nil
}

// ParseExamCategory resolves an examination category by its wire name.
func ParseExamCategory(s string) (ExamCategory, error) {
	i := lookupName(examCategoryNames[:], s)
	if i < 0 {
		return 0, invalidInput("unknown examination category %q", s)
	}
	return ExamCategory(i), nil
}

// ParseDiagnosisCategory resolves a diagnosis category by its wire name.
func ParseDiagnosisCategory(s string) (DiagnosisCategory, error) {
	i := lookupName(diagnosisCategoryNames[:], s)
	if i < 0 {
		return 0, invalidInput("unknown diagnosis category %q", s)
	}
	return DiagnosisCategory(i), nil
}

func lookupName(names []string, s string) int {
	key := normalizeName(s)
	for i, n := range names {
		if normalizeName(n) == key {
			return i
		}
	}
	return -1
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, " ", "")
}
