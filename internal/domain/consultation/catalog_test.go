package consultation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCatalog() []LabTest {
	return []LabTest{
		{ID: 1, Code: "FBC", Name: "Full Blood Count", Fields: []string{"WBC", "RBC", "HB"}},
		{ID: 2, Code: "LFT", Name: "Liver Function", Fields: []string{"ALT", "AST"}},
		{ID: 3, Code: "FBS", Name: "Fasting Blood Sugar", Fields: []string{"Glucose"}},
	}
}

func sampleTemplates() []TestTemplate {
	return []TestTemplate{
		{Name: "Diabetic Review", TestNames: []string{"Fasting Blood Sugar", "Liver Function"}},
	}
}

func selectedIDs(r *Reconciler) []int64 {
	var ids []int64
	for _, st := range r.Selected() {
		ids = append(ids, st.TestID)
	}
	return ids
}

func TestReconciler_ToggleIsSelfInverse(t *testing.T) {
	r := NewReconciler(sampleCatalog(), nil)
	require.NoError(t, r.Toggle(sampleCatalog()[1]))
	before := r.Selected()

	require.NoError(t, r.Toggle(sampleCatalog()[0]))
	assert.True(t, r.IsSelected(1))
	require.NoError(t, r.Toggle(sampleCatalog()[0]))
	assert.False(t, r.IsSelected(1))
	assert.Equal(t, before, r.Selected())
}

func TestReconciler_ToggleCopiesCatalogFields(t *testing.T) {
	r := NewReconciler(sampleCatalog(), nil)
	require.NoError(t, r.ToggleByID(1))

	sel := r.Selected()
	require.Len(t, sel, 1)
	assert.Equal(t, "FBC", sel[0].LabTestCode)
	assert.Equal(t, "Full Blood Count", sel[0].LabTestName)
	assert.Equal(t, []string{"WBC", "RBC", "HB"}, sel[0].Fields)
	assert.Empty(t, sel[0].Values)
	assert.Empty(t, sel[0].Comment)
}

func TestReconciler_ToggleRejectsMissingID(t *testing.T) {
	r := NewReconciler(nil, nil)
	err := r.Toggle(LabTest{Code: "X"})
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Empty(t, r.Selected())

	assert.True(t, errors.Is(r.ToggleByID(0), ErrInvalidInput))
	assert.True(t, errors.Is(r.ToggleByID(99), ErrNotFound))
}

func TestReconciler_ToggleByIDDropsStaleSelection(t *testing.T) {
	r := NewReconciler(sampleCatalog(), nil)
	require.NoError(t, r.ToggleByID(2))
	r.SetCatalog(sampleCatalog()[:1], nil)

	require.NoError(t, r.ToggleByID(2))
	assert.Empty(t, r.Selected())
}

func TestReconciler_Remove(t *testing.T) {
	r := NewReconciler(sampleCatalog(), nil)
	require.NoError(t, r.ToggleByID(1))
	require.NoError(t, r.ToggleByID(2))

	assert.True(t, r.Remove(1))
	assert.False(t, r.Remove(1))
	assert.Equal(t, []int64{2}, selectedIDs(r))
}

func TestReconciler_ApplyTemplateIsIdempotent(t *testing.T) {
	r := NewReconciler(sampleCatalog(), sampleTemplates())
	require.NoError(t, r.ToggleByID(3))

	added, err := r.ApplyTemplateByName("diabetic review")
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	added, err = r.ApplyTemplateByName("Diabetic Review")
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, []int64{3, 2}, selectedIDs(r))
}

func TestReconciler_ApplyTemplateSkipsUnknownNames(t *testing.T) {
	r := NewReconciler(sampleCatalog(), nil)
	assert.Equal(t, 1, r.ApplyTemplate([]string{"Liver Function", "Thyroid Panel"}))

	_, err := r.ApplyTemplateByName("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReconciler_FilterByCode(t *testing.T) {
	r := NewReconciler(sampleCatalog(), nil)
	codes := func(tests []LabTest) []string {
		var out []string
		for _, t := range tests {
			out = append(out, t.Code)
		}
		return out
	}
	assert.Equal(t, []string{"FBC", "FBS"}, codes(r.Filter("fb")))
	assert.Len(t, r.Filter(""), 3)
	assert.Empty(t, r.Filter("blood"), "names are not searched")
}

func TestReconciler_RecordResultAndPayload(t *testing.T) {
	enc := DefaultEncoding()
	r := NewReconciler(sampleCatalog(), nil)
	require.NoError(t, r.ToggleByID(1))
	require.NoError(t, r.ToggleByID(2))

	require.NoError(t, r.RecordResult(1, []string{"5.2", "", " 13 "}, []string{"4-11"}, " ok ", enc.ParamDelimiter))

	p := r.payload(enc)
	require.Len(t, p, 2)
	assert.Equal(t, "WBC,RBC,HB", p[0].Fields)
	assert.Equal(t, "5.2,-,13", p[0].Values)
	assert.Equal(t, "4-11,-,-", p[0].RefRange)
	assert.Equal(t, "ok", p[0].Comment)

	assert.Equal(t, "", p[1].Values, "nothing entered serializes as empty")
	assert.Equal(t, "", p[1].RefRange)
}

func TestReconciler_RecordResultValidation(t *testing.T) {
	r := NewReconciler(sampleCatalog(), nil)
	require.NoError(t, r.ToggleByID(2))

	assert.True(t, errors.Is(r.RecordResult(9, nil, nil, "", ","), ErrNotFound))
	assert.True(t, errors.Is(r.RecordResult(2, []string{"1", "2", "3"}, nil, "", ","), ErrInvalidInput))
	assert.True(t, errors.Is(r.RecordResult(2, []string{"1,5"}, nil, "", ","), ErrInvalidInput))
}

func TestReconciler_SelectedIsDeepCopy(t *testing.T) {
	r := NewReconciler(sampleCatalog(), nil)
	require.NoError(t, r.ToggleByID(1))
	sel := r.Selected()
	sel[0].Fields[0] = "changed"
	assert.Equal(t, "WBC", r.Selected()[0].Fields[0])
}
