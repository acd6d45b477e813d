package consultation

import (
	"strings"
)

// Reconciler tracks which catalog tests are ordered for the active patient.
// Selected tests are unique by TestID and kept in the order they were added.
type Reconciler struct {
	catalog   []LabTest
	templates []TestTemplate
	selected  []SelectedTest
}

// NewReconciler returns a reconciler over the given catalog with nothing
// selected.
func NewReconciler(catalog []LabTest, templates []TestTemplate) *Reconciler {
	r := &Reconciler{}
	r.SetCatalog(catalog, templates)
	return r
}

// SetCatalog replaces the catalog and templates. The current selection is kept.
func (r *Reconciler) SetCatalog(catalog []LabTest, templates []TestTemplate) {
	r.catalog = append([]LabTest(nil), catalog...)
	r.templates = append([]TestTemplate(nil), templates...)
}

// Catalog returns a copy of every orderable test.
func (r *Reconciler) Catalog() []LabTest {
	return append([]LabTest(nil), r.catalog...)
}

// Templates returns a copy of the named test bundles.
func (r *Reconciler) Templates() []TestTemplate {
	return append([]TestTemplate(nil), r.templates...)
}

// Selected returns a deep copy of the ordered tests.
func (r *Reconciler) Selected() []SelectedTest {
	out := make([]SelectedTest, len(r.selected))
	for i, st := range r.selected {
		out[i] = st.clone()
	}
	return out
}

// IsSelected reports whether the test is currently ordered.
func (r *Reconciler) IsSelected(testID int64) bool {
	return r.indexOf(testID) >= 0
}

// Toggle orders test if absent, otherwise cancels it.
func (r *Reconciler) Toggle(test LabTest) error {
	if test.ID <= 0 {
		return invalidInput("lab test %q has no id", test.Code)
	}
	if i := r.indexOf(test.ID); i >= 0 {
		r.removeAt(i)
		return nil
	}
	r.selected = append(r.selected, newSelectedTest(test))
	return nil
}

// ToggleByID toggles a catalog entry looked up by id.
func (r *Reconciler) ToggleByID(testID int64) error {
	if testID <= 0 {
		return invalidInput("lab test id must be positive")
	}
	for _, t := range r.catalog {
		if t.ID == testID {
			return r.Toggle(t)
		}
	}
	// an already selected test may have dropped out of a refreshed catalog
	if i := r.indexOf(testID); i >= 0 {
		r.removeAt(i)
		return nil
	}
	return ErrNotFound
}

// Remove cancels the test with testID. Unknown ids are ignored.
func (r *Reconciler) Remove(testID int64) bool {
	i := r.indexOf(testID)
	if i < 0 {
		return false
	}
	r.removeAt(i)
	return true
}

// ApplyTemplate orders every catalog test named in names that is not already
// selected under the same name. It only adds, so repeated calls are no-ops.
func (r *Reconciler) ApplyTemplate(names []string) int {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	have := make(map[string]bool, len(r.selected))
	for _, st := range r.selected {
		have[st.LabTestName] = true
	}

	added := 0
	for _, t := range r.catalog {
		if !wanted[t.Name] || have[t.Name] || t.ID <= 0 || r.indexOf(t.ID) >= 0 {
			continue
		}
		r.selected = append(r.selected, newSelectedTest(t))
		have[t.Name] = true
		added++
	}
	return added
}

// ApplyTemplateByName resolves a named template and applies it.
func (r *Reconciler) ApplyTemplateByName(name string) (int, error) {
	for _, tpl := range r.templates {
		if strings.EqualFold(tpl.Name, name) {
			return r.ApplyTemplate(tpl.TestNames), nil
		}
	}
	return 0, ErrNotFound
}

// Filter matches term against catalog codes, case-insensitively. An empty
// term returns the whole catalog.
func (r *Reconciler) Filter(term string) []LabTest {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return r.Catalog()
	}
	var out []LabTest
	for _, t := range r.catalog {
		if strings.Contains(strings.ToLower(t.Code), term) {
			out = append(out, t)
		}
	}
	return out
}

// RecordResult stores the values, reference ranges and comment entered for a
// selected test. Both slices are aligned with the test's Fields; blanks mark
// parameters that were not entered.
func (r *Reconciler) RecordResult(testID int64, values, refRanges []string, comment string, paramDelimiter string) error {
	i := r.indexOf(testID)
	if i < 0 {
		return ErrNotFound
	}
	st := &r.selected[i]
	if len(values) > len(st.Fields) || len(refRanges) > len(st.Fields) {
		return invalidInput("test %s has %d parameters", st.LabTestCode, len(st.Fields))
	}
	for _, v := range append(append([]string(nil), values...), refRanges...) {
		if paramDelimiter != "" && strings.Contains(v, paramDelimiter) {
			return invalidInput("parameter value %q contains the delimiter %q", v, paramDelimiter)
		}
	}
	st.Values = trimAll(values)
	st.RefRanges = trimAll(refRanges)
	st.Comment = strings.TrimSpace(comment)
	return nil
}

// Clear drops the whole selection.
func (r *Reconciler) Clear() {
	r.selected = nil
}

func (r *Reconciler) payload(enc Encoding) []InvestigationPayload {
	out := make([]InvestigationPayload, 0, len(r.selected))
	for _, st := range r.selected {
		out = append(out, InvestigationPayload{
			LabTestID:   st.TestID,
			LabTestCode: st.LabTestCode,
			LabTestName: st.LabTestName,
			Fields:      strings.Join(st.Fields, enc.ParamDelimiter),
			Values:      alignParams(st.Values, len(st.Fields), enc),
			RefRange:    alignParams(st.RefRanges, len(st.Fields), enc),
			Comment:     st.Comment,
		})
	}
	return out
}

func (r *Reconciler) indexOf(testID int64) int {
	for i, st := range r.selected {
		if st.TestID == testID {
			return i
		}
	}
	return -1
}

func (r *Reconciler) removeAt(i int) {
	r.selected = append(r.selected[:i:i], r.selected[i+1:]...)
}

func newSelectedTest(t LabTest) SelectedTest {
	return SelectedTest{
		TestID:      t.ID,
		LabTestCode: t.Code,
		LabTestName: t.Name,
		Fields:      append([]string(nil), t.Fields...),
	}
}

func (st SelectedTest) clone() SelectedTest {
	st.Fields = append([]string(nil), st.Fields...)
	st.Values = append([]string(nil), st.Values...)
	st.RefRanges = append([]string(nil), st.RefRanges...)
	return st
}

// alignParams flattens per-parameter entries so that position i always
// belongs to field i. Nothing entered yields an empty string; otherwise gaps
// are filled with the missing-value sentinel.
func alignParams(vals []string, n int, enc Encoding) string {
	entered := false
	for _, v := range vals {
		if v != "" {
			entered = true
			break
		}
	}
	if !entered || n == 0 {
		return ""
	}
	parts := make([]string, n)
	for i := range parts {
		if i < len(vals) && vals[i] != "" {
			parts[i] = vals[i]
		} else {
			parts[i] = enc.MissingValue
		}
	}
	return strings.Join(parts, enc.ParamDelimiter)
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
