package consultation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/consultdesk/internal/platform/db"
)

// PGStore reads queues and the lab catalog from one clinic schema and stores
// finished consultations there.
type PGStore struct {
	pool          *pgxpool.Pool
	clinicID      string
	searchPath    string
	enc           Encoding
	notifyChannel string
	now           func() time.Time
}

// NewPGStore binds a store to clinicID. When notifyChannel is set, every
// saved consultation notifies "clinic:consultant" on that channel.
func NewPGStore(pool *pgxpool.Pool, clinicID string, enc Encoding, notifyChannel string) (*PGStore, error) {
	schema, err := db.ClinicSchema(clinicID)
	if err != nil {
		return nil, err
	}
	return &PGStore{
		pool:          pool,
		clinicID:      clinicID,
		searchPath:    "SET LOCAL search_path TO " + pgx.Identifier{schema}.Sanitize() + ", public",
		enc:           enc,
		notifyChannel: notifyChannel,
		now:           time.Now,
	}, nil
}

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// inTx runs fn in a transaction. The request's clinic connection is reused
// when it belongs to this store's clinic; otherwise a pooled connection is
// pinned to the store's schema for the transaction.
func (s *PGStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var b beginner = s.pool
	scoped := false
	if c := db.ConnFromContext(ctx); c != nil && db.ClinicFromContext(ctx) == s.clinicID {
		b, scoped = c, true
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if !scoped {
		if _, err := tx.Exec(ctx, s.searchPath); err != nil {
			return fmt.Errorf("set search path: %w", err)
		}
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) FetchPendingQueue(ctx context.Context, consultantID string, statuses []QueueStatus) ([]QueueEntry, error) {
	filter := make([]string, len(statuses))
	for i, st := range statuses {
		filter[i] = string(st)
	}

	var entries []QueueEntry
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id::text, display_number, patient_name, date_of_birth, age_years,
				patient_code, COALESCE(phone_number, ''), COALESCE(gender, ''), status
			FROM appointment
			WHERE consultant_id = $1 AND scheduled_for = CURRENT_DATE AND status = ANY($2)
			ORDER BY display_number, created_at`,
			consultantID, filter)
		if err != nil {
			return err
		}
		defer rows.Close()

		now := s.now()
		for rows.Next() {
			var (
				e      QueueEntry
				dob    *time.Time
				age    *int
				status string
			)
			if err := rows.Scan(&e.AppointmentID, &e.DisplayNumber, &e.PatientName, &dob, &age,
				&e.PatientCode, &e.PhoneNumber, &e.Gender, &status); err != nil {
				return err
			}
			switch {
			case dob != nil:
				e.AgeYears = CalculateAge(*dob, now).Years
			case age != nil:
				e.AgeYears = *age
			}
			e.Status, _ = ParseQueueStatus(status)
			entries = append(entries, e)
		}
		return rows.Err()
	})
	return entries, err
}

func (s *PGStore) FetchInvestigationHistory(ctx context.Context, patientID string, from, to time.Time) ([]InvestigationRecord, error) {
	var fromArg, toArg *time.Time
	if !from.IsZero() {
		f := dateOnly(from)
		fromArg = &f
	}
	if !to.IsZero() {
		t := dateOnly(to).AddDate(0, 0, 1)
		toArg = &t
	}

	var records []InvestigationRecord
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT i.id, c.appointment_id::text, i.lab_test_id, i.lab_test_name,
				i.fields, i.result_values, i.ref_range, i.comment, i.created_at
			FROM consultation_investigation i
			JOIN consultation c ON c.id = i.consultation_id
			WHERE i.patient_code = $1
				AND ($2::timestamptz IS NULL OR i.created_at >= $2)
				AND ($3::timestamptz IS NULL OR i.created_at < $3)
			ORDER BY i.created_at DESC, i.position`,
			patientID, fromArg, toArg)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r InvestigationRecord
			if err := rows.Scan(&r.ID, &r.AppointmentID, &r.LabTestID, &r.LabTestName,
				&r.Fields, &r.Values, &r.RefRange, &r.Comment, &r.RecordedAt); err != nil {
				return err
			}
			records = append(records, r)
		}
		return rows.Err()
	})
	return records, err
}

func (s *PGStore) FetchLabTests(ctx context.Context) ([]LabTest, error) {
	params := TagField{Delimiter: s.enc.ParamDelimiter}
	var tests []LabTest
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id, code, name, fields FROM lab_test WHERE active ORDER BY code`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				t      LabTest
				fields string
			)
			if err := rows.Scan(&t.ID, &t.Code, &t.Name, &fields); err != nil {
				return err
			}
			t.Fields = params.Tags(fields)
			tests = append(tests, t)
		}
		return rows.Err()
	})
	return tests, err
}

func (s *PGStore) FetchTestTemplates(ctx context.Context) ([]TestTemplate, error) {
	var templates []TestTemplate
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT name, test_names FROM lab_test_template ORDER BY name`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t TestTemplate
			if err := rows.Scan(&t.Name, &t.TestNames); err != nil {
				return err
			}
			templates = append(templates, t)
		}
		return rows.Err()
	})
	return templates, err
}

// SaveConsultation writes the consultation with its investigations and
// medications and completes the appointment, all in one transaction.
func (s *PGStore) SaveConsultation(ctx context.Context, p *Payload) error {
	appointmentID, err := uuid.Parse(p.AppointmentID)
	if err != nil {
		return invalidInput("appointment id %q is not a uuid", p.AppointmentID)
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		consultationID := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO consultation (
				id, appointment_id, patient_code, consultant_id, author_identity,
				presenting_complaints, medical_history, surgical_history, allergies, comment,
				exam_general, exam_cardio_vascular, exam_respiratory, exam_central_nerve, exam_gastro_intestinal,
				dx_infectious, dx_chronic, dx_gastrointestinal, dx_neurological, dx_musculoskeletal, dx_other,
				next_visit_date, charging_reference, doctor_charge
			) VALUES (
				$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,
				$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
				$21,$22::date,$23,$24
			)`,
			consultationID, appointmentID, p.PatientID, p.ConsultantID, p.AuthorIdentity,
			p.ClinicalNote.PresentingComplaints, p.ClinicalNote.MedicalHistory,
			p.ClinicalNote.SurgicalHistory, p.ClinicalNote.Allergies, p.ClinicalNote.Comment,
			p.Examination.General, p.Examination.CardioVascular, p.Examination.Respiratory,
			p.Examination.CentralNerve, p.Examination.GastroIntestinal,
			p.Diagnosis.InfectiousDiseases, p.Diagnosis.ChronicDiseases, p.Diagnosis.Gastrointestinal,
			p.Diagnosis.Neurological, p.Diagnosis.Musculoskeletal, p.Diagnosis.Other,
			p.NextVisitDate, nullIfEmpty(p.ChargingReference), p.DoctorCharge,
		)
		if err != nil {
			return fmt.Errorf("insert consultation: %w", err)
		}

		batch := &pgx.Batch{}
		for i, inv := range p.Investigation {
			batch.Queue(`
				INSERT INTO consultation_investigation (
					consultation_id, patient_code, position, lab_test_id, lab_test_code, lab_test_name,
					fields, result_values, ref_range, comment
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
				consultationID, p.PatientID, i, inv.LabTestID, inv.LabTestCode, inv.LabTestName,
				inv.Fields, inv.Values, inv.RefRange, inv.Comment)
		}
		for i, m := range p.Management {
			batch.Queue(insertMedicationSQL,
				consultationID, i, nullIfZero(m.DrugID), nullIfEmpty(m.ItemCode), m.DrugName, nullIfEmpty(m.Form),
				m.QuantityPerDose, m.FrequencyCode, m.DurationDays, m.SpecialInstructions)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("insert consultation lines: %w", err)
			}
		}

		tag, err := tx.Exec(ctx, `
			UPDATE appointment SET status = 'completed', completed_at = NOW()
			WHERE id = $1 AND status <> 'completed'`, appointmentID)
		if err != nil {
			return fmt.Errorf("complete appointment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("appointment %s: %w", p.AppointmentID, ErrNotFound)
		}

		if s.notifyChannel != "" {
			if _, err := tx.Exec(ctx, db.NotifySQL(s.notifyChannel), s.clinicID+":"+p.ConsultantID); err != nil {
				return fmt.Errorf("notify queue change: %w", err)
			}
		}
		return nil
	})
}

// Total quantity is derived from dose, frequency and duration whenever it is
// shown, so it has no column.
const insertMedicationSQL = `
	INSERT INTO consultation_medication (
		consultation_id, position, drug_id, item_code, drug_name, form,
		quantity_per_dose, frequency_code, duration_days, special_instructions
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfZero(n int64) *int64 {
	if n == 0 {
		return nil
	}
	return &n
}
