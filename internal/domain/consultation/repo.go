package consultation

import (
	"context"
	"time"
)

// AppointmentSource supplies the pending queue and past investigations.
type AppointmentSource interface {
	FetchPendingQueue(ctx context.Context, consultantID string, statuses []QueueStatus) ([]QueueEntry, error)
	FetchInvestigationHistory(ctx context.Context, patientID string, from, to time.Time) ([]InvestigationRecord, error)
}

// CatalogSource supplies the lab test catalog and named test templates.
type CatalogSource interface {
	FetchLabTests(ctx context.Context) ([]LabTest, error)
	FetchTestTemplates(ctx context.Context) ([]TestTemplate, error)
}

// PersistenceSink stores a finished consultation. A returned error means
// nothing was stored.
type PersistenceSink interface {
	SaveConsultation(ctx context.Context, p *Payload) error
}
