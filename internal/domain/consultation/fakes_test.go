package consultation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type fakeAppointments struct {
	mu       sync.Mutex
	queue    []QueueEntry
	history  []InvestigationRecord
	err      error
	calls    int
	statuses []QueueStatus
}

func (f *fakeAppointments) FetchPendingQueue(_ context.Context, _ string, statuses []QueueStatus) ([]QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.statuses = statuses
	if f.err != nil {
		return nil, f.err
	}
	return append([]QueueEntry(nil), f.queue...), nil
}

func (f *fakeAppointments) FetchInvestigationHistory(_ context.Context, _ string, _, _ time.Time) ([]InvestigationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.history, nil
}

// complete drops an appointment, as the database would after a save.
func (f *fakeAppointments) complete(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.queue {
		if e.AppointmentID == id {
			f.queue = append(f.queue[:i:i], f.queue[i+1:]...)
			return
		}
	}
}

type fakeCatalog struct {
	tests     []LabTest
	templates []TestTemplate
	err       error
	calls     int
}

func (f *fakeCatalog) FetchLabTests(context.Context) ([]LabTest, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.tests, nil
}

func (f *fakeCatalog) FetchTestTemplates(context.Context) ([]TestTemplate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.templates, nil
}

type fakeSink struct {
	mu      sync.Mutex
	saved   []*Payload
	err     error
	started chan struct{}
	release chan struct{}
	onSave  func(*Payload)
}

func (f *fakeSink) SaveConsultation(ctx context.Context, p *Payload) error {
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, p)
	if f.onSave != nil {
		f.onSave(p)
	}
	return nil
}

func (f *fakeSink) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fixture struct {
	appts   *fakeAppointments
	catalog *fakeCatalog
	sink    *fakeSink
}

func newFixture(ids ...string) *fixture {
	return &fixture{
		appts:   &fakeAppointments{queue: entries(ids...)},
		catalog: &fakeCatalog{tests: sampleCatalog(), templates: sampleTemplates()},
		sink:    &fakeSink{},
	}
}

func (f *fixture) collaborators() Collaborators {
	return Collaborators{Appointments: f.appts, Catalog: f.catalog, Sink: f.sink}
}

func (f *fixture) desk() *Desk {
	return NewDesk("dr-1", f.collaborators(), DeskOptions{Encoding: DefaultEncoding()}, zerolog.Nop())
}
