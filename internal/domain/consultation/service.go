package consultation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Collaborators groups the external services a Desk talks to.
type Collaborators struct {
	Appointments AppointmentSource
	Catalog      CatalogSource
	Sink         PersistenceSink
}

// DeskOptions tunes a Desk. Lifetime bounds the save call of a finish; it
// should only be cancelled on process shutdown.
type DeskOptions struct {
	Encoding    Encoding
	Statuses    []QueueStatus
	SaveTimeout time.Duration
	Lifetime    context.Context
}

// Desk is one consultant's workstation: the pending queue plus the active
// consultation. All state changes go through its lock, and only one finish
// may run at a time. The lock is not held while a finish is being saved;
// the finishing flag keeps the session frozen instead.
type Desk struct {
	consultantID string
	collab       Collaborators
	opts         DeskOptions
	logger       zerolog.Logger

	mu        sync.Mutex
	finishing atomic.Bool
	loaded    bool
	queue     Queue
	session   *Session
}

// NewDesk returns an unloaded desk. Zero options fall back to a 30s save
// timeout and the default queue statuses.
func NewDesk(consultantID string, collab Collaborators, opts DeskOptions, logger zerolog.Logger) *Desk {
	if opts.Lifetime == nil {
		opts.Lifetime = context.Background()
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 30 * time.Second
	}
	if len(opts.Statuses) == 0 {
		opts.Statuses = []QueueStatus{StatusPending, StatusEmergency, StatusOnHold}
	}
	return &Desk{
		consultantID: consultantID,
		collab:       collab,
		opts:         opts,
		logger:       logger.With().Str("consultant_id", consultantID).Logger(),
		session:      NewSession(opts.Encoding),
	}
}

func (d *Desk) ConsultantID() string { return d.consultantID }

// QueueView is a snapshot of the queue.
type QueueView struct {
	State    QueueState   `json:"state"`
	ActiveID string       `json:"active_appointment_id,omitempty"`
	Entries  []QueueEntry `json:"entries"`
}

// Queue returns a snapshot of the pending queue.
func (d *Desk) Queue() QueueView {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queueView()
}

func (d *Desk) queueView() QueueView {
	return QueueView{State: d.queue.State(), ActiveID: d.queue.ActiveID(), Entries: d.queue.Entries()}
}

// LoadQueue fetches the pending queue. When no patient is active the head of
// the new queue is selected.
func (d *Desk) LoadQueue(ctx context.Context) (QueueView, error) {
	entries, err := d.collab.Appointments.FetchPendingQueue(ctx, d.consultantID, d.opts.Statuses)
	if err != nil {
		return QueueView{}, fmt.Errorf("fetch pending queue: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue.Load(entries)
	d.loaded = true
	d.logger.Info().Int("count", len(entries)).Msg("queue loaded")

	if !d.session.HasPatient() {
		if head, ok := d.queue.Current(); ok {
			d.selectLocked(head.AppointmentID)
		}
	}
	return d.queueView(), nil
}

// EnsureLoaded loads the queue and catalog the first time a desk is used.
func (d *Desk) EnsureLoaded(ctx context.Context) error {
	d.mu.Lock()
	loaded := d.loaded
	d.mu.Unlock()
	if loaded {
		return nil
	}
	if err := d.LoadCatalog(ctx); err != nil {
		return err
	}
	_, err := d.LoadQueue(ctx)
	return err
}

// LoadCatalog refreshes the lab catalog and templates of the session.
func (d *Desk) LoadCatalog(ctx context.Context) error {
	tests, err := d.collab.Catalog.FetchLabTests(ctx)
	if err != nil {
		return fmt.Errorf("fetch lab tests: %w", err)
	}
	templates, err := d.collab.Catalog.FetchTestTemplates(ctx)
	if err != nil {
		return fmt.Errorf("fetch test templates: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.session.Tests().SetCatalog(tests, templates)
	return nil
}

// Select starts a new consultation for the queued appointment. The entry
// stays in the queue.
func (d *Desk) Select(appointmentID string) (View, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.finishing.Load() {
		return View{}, ErrConcurrentFinish
	}
	if err := d.selectLocked(appointmentID); err != nil {
		return View{}, err
	}
	return d.session.View(), nil
}

func (d *Desk) selectLocked(appointmentID string) error {
	entry, err := d.queue.Select(appointmentID)
	if err != nil {
		return fmt.Errorf("appointment %s: %w", appointmentID, err)
	}
	d.session.LoadFrom(entry)
	d.logger.Info().Str("appointment_id", appointmentID).Msg("patient selected")
	return nil
}

// SetStatus changes a queued appointment's triage status locally.
func (d *Desk) SetStatus(appointmentID string, status QueueStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.queue.SetStatus(appointmentID, status); err != nil {
		return fmt.Errorf("appointment %s: %w", appointmentID, err)
	}
	return nil
}

// Edit applies fn to the active session. When appointmentID is set, the
// edit is refused unless that appointment is still the active one.
func (d *Desk) Edit(appointmentID string, fn func(*Session) error) (View, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.finishing.Load() {
		return View{}, ErrConcurrentFinish
	}
	if err := d.checkActive(appointmentID); err != nil {
		return View{}, err
	}
	if err := fn(d.session); err != nil {
		return View{}, err
	}
	return d.session.View(), nil
}

// checkActive refuses work when no patient is active or, if appointmentID is
// set, when a different patient is.
func (d *Desk) checkActive(appointmentID string) error {
	if !d.session.HasPatient() {
		return ErrNoActivePatient
	}
	if appointmentID != "" && d.session.Patient().AppointmentID != appointmentID {
		return fmt.Errorf("appointment %s is not active: %w", appointmentID, ErrNoActivePatient)
	}
	return nil
}

// CatalogView is the catalog filtered by the session's search term.
type CatalogView struct {
	Search    string         `json:"search"`
	Tests     []LabTest      `json:"tests"`
	Templates []TestTemplate `json:"templates"`
}

// Catalog sets the search term and returns the matching catalog entries.
func (d *Desk) Catalog(search string) CatalogView {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.session.SetSearch(search)
	return CatalogView{
		Search:    search,
		Tests:     d.session.FilteredCatalog(),
		Templates: d.session.Tests().Templates(),
	}
}

// Session returns the read model of the active consultation.
func (d *Desk) Session() View {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session.View()
}

// FinishResult describes the queue after a successful finish.
type FinishResult struct {
	CompletedAppointmentID string      `json:"completed_appointment_id"`
	Next                   *QueueEntry `json:"next,omitempty"`
	Queue                  QueueView   `json:"queue"`
}

// Finish validates and saves the active consultation, then advances the
// queue. When appointmentID is set it must name the active patient. If the
// save fails the session and queue are left untouched.
func (d *Desk) Finish(ctx context.Context, appointmentID, author string) (*FinishResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !d.finishing.CompareAndSwap(false, true) {
		return nil, ErrConcurrentFinish
	}
	defer d.finishing.Store(false)

	d.mu.Lock()
	payload, pos, err := d.prepareFinish(appointmentID, author)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	log := d.logger.With().Str("appointment_id", payload.AppointmentID).Logger()
	log.Info().Int("tests", len(payload.Investigation)).Int("medications", len(payload.Management)).Msg("finish started")

	// The save must not be abandoned halfway because a client went away.
	saveCtx, cancel := context.WithTimeout(d.opts.Lifetime, d.opts.SaveTimeout)
	defer cancel()
	if err := d.collab.Sink.SaveConsultation(saveCtx, payload); err != nil {
		log.Error().Err(err).Msg("finish failed")
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.session.Reset()
	res := &FinishResult{CompletedAppointmentID: payload.AppointmentID}
	var next QueueEntry
	var ok bool
	if _, present := d.queue.Get(payload.AppointmentID); present || pos < 0 {
		next, ok = d.queue.AdvanceAfterFinish(payload.AppointmentID)
	} else {
		// A reload during the save already dropped the completed entry.
		next, ok = d.queue.activateAt(pos)
	}
	if ok {
		d.session.LoadFrom(next)
		res.Next = &next
		log.Info().Str("next_appointment_id", next.AppointmentID).Msg("queue advanced")
	} else {
		log.Info().Msg("queue empty")
	}
	res.Queue = d.queueView()
	return res, nil
}

// prepareFinish snapshots the session for saving and records the queue
// position of the patient being finished. Callers hold d.mu.
func (d *Desk) prepareFinish(appointmentID, author string) (*Payload, int, error) {
	if appointmentID != "" {
		if err := d.checkActive(appointmentID); err != nil {
			return nil, 0, err
		}
	}
	if err := d.session.ValidateForFinish(); err != nil {
		return nil, 0, err
	}
	payload := d.session.ToPayload(d.consultantID, author)
	return payload, d.queue.indexOf(payload.AppointmentID), nil
}

// History returns the patient's saved investigations grouped by date,
// newest first.
func (d *Desk) History(ctx context.Context, patientID string, from, to time.Time) ([]DateGroup[InvestigationRecord], error) {
	if patientID == "" {
		return nil, invalidInput("patient id is required")
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return nil, invalidInput("from date is after to date")
	}
	records, err := d.collab.Appointments.FetchInvestigationHistory(ctx, patientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch investigation history: %w", err)
	}
	return GroupInvestigations(records), nil
}

// Registry hands out one Desk per consultant.
type Registry struct {
	mu     sync.Mutex
	desks  map[string]*Desk
	collab Collaborators
	opts   DeskOptions
	logger zerolog.Logger
}

func NewRegistry(collab Collaborators, opts DeskOptions, logger zerolog.Logger) *Registry {
	return &Registry{
		desks:  make(map[string]*Desk),
		collab: collab,
		opts:   opts,
		logger: logger,
	}
}

// Desk returns the consultant's desk, creating it on first use.
func (r *Registry) Desk(consultantID string) *Desk {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.desks[consultantID]
	if !ok {
		d = NewDesk(consultantID, r.collab, r.opts, r.logger)
		r.desks[consultantID] = d
	}
	return d
}

// Reload refreshes the queue of an existing desk. Consultants without an
// open desk are skipped.
func (r *Registry) Reload(ctx context.Context, consultantID string) error {
	r.mu.Lock()
	d, ok := r.desks[consultantID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := d.LoadQueue(ctx)
	return err
}

// ReloadAll refreshes every open desk, returning the first error.
func (r *Registry) ReloadAll(ctx context.Context) error {
	r.mu.Lock()
	desks := make([]*Desk, 0, len(r.desks))
	for _, d := range r.desks {
		desks = append(desks, d)
	}
	r.mu.Unlock()

	var first error
	for _, d := range desks {
		if _, err := d.LoadQueue(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// catalogInvalidator is implemented by catalog sources that cache.
type catalogInvalidator interface {
	Invalidate(ctx context.Context) error
}

// RefreshCatalog drops any cached catalog and reloads it into every open
// desk, returning the first error.
func (r *Registry) RefreshCatalog(ctx context.Context) error {
	if inv, ok := r.collab.Catalog.(catalogInvalidator); ok {
		if err := inv.Invalidate(ctx); err != nil {
			return fmt.Errorf("invalidate catalog: %w", err)
		}
	}
	r.mu.Lock()
	desks := make([]*Desk, 0, len(r.desks))
	for _, d := range r.desks {
		desks = append(desks, d)
	}
	r.mu.Unlock()

	var first error
	for _, d := range desks {
		if err := d.LoadCatalog(ctx); err != nil && first == nil {
			first = err
		}
	}
	r.logger.Info().Int("desks", len(desks)).Msg("catalog refreshed")
	return first
}

// Directory holds one Registry per clinic, built on first use.
type Directory struct {
	mu          sync.Mutex
	registries  map[string]*Registry
	newRegistry func(clinicID string) (*Registry, error)
}

func NewDirectory(newRegistry func(clinicID string) (*Registry, error)) *Directory {
	return &Directory{
		registries:  make(map[string]*Registry),
		newRegistry: newRegistry,
	}
}

// Registry returns the clinic's registry, building it on first use.
func (d *Directory) Registry(clinicID string) (*Registry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.registries[clinicID]; ok {
		return r, nil
	}
	r, err := d.newRegistry(clinicID)
	if err != nil {
		return nil, err
	}
	d.registries[clinicID] = r
	return r, nil
}

// Reload refreshes one consultant's desk in an already open clinic. An empty
// consultant id reloads every desk of the clinic.
func (d *Directory) Reload(ctx context.Context, clinicID, consultantID string) error {
	d.mu.Lock()
	r, ok := d.registries[clinicID]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	if consultantID == "" {
		return r.ReloadAll(ctx)
	}
	return r.Reload(ctx, consultantID)
}

// ReloadAll refreshes every open desk in every clinic.
func (d *Directory) ReloadAll(ctx context.Context) error {
	d.mu.Lock()
	regs := make([]*Registry, 0, len(d.registries))
	for _, r := range d.registries {
		regs = append(regs, r)
	}
	d.mu.Unlock()

	var first error
	for _, r := range regs {
		if err := r.ReloadAll(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ParseQueueNotification splits a "clinic:consultant" notification payload.
// A payload without a clinic part belongs to defaultClinic.
func ParseQueueNotification(payload, defaultClinic string) (clinicID, consultantID string) {
	if clinic, consultant, ok := strings.Cut(payload, ":"); ok {
		return clinic, consultant
	}
	return defaultClinic, payload
}
