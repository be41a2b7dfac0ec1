// Package reminder implements the typed reminder operations: search,
// create, update, delete, plus the job fetch the engine falls back to when
// it never saw the host application load a job.
//
// Every operation acquires the session credential immediately before its
// call, so a token rotated by the host application is picked up on the
// next operation.
package reminder

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/remsync/internal/credential"
	"github.com/roach88/remsync/internal/errors"
	"github.com/roach88/remsync/internal/logger"
	"github.com/roach88/remsync/internal/remote"
)

// ErrUnexpectedResponseShape is returned when a response parsed as JSON but
// lacks the fields the operation depends on.
var ErrUnexpectedResponseShape = errors.New("unexpected response shape")

// Caller performs one remote call. *transport.Client implements it.
type Caller interface {
	Call(ctx context.Context, endpoint, method string, body any, token string, out any) error
}

// Settings is the fixed metadata stamped on reminders this agent creates.
type Settings struct {
	Description   string
	CreatedBy     string
	TenantID      string
	EmailSendMode int
}

// Repository is the reminder API.
type Repository struct {
	caller   Caller
	creds    credential.Acquirer
	settings Settings
	now      func() time.Time
	newID    func() string
	logger   *zap.SugaredLogger
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock sets the source of CreatedOn timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithIDGenerator sets the source of new reminder identifiers.
func WithIDGenerator(gen func() string) Option {
	return func(r *Repository) { r.newID = gen }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Repository) { r.logger = l }
}

// New creates a Repository.
func New(caller Caller, creds credential.Acquirer, settings Settings, opts ...Option) *Repository {
	if settings.EmailSendMode == 0 {
		settings.EmailSendMode = remote.EmailSendManual
	}
	r := &Repository{
		caller:   caller,
		creds:    creds,
		settings: settings,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Named(nil, "reminder")
	}
	return r
}

// Search returns the reminder whose source job is jobID, or nil.
// The server matches jobNumber as free text, so rows for other jobs are
// expected and discarded. An empty jobNumber returns an unfiltered first
// page; the local filter still applies.
func (r *Repository) Search(ctx context.Context, jobNumber, jobID string) (*remote.Reminder, error) {
	token, err := r.creds.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "search reminders")
	}

	var resp remote.ListResponse
	if err := r.caller.Call(ctx, remote.EndpointReminderList, http.MethodPost, remote.NewListRequest(jobNumber), token, &resp); err != nil {
		return nil, errors.Wrapf(err, "search reminders for job %s", jobNumber)
	}
	if resp.Data == nil {
		return nil, errors.Wrapf(ErrUnexpectedResponseShape, "reminder list for job %s has no Data array", jobNumber)
	}

	for i := range resp.Data {
		if resp.Data[i].SourceJobID == jobID {
			found := resp.Data[i]
			r.logger.Debugw("reminder found", "job", jobNumber, "reminder", found.ServiceReminderNumber)
			return &found, nil
		}
	}
	r.logger.Debugw("no reminder for job", "job", jobNumber, "rows", len(resp.Data))
	return nil, nil
}

// Create adds a reminder for job due at the calendar date of due.
func (r *Repository) Create(ctx context.Context, job remote.Job, due time.Time) (remote.Reminder, error) {
	bundle := r.createBundle(job, due)

	saved, err := r.save(ctx, bundle, "create reminder")
	if err != nil {
		return remote.Reminder{}, err
	}
	r.logger.Infow("reminder created", "job", job.JobNumber, "reminder", saved.ServiceReminderNumber, "due", saved.DueDate)
	return saved, nil
}

// Update moves existing to the calendar date of due, sending the full
// record with only DueDate changed.
func (r *Repository) Update(ctx context.Context, existing remote.Reminder, due time.Time) (remote.Reminder, error) {
	bundle := updateBundle(existing, due)

	saved, err := r.save(ctx, bundle, "update reminder")
	if err != nil {
		return remote.Reminder{}, err
	}
	r.logger.Infow("reminder updated", "reminder", saved.ServiceReminderNumber, "from", existing.DueDate, "to", saved.DueDate)
	return saved, nil
}

// Delete removes existing.
func (r *Repository) Delete(ctx context.Context, existing remote.Reminder) error {
	token, err := r.creds.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "delete reminder")
	}

	bundle := deleteBundle(existing)
	if err := r.caller.Call(ctx, remote.EndpointSaveChanges, http.MethodPost, bundle, token, nil); err != nil {
		return errors.Wrapf(err, "delete reminder %s", existing.ServiceReminderNumber)
	}
	r.logger.Infow("reminder deleted", "reminder", existing.ServiceReminderNumber)
	return nil
}

// FetchJob loads a job snapshot directly.
func (r *Repository) FetchJob(ctx context.Context, jobID string) (remote.Job, error) {
	token, err := r.creds.Acquire(ctx)
	if err != nil {
		return remote.Job{}, errors.Wrap(err, "fetch job")
	}

	var resp remote.JobDetailResponse
	if err := r.caller.Call(ctx, remote.EndpointJobDetail, http.MethodPost, remote.JobDetailRequest{ID: jobID}, token, &resp); err != nil {
		return remote.Job{}, errors.Wrapf(err, "fetch job %s", jobID)
	}
	job, ok := resp.Job()
	if !ok {
		return remote.Job{}, errors.Wrapf(ErrUnexpectedResponseShape, "job detail for %s has no embedded job", jobID)
	}
	return job, nil
}

func (r *Repository) save(ctx context.Context, bundle remote.SaveBundle, op string) (remote.Reminder, error) {
	token, err := r.creds.Acquire(ctx)
	if err != nil {
		return remote.Reminder{}, errors.Wrap(err, op)
	}

	var result remote.SaveResult
	if err := r.caller.Call(ctx, remote.EndpointSaveChanges, http.MethodPost, bundle, token, &result); err != nil {
		return remote.Reminder{}, errors.Wrap(err, op)
	}
	if len(result.Entities) == 0 {
		return remote.Reminder{}, errors.Wrapf(ErrUnexpectedResponseShape, "%s: response has no Entities", op)
	}
	return result.Entities[0], nil
}

func (r *Repository) createBundle(job remote.Job, due time.Time) remote.SaveBundle {
	rem := remote.Reminder{
		ID:                    r.newID(),
		SourceJobID:           job.ID,
		CustomerID:            job.CustomerID,
		SiteID:                job.SiteID,
		DueDate:               remote.FormatMidnight(due),
		Description:           r.settings.Description,
		Status:                1,
		CreatedOn:             remote.FormatDateTime(r.now()),
		CreatedBy:             r.settings.CreatedBy,
		TenantID:              r.settings.TenantID,
		ServiceReminderNumber: remote.NewReminderNumber,
		ReminderEmailSendMode: r.settings.EmailSendMode,
	}
	return remote.NewSaveBundle(rem, remote.StateAdded, nil)
}

func updateBundle(existing remote.Reminder, due time.Time) remote.SaveBundle {
	changed := existing
	changed.DueDate = remote.FormatMidnight(due)
	return remote.NewSaveBundle(changed, remote.StateModified, map[string]any{
		"DueDate": existing.DueDate,
	})
}

func deleteBundle(existing remote.Reminder) remote.SaveBundle {
	return remote.NewSaveBundle(existing, remote.StateDeleted, nil)
}
