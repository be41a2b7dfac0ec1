package remote

import (
	"encoding/json"
)

// Endpoint paths, relative to the configured API base.
const (
	EndpointReminderList = "/ServiceReminder/GetServiceReminderList"
	EndpointSaveChanges  = "/SaveChanges/SaveChanges"
	EndpointJobDetail    = "/Job/GetJobDetailData"
)

// Entity type and resource names used in the save envelope.
const (
	JobEntityType      = "Job:#Tradify.Models"
	ReminderEntityType = "ServiceReminder:#Tradify.Models"
	ReminderResource   = "ServiceReminders"
)

// TriggerField is the job attribute holding the service due date.
const TriggerField = "Custom4"

// EntityState is the lifecycle tag of a saved entity.
type EntityState string

const (
	StateAdded    EntityState = "Added"
	StateModified EntityState = "Modified"
	StateDeleted  EntityState = "Deleted"
)

// Email send modes for reminders.
const (
	EmailSendManual    = 1
	EmailSendAutomatic = 2
)

// NewReminderNumber is the placeholder the API replaces on create.
const NewReminderNumber = "New Service Reminder"

// Job is the subset of the host application's job record the agent reads.
type Job struct {
	ID             string  `json:"Id"`
	JobNumber      string  `json:"JobNumber"`
	CustomerID     string  `json:"CustomerId"`
	SiteID         *string `json:"SiteId"`
	ServiceDueDate *string `json:"Custom4"`
}

// DueValue returns the triggering field, empty when null.
func (j Job) DueValue() string {
	if j.ServiceDueDate == nil {
		return ""
	}
	return *j.ServiceDueDate
}

// Reminder is a service reminder exactly as the API exchanges it.
// Updates and deletes send the full record back, so every field the API
// returns is kept.
type Reminder struct {
	ID                       string  `json:"Id"`
	SourceJobID              string  `json:"SourceJobId"`
	CustomerID               string  `json:"CustomerId"`
	SiteID                   *string `json:"SiteId"`
	DueDate                  string  `json:"DueDate"`
	Description              string  `json:"Description"`
	Status                   int     `json:"Status"`
	CreatedOn                string  `json:"CreatedOn"`
	CreatedBy                string  `json:"CreatedBy"`
	TenantID                 string  `json:"TenantId"`
	ServiceReminderNumber    string  `json:"ServiceReminderNumber"`
	ServiceReminderSequence  int     `json:"ServiceReminderSequence"`
	LastManualEmailSentOn    *string `json:"LastManualEmailSentOn"`
	LastAutomaticEmailSentOn *string `json:"LastAutomaticEmailSentOn"`
	ReminderEmailSendMode    int     `json:"ReminderEmailSendMode"`
	ReminderEmailTemplateID  *string `json:"ReminderEmailTemplateId"`
}

// EntityAspect is the change-tracking metadata attached to a saved entity.
type EntityAspect struct {
	EntityTypeName      string         `json:"entityTypeName"`
	DefaultResourceName string         `json:"defaultResourceName"`
	EntityState         EntityState    `json:"entityState"`
	OriginalValuesMap   map[string]any `json:"originalValuesMap"`
	AutoGeneratedKey    *string        `json:"autoGeneratedKey"`
}

// ReminderEntity is a reminder inside a save envelope.
type ReminderEntity struct {
	Reminder
	EntityAspect EntityAspect `json:"entityAspect"`
}

// SaveBundle is the body of a SaveChanges request.
type SaveBundle struct {
	Entities    []ReminderEntity `json:"entities"`
	SaveOptions struct{}         `json:"saveOptions"`
}

// SaveResult is the body of a SaveChanges response.
type SaveResult struct {
	Entities []Reminder `json:"Entities"`
}

// NewSaveBundle wraps a single reminder mutation.
// originals is only meaningful for StateModified and may be nil otherwise.
func NewSaveBundle(r Reminder, state EntityState, originals map[string]any) SaveBundle {
	if originals == nil {
		originals = map[string]any{}
	}
	return SaveBundle{
		Entities: []ReminderEntity{{
			Reminder: r,
			EntityAspect: EntityAspect{
				EntityTypeName:      ReminderEntityType,
				DefaultResourceName: ReminderResource,
				EntityState:         state,
				OriginalValuesMap:   originals,
			},
		}},
	}
}

// ListSort orders the reminder list.
type ListSort struct {
	Expression  string `json:"expression"`
	IsAscending bool   `json:"isAscending"`
}

// ListPage selects one page of the reminder list.
type ListPage struct {
	PageIndex int `json:"pageIndex"`
	PageSize  int `json:"pageSize"`
}

// ListRequest is the body of a reminder list query.
type ListRequest struct {
	SearchQuery               string   `json:"searchQuery"`
	Sort                      ListSort `json:"sort"`
	Page                      ListPage `json:"page"`
	SelectedIDs               []string `json:"selectedIds"`
	DateFrom                  *string  `json:"dateFrom"`
	DateTo                    *string  `json:"dateTo"`
	ServiceReminderListFilter int      `json:"serviceReminderListFilter"`
}

// ListPageSize is the page size used for reminder searches.
const ListPageSize = 100

// NewListRequest builds the query used to look up a job's reminder.
// The server matches query as free text, so results must still be
// filtered by source job.
func NewListRequest(query string) ListRequest {
	return ListRequest{
		SearchQuery:               query,
		Sort:                      ListSort{Expression: "dueDate", IsAscending: true},
		Page:                      ListPage{PageIndex: 1, PageSize: ListPageSize},
		SelectedIDs:               []string{},
		ServiceReminderListFilter: 1,
	}
}

// ListResponse is the body of a reminder list response. Data is nil when
// the field is absent or null.
type ListResponse struct {
	Data []Reminder `json:"Data"`
}

// JobDetailRequest is the body the agent sends to fetch a job itself.
type JobDetailRequest struct {
	ID string `json:"id"`
}

// JobDetailResponse is the part of the job detail payload that embeds the job.
type JobDetailResponse struct {
	ChildData struct {
		JobStaffMembers []struct {
			Job *Job `json:"Job"`
		} `json:"JobStaffMembers"`
	} `json:"ChildData"`
}

// Job returns the embedded job snapshot, if present.
func (r JobDetailResponse) Job() (Job, bool) {
	members := r.ChildData.JobStaffMembers
	if len(members) == 0 || members[0].Job == nil || members[0].Job.ID == "" {
		return Job{}, false
	}
	return *members[0].Job, true
}

// ParseJobDetail extracts the job snapshot from a job detail body.
func ParseJobDetail(body []byte) (Job, bool, error) {
	var resp JobDetailResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Job{}, false, err
	}
	job, ok := resp.Job()
	return job, ok, nil
}
