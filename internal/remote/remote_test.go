package remote

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobFieldSave(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		wantOK bool
		want   FieldChange
	}{
		{
			name:   "job with date",
			body:   `{"entities":[{"Id":"job-1","JobNumber":"J-100","Custom4":"2025-12-25","entityAspect":{"entityTypeName":"Job:#Tradify.Models","entityState":"Modified"}}],"saveOptions":{}}`,
			wantOK: true,
			want:   FieldChange{JobID: "job-1", JobNumber: "J-100", Value: "2025-12-25"},
		},
		{
			name:   "job with cleared field",
			body:   `{"entities":[{"Id":"job-1","Custom4":null,"entityAspect":{"entityTypeName":"Job:#Tradify.Models"}}]}`,
			wantOK: true,
			want:   FieldChange{JobID: "job-1", Value: ""},
		},
		{
			name:   "job with non-string field",
			body:   `{"entities":[{"Id":"job-1","Custom4":42,"entityAspect":{"entityTypeName":"Job:#Tradify.Models"}}]}`,
			wantOK: true,
			want:   FieldChange{JobID: "job-1", Value: "42"},
		},
		{
			name: "job without trigger field",
			body: `{"entities":[{"Id":"job-1","Description":"x","entityAspect":{"entityTypeName":"Job:#Tradify.Models"}}]}`,
		},
		{
			name: "reminder entity",
			body: `{"entities":[{"Id":"r-1","Custom4":"2025-12-25","entityAspect":{"entityTypeName":"ServiceReminder:#Tradify.Models"}}]}`,
		},
		{
			name: "no entities",
			body: `{"entities":[]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := ParseJobFieldSave([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseJobFieldSave_Malformed(t *testing.T) {
	_, ok, err := ParseJobFieldSave([]byte(`{"entities":[`))
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestParseJobDetail(t *testing.T) {
	body := `{"ChildData":{"JobStaffMembers":[{"Job":{"Id":"job-1","JobNumber":"J-100","CustomerId":"cust-1","SiteId":null,"Custom4":"2025-12-25"}}]}}`

	job, ok, err := ParseJobDetail([]byte(body))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, "J-100", job.JobNumber)
	assert.Equal(t, "cust-1", job.CustomerID)
	assert.Nil(t, job.SiteID)
	assert.Equal(t, "2025-12-25", job.DueValue())
}

func TestParseJobDetail_NoJob(t *testing.T) {
	for _, body := range []string{
		`{}`,
		`{"ChildData":{"JobStaffMembers":[]}}`,
		`{"ChildData":{"JobStaffMembers":[{"Job":null}]}}`,
	} {
		_, ok, err := ParseJobDetail([]byte(body))
		require.NoError(t, err)
		assert.False(t, ok, body)
	}
}

func TestNewListRequest(t *testing.T) {
	data, err := json.Marshal(NewListRequest("J-100"))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"searchQuery": "J-100",
		"sort": {"expression": "dueDate", "isAscending": true},
		"page": {"pageIndex": 1, "pageSize": 100},
		"selectedIds": [],
		"dateFrom": null,
		"dateTo": null,
		"serviceReminderListFilter": 1
	}`, string(data))
}

func TestListResponse_MissingData(t *testing.T) {
	var resp ListResponse
	require.NoError(t, json.Unmarshal([]byte(`{"Total":0}`), &resp))
	assert.Nil(t, resp.Data)

	require.NoError(t, json.Unmarshal([]byte(`{"Data":[]}`), &resp))
	assert.NotNil(t, resp.Data)
	assert.Empty(t, resp.Data)
}

func TestFormatMidnight(t *testing.T) {
	in := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

	assert.Equal(t, "2025/06/01 00:00:00", FormatMidnight(in))
	assert.Equal(t, "2025/06/01 10:30:00", FormatDateTime(in))

	back, err := ParseDateTime("2025/06/01 00:00:00", time.UTC)
	require.NoError(t, err)
	assert.True(t, back.Equal(Midnight(in)))
}

func TestNewSaveBundle_DefaultsOriginals(t *testing.T) {
	bundle := NewSaveBundle(Reminder{ID: "r-1"}, StateDeleted, nil)

	require.Len(t, bundle.Entities, 1)
	aspect := bundle.Entities[0].EntityAspect
	assert.Equal(t, ReminderEntityType, aspect.EntityTypeName)
	assert.Equal(t, ReminderResource, aspect.DefaultResourceName)
	assert.Equal(t, StateDeleted, aspect.EntityState)
	assert.NotNil(t, aspect.OriginalValuesMap)
	assert.Nil(t, aspect.AutoGeneratedKey)
}
