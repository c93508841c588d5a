package client

import (
	"testing"

	"github.com/Nexora-Open-Source/site-version-jobs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgress(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    types.RawProgress
		wantErr bool
	}{
		{
			name: "camel case numbers",
			body: `{"status":"completed","versionsProcessed":10,"versionsDeleted":8,"versionsFailed":2,"storageReleasedBytes":1048576}`,
			want: types.RawProgress{
				Status:               "completed",
				VersionsProcessed:    int64Ptr(10),
				VersionsDeleted:      int64Ptr(8),
				VersionsFailed:       int64Ptr(2),
				StorageReleasedBytes: int64Ptr(1048576),
			},
		},
		{
			name: "pascal case numeric strings",
			body: `{"Status":"Completed","VersionsDeleted":"1,200","StorageReleased":" 4096 "}`,
			want: types.RawProgress{
				Status:               "Completed",
				VersionsDeleted:      int64Ptr(1200),
				StorageReleasedBytes: int64Ptr(4096),
			},
		},
		{
			name: "snake case with error message",
			body: `{"job_status":"failed","error_message":"access denied"}`,
			want: types.RawProgress{Status: "failed", ErrorMessage: "access denied"},
		},
		{
			name: "document wrapped as string value",
			body: `{"value":"{\"Status\":\"in_progress\",\"VersionsProcessed\":3}"}`,
			want: types.RawProgress{Status: "in_progress", VersionsProcessed: int64Ptr(3)},
		},
		{
			name: "non numeric counter is absent",
			body: `{"status":"in_progress","versionsDeleted":"n/a"}`,
			want: types.RawProgress{Status: "in_progress"},
		},
		{
			name: "unrecognized status kept verbatim",
			body: `{"state":"Paused"}`,
			want: types.RawProgress{Status: "Paused"},
		},
		{
			name: "numeric status",
			body: `{"Status":2}`,
			want: types.RawProgress{Status: "2"},
		},
		{name: "empty", body: "  ", wantErr: true},
		{name: "not an object", body: `["completed"]`, wantErr: true},
		{name: "truncated", body: `{"status":`, wantErr: true},
		{
			name: "no status keeps counters",
			body: `{"versionsDeleted":1}`,
			want: types.RawProgress{VersionsDeleted: int64Ptr(1)},
		},
		{
			name: "null status",
			body: `{"Status":null,"VersionsProcessed":3}`,
			want: types.RawProgress{VersionsProcessed: int64Ptr(3)},
		},
		{name: "empty object", body: `{}`, want: types.RawProgress{}},
		{name: "unrelated keys only", body: `{"Progress":"running"}`, want: types.RawProgress{}},
		{
			name: "fractional counter truncated",
			body: `{"status":"completed","versionsDeleted":12.7}`,
			want: types.RawProgress{Status: "completed", VersionsDeleted: int64Ptr(12)},
		},
		{
			name: "out of range counters are absent",
			body: `{"status":"completed","versionsDeleted":1e30,"versionsFailed":"-1e30","storageReleasedBytes":"NaN"}`,
			want: types.RawProgress{Status: "completed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProgress([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func BenchmarkParseProgress(b *testing.B) {
	body := []byte(`{"Status":"Completed","VersionsProcessed":"12,500","versionsDeleted":12000,"StorageReleasedBytes":"734003200"}`)
	for i := 0; i < b.N; i++ {
		_, _ = ParseProgress(body)
	}
}
