package dataset

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/star-forensics/internal/analysis"
	apperrors "github.com/ZanzyTHEbar/star-forensics/internal/errors"
	"github.com/ZanzyTHEbar/star-forensics/internal/types"
)

const sample = `{"username":"alice","starred_at":"2024-03-01T10:00:00Z","account_created":"2019-05-01T00:00:00Z","public_repos":12,"followers":40,"following":3,"bio":"hi","commits":120}

{"username":"bob","starred_at":"2024-03-01T10:05:00Z","status":"deleted"}
{"username":"carol","starred_at":
[1,2,3]
{"username":"dave","starred_at":"2024-03-02T08:00:00Z","account_created":"2024-03-01T00:00:00Z","recent_events":1}
`

func TestRead(t *testing.T) {
	batch, err := Read(strings.NewReader(sample), "stars.jsonl")
	require.NoError(t, err)

	require.Len(t, batch.Records, 3)
	assert.Equal(t, "alice", batch.Records[0].Username)
	assert.Equal(t, "stars.jsonl:1", batch.Records[0].Source)
	require.NotNil(t, batch.Records[0].Commits)
	assert.Equal(t, 120, *batch.Records[0].Commits)
	assert.Nil(t, batch.Records[0].PullRequests)
	assert.Equal(t, types.StatusDeleted, batch.Records[1].Status)
	assert.Equal(t, "stars.jsonl:3", batch.Records[1].Source)
	require.NotNil(t, batch.Records[2].RecentEvents)

	require.Len(t, batch.Rejected, 2)
	for _, err := range batch.Rejected {
		assert.True(t, apperrors.IsMalformed(err))
	}
	assert.Contains(t, batch.Rejected[0].Error(), "stars.jsonl:4")
	assert.Contains(t, batch.Rejected[1].Error(), "stars.jsonl:5")
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stars.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	batch, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, batch.Records, 3)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

func TestWriteRecords_RoundTripsThroughRead(t *testing.T) {
	in := []types.RawStarRecord{
		{Username: "alice", StarredAt: "2024-03-01T10:00:00Z", Followers: 4, Issues: types.IntPtr(0)},
		{Username: "bob", StarredAt: "2024-03-01T10:05:00Z", Status: types.StatusDeleted},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRecords(&buf, in))
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))

	batch, err := Read(&buf, "mem")
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	assert.Empty(t, batch.Rejected)
	require.NotNil(t, batch.Records[0].Issues)
	assert.Zero(t, *batch.Records[0].Issues)
}

func TestWriteClassified(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []analysis.Classified{
		{Seq: 0, AccountID: "alice", StarredAt: ts, Verdict: analysis.NewVerdict(0)},
		{Seq: 1, AccountID: "mallory", StarredAt: ts.Add(time.Minute), Verdict: analysis.NewVerdict(
			analysis.NewReasonSet(analysis.ReasonNewAccount, analysis.ReasonTemporalCluster))},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteClassified(&buf, events))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var second struct {
		AccountID string   `json:"account_id"`
		Verdict   string   `json:"verdict"`
		Reasons   []string `json:"reasons"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "mallory", second.AccountID)
	assert.Equal(t, "FAKE", second.Verdict)
	assert.Equal(t, []string{"new_account", "temporal_cluster"}, second.Reasons)
}
