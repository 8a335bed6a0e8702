package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CyberDay1/the-expanse/pkg/buildsys"
	"github.com/CyberDay1/the-expanse/pkg/registry"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), ".vbuild", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func makeResults(statuses ...buildsys.ExitStatus) []*buildsys.BuildResult {
	results := make([]*buildsys.BuildResult, len(statuses))
	for idx, status := range statuses {
		v := registry.NewVariant(registry.VariantSpec{Name: []string{"1.20.4", "1.21.1", "1.21.3"}[idx]})
		results[idx] = &buildsys.BuildResult{Variant: v, Status: status}
		if status == buildsys.Failure {
			results[idx].ExitCode = 1
			results[idx].Err = &buildsys.BuildFailure{Variant: v.Name(), Code: 1}
		}
	}
	return results
}

func TestSaveAndListRuns(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	start := time.Now().Add(-time.Minute)
	first, err := NewRunRecord("build-all", buildsys.Parallel, start, makeResults(buildsys.Success, buildsys.Failure, buildsys.Success))
	require.NoError(t, err)
	require.NoError(t, store.SaveRun(ctx, first))

	second, err := NewRunRecord("build", buildsys.Sequential, start.Add(time.Second), makeResults(buildsys.Success))
	require.NoError(t, err)
	require.NoError(t, store.SaveRun(ctx, second))

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, first.ID, 12)

	runs, err := store.LatestRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)
	assert.Equal(t, 1, runs[1].Failed())
	assert.Equal(t, "parallel", runs[1].Mode)
	assert.Contains(t, runs[1].Results[1].Error, "failed with code 1")

	runs, err = store.LatestRuns(1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestLatestForVariant(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	start := time.Now()
	first, err := NewRunRecord("build-all", buildsys.Sequential, start, makeResults(buildsys.Failure, buildsys.Success))
	require.NoError(t, err)
	require.NoError(t, store.SaveRun(ctx, first))

	// skipped results don't replace the last real outcome
	second, err := NewRunRecord("build-all", buildsys.Sequential, start.Add(time.Second), makeResults(buildsys.Skipped, buildsys.Failure))
	require.NoError(t, err)
	require.NoError(t, store.SaveRun(ctx, second))

	record, err := store.LatestFor("1.20.4")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, first.ID, record.RunID)
	assert.Equal(t, "failure", record.Status)

	record, err = store.LatestFor("1.21.1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, second.ID, record.RunID)

	record, err = store.LatestFor("unknown")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestMaxRunsPrunesOldest(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	store.MaxRuns = 2

	start := time.Now()
	ids := []string{}
	for idx := 0; idx < 4; idx++ {
		record, err := NewRunRecord("build", buildsys.Sequential, start.Add(time.Duration(idx)*time.Second), makeResults(buildsys.Success))
		require.NoError(t, err)
		require.NoError(t, store.SaveRun(ctx, record))
		ids = append(ids, record.ID)
	}

	runs, err := store.LatestRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[3], runs[0].ID)
	assert.Equal(t, ids[2], runs[1].ID)
}

func TestOpenExisting(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := OpenExisting(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, store)
	assert.NoFileExists(t, path)

	created, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, created.Close())

	store, err = OpenExisting(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.NoError(t, store.Close())
}
