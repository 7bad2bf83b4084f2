package repositories

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvnkishore11/agentickanban/internal/db"
)

func newTestRepos(t *testing.T) (*Repositories, func()) {
	t.Helper()
	tdb, err := db.NewTest(t)
	require.NoError(t, err)
	repos := New(tdb, false, nil)
	return repos, func() { _ = tdb.Close() }
}

func TestIssueRepo_AllocateMonotonic(t *testing.T) {
	repos, cleanup := newTestRepos(t)
	defer cleanup()

	first, err := repos.Issues.Allocate("first issue", "proj", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	second, err := repos.Issues.Allocate("second issue", "proj", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), second)
}

func TestIssueRepo_AllocateConcurrentUnique(t *testing.T) {
	repos, cleanup := newTestRepos(t)
	defer cleanup()

	const n = 20
	numbers := make([]int64, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			numbers[i], errs[i] = repos.Issues.Allocate("concurrent", "proj", "")
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[numbers[i]], "issue number %d allocated twice", numbers[i])
		seen[numbers[i]] = true
	}
	assert.Len(t, seen, n)
}

func TestIssueRepo_GetAndList(t *testing.T) {
	repos, cleanup := newTestRepos(t)
	defer cleanup()

	num, err := repos.Issues.Allocate("listable", "proj-a", "adw-1")
	require.NoError(t, err)

	row, err := repos.Issues.Get(num)
	require.NoError(t, err)
	assert.Equal(t, "listable", row.IssueTitle)
	assert.Equal(t, "adw-1", row.ADWID)

	rows, err := repos.Issues.List("proj-a", false)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, num, rows[0].IssueNumber)
}

func TestIssueRepo_DeleteSoftAndPermanent(t *testing.T) {
	repos, cleanup := newTestRepos(t)
	defer cleanup()

	num, err := repos.Issues.Allocate("deletable", "", "")
	require.NoError(t, err)

	require.NoError(t, repos.Issues.Delete(num, false))
	_, err = repos.Issues.Get(num)
	assert.Error(t, err)

	rows, err := repos.Issues.List("", true)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotNil(t, rows[0].DeletedAt)

	require.NoError(t, repos.Issues.Delete(num, true))
	rows, err = repos.Issues.List("", true)
	require.NoError(t, err)
	assert.Len(t, rows, 0)
}

func TestIssueRepo_DeleteMissing(t *testing.T) {
	repos, cleanup := newTestRepos(t)
	defer cleanup()

	err := repos.Issues.Delete(999, false)
	assert.Error(t, err)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}
