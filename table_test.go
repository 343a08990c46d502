package bookden_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookden"
)

func newTestTable(t *testing.T, dataFields ...string) *bookden.Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, bookden.CreateTable(path, dataFields))
	tbl, err := bookden.OpenTable(path)
	require.NoError(t, err)
	return tbl
}

func TestCreateTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.db")
	require.NoError(t, bookden.CreateTable(path, []string{"title", "qty"}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id\tdate_created\tdate_updated\ttitle\tqty\n", string(b))

	err = bookden.CreateTable(path, []string{"title"})
	assert.ErrorIs(t, err, bookden.ErrConflict)

	err = bookden.CreateTable(filepath.Join(t.TempDir(), "empty.db"), nil)
	assert.ErrorIs(t, err, bookden.ErrValidation)
}

func TestOpenTable(t *testing.T) {
	_, err := bookden.OpenTable(filepath.Join(t.TempDir(), "missing.db"))
	assert.ErrorIs(t, err, bookden.ErrNotFound)

	bad := filepath.Join(t.TempDir(), "bad.db")
	require.NoError(t, os.WriteFile(bad, []byte("name\tqty\n"), 0o644))
	_, err = bookden.OpenTable(bad)
	assert.ErrorIs(t, err, bookden.ErrSchema)

	empty := filepath.Join(t.TempDir(), "empty.db")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = bookden.OpenTable(empty)
	assert.ErrorIs(t, err, bookden.ErrSchema)

	tbl := newTestTable(t, "title", "qty")
	assert.Equal(t, []string{"title", "qty"}, tbl.Schema().DataFields())
	assert.Equal(t, []string{"id", "date_created", "date_updated", "title", "qty"}, tbl.Schema().Fields())
}

func TestAddRowRoundTrip(t *testing.T) {
	tbl := newTestTable(t, "title", "qty")

	id, err := tbl.AddRow(map[string]string{"title": "Dune", "qty": "10"})
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	id, err = tbl.AddRow(map[string]string{"title": "Neuromancer", "qty": "3"})
	require.NoError(t, err)
	assert.Equal(t, 2, id)

	cur := tbl.Scan()
	row, ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, row.ID)
	title, err := row.Get("title")
	require.NoError(t, err)
	assert.Equal(t, "Dune", title)
	qty, err := row.Int("qty")
	require.NoError(t, err)
	assert.Equal(t, 10, qty)
	assert.False(t, row.Created.IsZero())
	assert.False(t, row.Updated.IsZero())

	row, ok, err = cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, row.ID)

	_, ok, err = cur.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddRowValidation(t *testing.T) {
	tbl := newTestTable(t, "title", "qty")

	_, err := tbl.AddRow(map[string]string{"title": "Dune"})
	assert.ErrorIs(t, err, bookden.ErrValidation)

	_, err = tbl.AddRow(map[string]string{"title": "Dune", "qty": ""})
	assert.ErrorIs(t, err, bookden.ErrValidation)

	_, err = tbl.AddRow(map[string]string{"title": "Dune", "qty": "1", "author": "Herbert"})
	assert.ErrorIs(t, err, bookden.ErrUnknownField)

	_, err = tbl.AddRow(map[string]string{"title": "Dune", "qty": "1", "id": "99"})
	assert.ErrorIs(t, err, bookden.ErrValidation)
}

func TestAddRowSanitizesSeparators(t *testing.T) {
	tbl := newTestTable(t, "title", "qty")

	_, err := tbl.AddRow(map[string]string{"title": "Dune\tMessiah\n", "qty": "1"})
	require.NoError(t, err)

	row, ok, err := tbl.Scan().Next()
	require.NoError(t, err)
	require.True(t, ok)
	title, err := row.Get("title")
	require.NoError(t, err)
	assert.Equal(t, "Dune Messiah ", title)
}

func TestUpdateRow(t *testing.T) {
	tbl := newTestTable(t, "title", "qty")
	id, err := tbl.AddRow(map[string]string{"title": "Dune", "qty": "10"})
	require.NoError(t, err)
	_, err = tbl.AddRow(map[string]string{"title": "Neuromancer", "qty": "3"})
	require.NoError(t, err)

	require.NoError(t, tbl.UpdateRow(id, map[string]string{"qty": "12"}))

	row, ok, err := tbl.Scan().NextWhere("title", "Dune")
	require.NoError(t, err)
	require.True(t, ok)
	qty, err := row.Int("qty")
	require.NoError(t, err)
	assert.Equal(t, 12, qty)

	// The untouched row keeps its values.
	row, ok, err = tbl.Scan().NextWhere("title", "Neuromancer")
	require.NoError(t, err)
	require.True(t, ok)
	qty, err = row.Int("qty")
	require.NoError(t, err)
	assert.Equal(t, 3, qty)
}

func TestUpdateRowNotFoundLeavesFileIntact(t *testing.T) {
	tbl := newTestTable(t, "title", "qty")
	_, err := tbl.AddRow(map[string]string{"title": "Dune", "qty": "10"})
	require.NoError(t, err)

	before, err := os.ReadFile(tbl.Path())
	require.NoError(t, err)

	err = tbl.UpdateRow(42, map[string]string{"qty": "1"})
	assert.ErrorIs(t, err, bookden.ErrNotFound)

	after, err := os.ReadFile(tbl.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDeleteRow(t *testing.T) {
	tbl := newTestTable(t, "title", "qty")
	id, err := tbl.AddRow(map[string]string{"title": "Dune", "qty": "10"})
	require.NoError(t, err)
	_, err = tbl.AddRow(map[string]string{"title": "Neuromancer", "qty": "3"})
	require.NoError(t, err)

	require.NoError(t, tbl.DeleteRow(id))

	_, ok, err := tbl.Scan().NextWhere("title", "Dune")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = tbl.Scan().NextWhere("title", "Neuromancer")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, tbl.DeleteRow(id), bookden.ErrNotFound)
}

func TestConcurrentAddRowAssignsDistinctIDs(t *testing.T) {
	tbl := newTestTable(t, "title", "qty")

	const workers = 8
	ids := make([]int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := tbl.AddRow(map[string]string{
				"title": fmt.Sprintf("book-%d", i),
				"qty":   "1",
			})
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, workers)
	for _, id := range ids {
		assert.False(t, seen[id], "id %d assigned twice", id)
		seen[id] = true
	}
}

func TestCursorSkipsRowsBehindPosition(t *testing.T) {
	tbl := newTestTable(t, "title", "qty")
	_, err := tbl.AddRow(map[string]string{"title": "a", "qty": "1"})
	require.NoError(t, err)
	id2, err := tbl.AddRow(map[string]string{"title": "b", "qty": "1"})
	require.NoError(t, err)

	cur := tbl.Scan()
	row, ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, row.ID)

	// A rewrite mid-scan does not disturb the cursor position.
	require.NoError(t, tbl.UpdateRow(id2, map[string]string{"qty": "5"}))

	row, ok, err = cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, row.ID)
	qty, err := row.Int("qty")
	require.NoError(t, err)
	assert.Equal(t, 5, qty)
}

func TestCursorFilterValidation(t *testing.T) {
	tbl := newTestTable(t, "title", "qty")
	_, _, err := tbl.Scan().NextWhere("author", "x")
	assert.ErrorIs(t, err, bookden.ErrUnknownField)
	_, _, err = tbl.Scan().NextWhere("", "x")
	assert.ErrorIs(t, err, bookden.ErrValidation)
}
