package export

import (
	"bytes"
	"testing"
	"time"

	"marketplace/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleReviews() []*models.Review {
	comment := "Fixed the leak quickly"
	created := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	return []*models.Review{
		{ID: 1, BookingID: 10, ProviderID: 2, ClientID: 1, Rating: 5, Comment: &comment, CreatedAt: created, IsVisible: true},
		{ID: 2, BookingID: 11, ProviderID: 2, ClientID: 3, Rating: 1, CreatedAt: created, IsVisible: false, AdminModerated: true},
	}
}

func TestWriteReviews(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)
	require.NoError(t, WriteReviews(&buf, sampleReviews(), now))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(reviewsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Contains(t, rows[0][0], "2026-04-06 09:00")
	assert.Equal(t, reviewColumns, rows[1])
	assert.Equal(t, []string{"1", "10", "2", "1", "5", "Fixed the leak quickly", "2026-03-01 10:30", "yes", "no", "no"}, rows[2])
	assert.Equal(t, "no", rows[3][7])
	assert.Equal(t, "yes", rows[3][9])
}

func TestSaveReviews(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

	path, err := SaveReviews(dir, nil, now)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Contains(t, path, "reviews_20260406_090000.xlsx")

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(reviewsSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 2, "title and header only")
}
