// Package export renders moderation reports as Excel workbooks.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"marketplace/internal/models"

	"github.com/xuri/excelize/v2"
)

const reviewsSheet = "Reviews"

var reviewColumns = []string{
	"ID", "Booking", "Provider", "Client", "Rating", "Comment", "Created", "Visible", "Anonymous", "Moderated",
}

// WriteReviews writes an xlsx report of reviews to w.
func WriteReviews(w io.Writer, reviews []*models.Review, generatedAt time.Time) error {
	f, err := buildReviewsFile(reviews, generatedAt)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// SaveReviews stores the report under dir and returns its path.
func SaveReviews(dir string, reviews []*models.Review, generatedAt time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	f, err := buildReviewsFile(reviews, generatedAt)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(dir, fmt.Sprintf("reviews_%s.xlsx", generatedAt.UTC().Format("20060102_150405")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}
	return path, nil
}

func buildReviewsFile(reviews []*models.Review, generatedAt time.Time) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(reviewsSheet)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	lastCol, _ := excelize.ColumnNumberToName(len(reviewColumns))

	_ = f.SetCellValue(reviewsSheet, "A1", fmt.Sprintf("Reviews report, generated %s UTC",
		generatedAt.UTC().Format("2006-01-02 15:04")))
	_ = f.MergeCell(reviewsSheet, "A1", lastCol+"1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(reviewsSheet, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, title := range reviewColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(reviewsSheet, cell, title)
	}
	_ = f.SetCellStyle(reviewsSheet, "A2", lastCol+"2", headerStyle)

	// hidden reviews are highlighted so moderators spot them
	hiddenStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FCE4D6"}, Pattern: 1},
	})

	for i, r := range reviews {
		row := i + 3
		comment := ""
		if r.Comment != nil {
			comment = *r.Comment
		}
		values := []interface{}{
			r.ID, r.BookingID, r.ProviderID, r.ClientID, r.Rating, comment,
			r.CreatedAt.UTC().Format("2006-01-02 15:04"), yesNo(r.IsVisible), yesNo(r.IsAnonymous), yesNo(r.AdminModerated),
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(reviewsSheet, cell, &values); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write row %d: %w", row, err)
		}
		if !r.IsVisible {
			end, _ := excelize.CoordinatesToCellName(len(reviewColumns), row)
			_ = f.SetCellStyle(reviewsSheet, cell, end, hiddenStyle)
		}
	}

	_ = f.SetColWidth(reviewsSheet, "A", "E", 10)
	_ = f.SetColWidth(reviewsSheet, "F", "F", 50)
	_ = f.SetColWidth(reviewsSheet, "G", "G", 18)
	_ = f.SetColWidth(reviewsSheet, "H", lastCol, 12)

	return f, nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
