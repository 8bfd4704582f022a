// Package report aggregates newsletter analytics and exports them to Excel.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/xuri/excelize/v2"

	"github.com/chmdznr/corpussync/pkg/models"
)

// DefaultTopN is how many posts Summarize ranks.
const DefaultTopN = 5

// Summary holds corpus-wide totals.
type Summary struct {
	Posts             int
	PublishedPosts    int
	Subscribers       int
	ActiveSubscribers int
	PaidSubscribers   int
	Delivered         int
	Opens             int
	UniqueOpens       int
	AvgOpenRate       float64
	AvgWordCount      float64
	FirstPost         time.Time
	LastPost          time.Time
	TopPosts          []models.Post
}

// Summarize computes totals over posts and subscribers. AvgOpenRate is the
// mean of per-post rates over posts that were delivered at least once.
func Summarize(posts []models.Post, subscribers []models.Subscriber) Summary {
	s := Summary{Posts: len(posts), Subscribers: len(subscribers)}

	var rateSum float64
	var rated, words, counted int
	for _, p := range posts {
		if p.Published {
			s.PublishedPosts++
		}
		s.Delivered += p.Delivered
		s.Opens += p.Opens
		s.UniqueOpens += p.UniqueOpens
		if p.Delivered > 0 {
			rateSum += p.OpenRate()
			rated++
		}
		if p.WordCount > 0 {
			words += p.WordCount
			counted++
		}
		if !p.PostDate.IsZero() {
			if s.FirstPost.IsZero() || p.PostDate.Before(s.FirstPost) {
				s.FirstPost = p.PostDate
			}
			if p.PostDate.After(s.LastPost) {
				s.LastPost = p.PostDate
			}
		}
	}
	if rated > 0 {
		s.AvgOpenRate = rateSum / float64(rated)
	}
	if counted > 0 {
		s.AvgWordCount = float64(words) / float64(counted)
	}

	s.ActiveSubscribers = lo.CountBy(subscribers, func(sub models.Subscriber) bool { return sub.Active })
	s.PaidSubscribers = lo.CountBy(subscribers, func(sub models.Subscriber) bool {
		return sub.Active && !sub.FirstPaymentAt.IsZero()
	})

	s.TopPosts = TopByOpenRate(posts, DefaultTopN)
	return s
}

// TopByOpenRate returns up to n delivered posts, best open rate first.
// Ties go to the post with more deliveries.
func TopByOpenRate(posts []models.Post, n int) []models.Post {
	delivered := lo.Filter(posts, func(p models.Post, _ int) bool { return p.Delivered > 0 })
	sort.SliceStable(delivered, func(i, j int) bool {
		ri, rj := delivered[i].OpenRate(), delivered[j].OpenRate()
		if ri != rj {
			return ri > rj
		}
		return delivered[i].Delivered > delivered[j].Delivered
	})
	if len(delivered) > n {
		delivered = delivered[:n]
	}
	return delivered
}

var postHeader = []interface{}{
	"ID", "Title", "Type", "Audience", "Published", "Post date", "Word count",
	"Delivered", "Opens", "Unique opens", "Open rate",
}

// WriteXLSX writes a workbook with a Posts sheet and a Summary sheet.
func WriteXLSX(w io.Writer, summary Summary, posts []models.Post) error {
	f := excelize.NewFile()
	defer f.Close()

	const postsSheet, summarySheet = "Posts", "Summary"
	if err := f.SetSheetName("Sheet1", postsSheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	if err := f.SetSheetRow(postsSheet, "A1", &postHeader); err != nil {
		return err
	}
	percent, err := f.NewStyle(&excelize.Style{NumFmt: 10})
	if err != nil {
		return err
	}
	for i, p := range posts {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			p.ID, p.Title, p.Type, p.Audience, p.Published, dateCell(p.PostDate), p.WordCount,
			p.Delivered, p.Opens, p.UniqueOpens, p.OpenRate(),
		}
		if err := f.SetSheetRow(postsSheet, cell, &row); err != nil {
			return err
		}
	}
	if len(posts) > 0 {
		last := fmt.Sprintf("K%d", len(posts)+1)
		if err := f.SetCellStyle(postsSheet, "K2", last, percent); err != nil {
			return err
		}
	}
	if err := f.SetPanes(postsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	rows := [][]interface{}{
		{"Posts", summary.Posts},
		{"Published posts", summary.PublishedPosts},
		{"Subscribers", summary.Subscribers},
		{"Active subscribers", summary.ActiveSubscribers},
		{"Paid subscribers", summary.PaidSubscribers},
		{"Delivered", summary.Delivered},
		{"Opens", summary.Opens},
		{"Unique opens", summary.UniqueOpens},
		{"Average open rate", summary.AvgOpenRate},
		{"Average word count", summary.AvgWordCount},
		{"First post", dateCell(summary.FirstPost)},
		{"Last post", dateCell(summary.LastPost)},
	}
	for i, r := range rows {
		r := r
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &r); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(summarySheet, "B9", "B9", percent); err != nil {
		return err
	}

	top := len(rows) + 2
	if err := f.SetCellValue(summarySheet, fmt.Sprintf("A%d", top), "Top posts by open rate"); err != nil {
		return err
	}
	for i, p := range summary.TopPosts {
		r := []interface{}{p.Title, p.OpenRate(), p.Delivered}
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", top+1+i), &r); err != nil {
			return err
		}
	}
	if n := len(summary.TopPosts); n > 0 {
		if err := f.SetCellStyle(summarySheet, fmt.Sprintf("B%d", top+1), fmt.Sprintf("B%d", top+n), percent); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// dateCell leaves unknown dates blank instead of writing the zero time.
func dateCell(t time.Time) interface{} {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
