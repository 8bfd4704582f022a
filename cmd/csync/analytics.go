package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/chmdznr/corpussync/internal/report"
	"github.com/chmdznr/corpussync/pkg/utils"
)

func showStats(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	posts, err := e.store.ListPosts(c.Context)
	if err != nil {
		return err
	}
	subs, err := e.store.ListSubscribers(c.Context)
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		fmt.Println("No posts yet, run 'csync ingest <export.zip>' first")
		return nil
	}
	s := report.Summarize(posts, subs)

	fmt.Printf("Posts: %d (%d published)\n", s.Posts, s.PublishedPosts)
	if !s.FirstPost.IsZero() {
		fmt.Printf("Publishing since: %s (%s)\n", s.FirstPost.Format("2006-01-02"), humanize.Time(s.FirstPost))
		fmt.Printf("Latest post: %s\n", humanize.Time(s.LastPost))
	}
	fmt.Printf("Subscribers: %s (%s active, %s paid)\n",
		humanize.Comma(int64(s.Subscribers)), humanize.Comma(int64(s.ActiveSubscribers)), humanize.Comma(int64(s.PaidSubscribers)))
	fmt.Printf("Emails delivered: %s\n", humanize.Comma(int64(s.Delivered)))
	fmt.Printf("Unique opens: %s\n", humanize.Comma(int64(s.UniqueOpens)))
	fmt.Printf("Average open rate: %.1f%%\n", s.AvgOpenRate*100)
	fmt.Printf("Average word count: %.0f\n", s.AvgWordCount)

	top := report.TopByOpenRate(posts, c.Int("top"))
	if len(top) == 0 {
		return nil
	}
	fmt.Println()
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Post", "Date", "Delivered", "Open rate"})
	table.SetAutoFormatHeaders(false)
	for i, p := range top {
		date := ""
		if !p.PostDate.IsZero() {
			date = p.PostDate.Format("2006-01-02")
		}
		table.Append([]string{
			strconv.Itoa(i + 1),
			p.Title,
			date,
			humanize.Comma(int64(p.Delivered)),
			utils.FormatPercent(p.UniqueOpens, p.Delivered),
		})
	}
	table.Render()
	return nil
}

func writeReport(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	posts, err := e.store.ListPosts(c.Context)
	if err != nil {
		return err
	}
	subs, err := e.store.ListSubscribers(c.Context)
	if err != nil {
		return err
	}

	out := c.String("out")
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	start := time.Now()
	if err := report.WriteXLSX(f, report.Summarize(posts, subs), posts); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d posts) in %s\n", out, len(posts), utils.FormatDuration(time.Since(start)))
	return nil
}
