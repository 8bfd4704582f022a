package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/eiannone/keyboard"
	"github.com/urfave/cli/v2"

	"github.com/chmdznr/corpussync/internal/backup"
)

func exportBackup(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	out := c.String("out")
	if out == "" {
		out = fmt.Sprintf("%s-%s.zip", e.cfg.Project, time.Now().Format("20060102-150405"))
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	w := bufio.NewWriter(f)
	sum, err := backup.Export(c.Context, e.store, e.cfg.Project, w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out)
		return err
	}

	info, err := os.Stat(out)
	if err != nil {
		return err
	}
	fmt.Printf("Backup written to %s (%s)\n", out, humanize.Bytes(uint64(info.Size())))
	printBackupSummary(sum)
	return nil
}

func importBackup(c *cli.Context) error {
	in := c.Args().First()
	if in == "" {
		return fmt.Errorf("backup path is required")
	}
	f, err := os.Open(in)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	doc, err := backup.Read(f, info.Size())
	if err != nil {
		return err
	}

	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	fmt.Printf("Backup of project %q from %s\n", doc.Project, humanize.Time(doc.Created))
	if !c.Bool("yes") {
		ok, err := confirm(fmt.Sprintf("Replace everything in project %q?", e.cfg.Project))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Restore cancelled")
			return nil
		}
	}

	sum, err := backup.Import(c.Context, e.store, f, info.Size())
	if err != nil {
		return err
	}
	fmt.Println("Restore complete")
	printBackupSummary(sum)
	fmt.Println("Run 'csync sync' to bring the remote registry in line")
	return nil
}

func printBackupSummary(s backup.Summary) {
	fmt.Printf("- Files: %d\n", s.Files)
	fmt.Printf("- Posts: %d\n", s.Posts)
	fmt.Printf("- Subscribers: %d\n", s.Subscribers)
	fmt.Printf("- Context documents: %d\n", s.ContextDocs)
}

// confirm reads a single y/n key press.
func confirm(question string) (bool, error) {
	fmt.Printf("%s [y/N] ", question)
	char, key, err := keyboard.GetSingleKey()
	if err != nil {
		return false, fmt.Errorf("failed to read key: %w", err)
	}
	fmt.Println()
	if key == keyboard.KeyCtrlC || key == keyboard.KeyEsc {
		return false, nil
	}
	return strings.EqualFold(string(char), "y"), nil
}
