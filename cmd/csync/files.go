package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/chmdznr/corpussync/internal/db"
	"github.com/chmdznr/corpussync/internal/ingest"
	"github.com/chmdznr/corpussync/internal/tools"
	"github.com/chmdznr/corpussync/internal/watch"
	"github.com/chmdznr/corpussync/pkg/models"
)

func ingestArchive(c *cli.Context) error {
	archivePath := c.Args().First()
	if archivePath == "" {
		return fmt.Errorf("archive path is required")
	}

	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := signalContext(c)
	defer cancel()

	res, err := ingest.New(e.store, e.logger).IngestFile(ctx, archivePath)
	if err != nil {
		return err
	}

	fmt.Printf("Ingested %s\n", filepath.Base(archivePath))
	fmt.Printf("- Posts: %d (%d published)\n", res.Posts, res.Published)
	fmt.Printf("- Subscribers: %d\n", res.Subscribers)
	fmt.Printf("- Opens: %d, deliveries: %d\n", res.Opens, res.Deliveries)
	fmt.Printf("- Files: %d changed, %d unchanged, %d removed\n", res.FilesChanged, res.FilesUnchanged, res.FilesRemoved)

	if !c.Bool("sync") {
		return nil
	}
	return runSync(ctx, e, 0)
}

// addFiles registers regular files; directories are walked and their
// files keep their path relative to the directory.
func addFiles(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one path is required")
	}
	prefix := strings.Trim(filepath.ToSlash(c.String("prefix")), "/")

	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	var inputs []db.FileInput
	for _, root := range c.Args().Slice() {
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			rel := d.Name()
			if p != root {
				if rel, err = filepath.Rel(root, p); err != nil {
					return err
				}
			}
			content, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			inputs = append(inputs, db.FileInput{
				Name:     path.Join(prefix, filepath.ToSlash(rel)),
				MimeType: watch.MimeType(p),
				Content:  content,
			})
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", root, err)
		}
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no files found")
	}

	_, changed, err := e.store.RegisterFiles(c.Context, inputs, time.Now())
	if err != nil {
		return err
	}
	e.logger.Info("files registered", zap.Int("files", len(inputs)), zap.Int("changed", changed))
	fmt.Printf("Registered %d files (%d changed)\n", len(inputs), changed)
	return nil
}

func removeFiles(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one file name is required")
	}

	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	for _, name := range c.Args().Slice() {
		if err := e.store.RemoveFile(c.Context, name); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				fmt.Printf("%s: not registered\n", name)
				continue
			}
			return err
		}
		fmt.Printf("Removed %s\n", name)
	}
	fmt.Println("Run 'csync sync' to remove them from the remote registry")
	return nil
}

func listFiles(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	files, err := e.store.ListFiles(c.Context)
	if err != nil {
		return err
	}
	cached, err := e.store.ListRemoteFiles(c.Context)
	if err != nil {
		return err
	}
	byName := lo.KeyBy(cached, func(r models.RemoteFile) string { return r.DisplayName })

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Name", "Type", "Size", "Modified", "Remote"})
	table.SetAutoFormatHeaders(false)
	for _, f := range files {
		state := "pending"
		if r, ok := byName[f.Name]; ok {
			state = "synced"
			if f.Modified.After(r.UpdatedAt) {
				state = "stale"
			}
		}
		table.Append([]string{
			f.Name,
			f.MimeType,
			humanize.Bytes(uint64(f.Size)),
			humanize.Time(f.Modified),
			state,
		})
	}
	table.Render()
	return nil
}

func addContext(c *cli.Context) error {
	filePath := c.Args().First()
	if filePath == "" {
		return fmt.Errorf("file path is required")
	}
	name := c.String("name")
	if name == "" {
		name = filepath.Base(filePath)
	}
	kind := watch.KindFor(name)
	if c.IsSet("kind") {
		kind = models.ContextKind(strings.ToLower(c.String("kind")))
		if !kind.Valid() || kind == models.ContextGenerated {
			return fmt.Errorf("unknown kind %q: want brand, author or instructions", c.String("kind"))
		}
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	now := time.Now().UTC()
	doc, _, err := e.store.SaveContextFile(c.Context, models.ContextDoc{
		Name:    name,
		Kind:    kind,
		Content: string(content),
		Created: now,
	}, db.FileInput{
		Name:     watch.FileName(name),
		MimeType: watch.MimeType(name),
		Content:  content,
	}, now)
	if err != nil {
		return err
	}

	fmt.Printf("Saved %s document %q (%s)\n", doc.Kind, doc.Name, humanize.Bytes(uint64(len(content))))
	return nil
}

func listContext(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	kinds := lo.Map(c.StringSlice("kind"), func(k string, _ int) models.ContextKind {
		return models.ContextKind(strings.ToLower(k))
	})
	docs, err := e.store.ListContextDocs(c.Context, kinds...)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Name", "Kind", "Size", "Created"})
	table.SetAutoFormatHeaders(false)
	for _, d := range docs {
		table.Append([]string{
			d.Name,
			string(d.Kind),
			humanize.Bytes(uint64(len(d.Content))),
			humanize.Time(d.Created),
		})
	}
	table.Render()
	return nil
}

func removeContext(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("document name is required")
	}

	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	// context files and saved tool outputs live under different prefixes
	if err := e.store.RemoveContextFiles(c.Context, name, watch.FileName(name), tools.GeneratedFileName(name)); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", name)
	return nil
}
