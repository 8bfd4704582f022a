package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/chmdznr/corpussync/internal/tools"
	"github.com/chmdznr/corpussync/pkg/models"
)

func socialPosts(c *cli.Context) error {
	postID := c.Args().First()
	if postID == "" {
		return fmt.Errorf("post id is required")
	}
	platform := strings.ToLower(c.String("platform"))

	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	kit, err := e.toolkit()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(c)
	defer cancel()

	posts, err := kit.SocialPosts(ctx, postID, platform, c.Int("count"))
	if err != nil {
		return err
	}
	for i, p := range posts {
		if i > 0 {
			fmt.Println("---")
		}
		fmt.Println(p)
	}

	if name := c.String("save"); name != "" {
		doc, err := kit.SaveOutput(ctx, name, strings.Join(posts, "\n\n---\n\n"))
		if err != nil {
			return err
		}
		fmt.Printf("\nSaved as %q (%s)\n", doc.Name, tools.GeneratedFileName(doc.Name))
	}
	return nil
}

func findQuotes(c *cli.Context) error {
	topic := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if topic == "" {
		return fmt.Errorf("topic is required")
	}

	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	kit, err := e.toolkit()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(c)
	defer cancel()

	quotes, err := kit.FindQuotes(ctx, topic, c.Int("limit"))
	if err != nil {
		return err
	}
	for _, q := range quotes {
		fmt.Printf("%q\n  %s", q.Text, q.Post)
		if q.Context != "" {
			fmt.Printf(" (%s)", q.Context)
		}
		fmt.Println()
	}
	return nil
}

const chatHelp = `Commands:
  /save <name>  save the last answer as a generated document
  /reset        forget the conversation so far
  /exit         quit`

// chat runs an interactive session. Each answer is appended to the history
// sent with the next question.
func chat(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	kit, err := e.toolkit()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(c)
	defer cancel()

	fmt.Println("Ask about your newsletter. /help for commands.")
	var (
		history []models.Turn
		last    string
	)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/exit" || line == "/quit":
			return nil
		case line == "/help":
			fmt.Println(chatHelp)
			continue
		case line == "/reset":
			history, last = nil, ""
			continue
		case strings.HasPrefix(line, "/save"):
			name := strings.TrimSpace(strings.TrimPrefix(line, "/save"))
			if name == "" || last == "" {
				fmt.Println("usage: /save <name> after an answer")
				continue
			}
			doc, err := kit.SaveOutput(ctx, name, last)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Printf("Saved as %q\n", doc.Name)
			continue
		}

		answer, err := kit.Chat(ctx, history, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Println(answer)
		history = append(history,
			models.Turn{Role: models.RoleUser, Text: line},
			models.Turn{Role: models.RoleModel, Text: answer},
		)
		last = answer
	}
}
