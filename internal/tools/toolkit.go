// Package tools builds AI content prompts from the local corpus and runs them
// against a Generator.
package tools

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/chmdznr/corpussync/internal/db"
	"github.com/chmdznr/corpussync/internal/ingest"
	"github.com/chmdznr/corpussync/pkg/models"
	"github.com/chmdznr/corpussync/pkg/utils"
)

// ErrEmptyResponse is returned when the generator answers with nothing usable.
var ErrEmptyResponse = errors.New("generator returned an empty response")

const (
	generatedDir   = "generated/"
	postSeparator  = "---"
	maxSocialPosts = 10
	maxQuotes      = 50
)

// platformLimits caps post length per platform; 0 means no hard limit.
var platformLimits = map[string]int{
	"x":         280,
	"bluesky":   300,
	"threads":   500,
	"linkedin":  3000,
	"instagram": 2200,
	"facebook":  0,
	"notes":     0,
}

// Platforms lists the supported social platforms.
func Platforms() []string {
	names := lo.Keys(platformLimits)
	sort.Strings(names)
	return names
}

// Store is the slice of the database the toolkit reads and writes.
type Store interface {
	GetPost(ctx context.Context, id string) (models.Post, error)
	GetFile(ctx context.Context, name string) (models.LocalFile, error)
	ListRemoteFiles(ctx context.Context) ([]models.RemoteFile, error)
	ListContextDocs(ctx context.Context, kinds ...models.ContextKind) ([]models.ContextDoc, error)
	SaveContextFile(ctx context.Context, doc models.ContextDoc, file db.FileInput, now time.Time) (models.ContextDoc, bool, error)
}

// Options configures a Toolkit.
type Options struct {
	Temperature float64
	Logger      *zap.Logger
}

// Toolkit runs the content tools.
type Toolkit struct {
	store       Store
	gen         Generator
	temperature float64
	logger      *zap.Logger
	now         func() time.Time
}

// New creates a Toolkit.
func New(store Store, gen Generator, opts Options) *Toolkit {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Toolkit{
		store:       store,
		gen:         gen,
		temperature: opts.Temperature,
		logger:      logger.Named("tools"),
		now:         time.Now,
	}
}

// Quote is a passage the model found in the corpus.
type Quote struct {
	Text    string `json:"quote"`
	Post    string `json:"post"`
	Context string `json:"context"`
}

// SocialPosts drafts count posts for platform promoting the given post.
func (t *Toolkit) SocialPosts(ctx context.Context, postID, platform string, count int) ([]string, error) {
	platform = strings.ToLower(strings.TrimSpace(platform))
	limit, ok := platformLimits[platform]
	if !ok {
		return nil, fmt.Errorf("unknown platform %q (supported: %s)", platform, strings.Join(Platforms(), ", "))
	}
	count = clamp(count, 1, maxSocialPosts)

	post, err := t.store.GetPost(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to load post %s: %w", postID, err)
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Write %d distinct %s posts promoting the newsletter post %q", count, platform, post.Title)
	if post.Subtitle != "" {
		fmt.Fprintf(&prompt, " (%s)", post.Subtitle)
	}
	prompt.WriteString(".\n")
	if limit > 0 {
		fmt.Fprintf(&prompt, "Each post must be at most %d characters.\n", limit)
	}
	if post.Delivered > 0 {
		fmt.Fprintf(&prompt, "It reached %d inboxes with a %s unique open rate; lean on what made it resonate.\n",
			post.Delivered, utils.FormatPercent(post.UniqueOpens, post.Delivered))
	}
	fmt.Fprintf(&prompt, "Separate posts with a line containing only %s. Output the posts and nothing else.\n", postSeparator)

	files, err := t.attach(ctx, ingest.PostFileName(post.ID))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		// not synced yet, inline the body instead
		body, err := t.store.GetFile(ctx, ingest.PostFileName(post.ID))
		if err != nil {
			return nil, fmt.Errorf("post %s has no synced or local body: %w", post.ID, err)
		}
		fmt.Fprintf(&prompt, "\nPost body:\n%s\n", body.Content)
	}

	out, err := t.generate(ctx, nil, prompt.String(), files)
	if err != nil {
		return nil, err
	}
	posts := splitPosts(out)
	if len(posts) == 0 {
		return nil, ErrEmptyResponse
	}
	if len(posts) > count {
		posts = posts[:count]
	}
	return posts, nil
}

// FindQuotes searches the corpus for passages about topic.
func (t *Toolkit) FindQuotes(ctx context.Context, topic string, limit int) ([]Quote, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	limit = clamp(limit, 1, maxQuotes)

	files, err := t.attach(ctx)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no synced corpus files; run sync first")
	}

	prompt := fmt.Sprintf(`Find up to %d verbatim quotes from the attached posts that relate to %q.
Prefer passages that would work as callbacks in a new post.
Answer with a JSON array only, each element {"quote": "...", "post": "<file name>", "context": "<one sentence>"}.`, limit, topic)

	out, err := t.generate(ctx, nil, prompt, files)
	if err != nil {
		return nil, err
	}
	quotes := parseQuotes(out)
	if len(quotes) == 0 {
		return nil, ErrEmptyResponse
	}
	if len(quotes) > limit {
		quotes = quotes[:limit]
	}
	return quotes, nil
}

// Chat answers message given the previous turns, with the whole corpus attached.
func (t *Toolkit) Chat(ctx context.Context, history []models.Turn, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("message is required")
	}
	files, err := t.attach(ctx)
	if err != nil {
		return "", err
	}
	return t.generate(ctx, history, message, files)
}

// SaveOutput keeps generated text as a context document and registers it as
// a local file so it syncs with the corpus.
func (t *Toolkit) SaveOutput(ctx context.Context, name, text string) (models.ContextDoc, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.ContextDoc{}, fmt.Errorf("output name is required")
	}
	if strings.TrimSpace(text) == "" {
		return models.ContextDoc{}, ErrEmptyResponse
	}
	now := t.now().UTC()
	doc, _, err := t.store.SaveContextFile(ctx, models.ContextDoc{
		Name:    name,
		Kind:    models.ContextGenerated,
		Content: text,
		Created: now,
	}, db.FileInput{
		Name:     GeneratedFileName(name),
		MimeType: "text/markdown",
		Content:  []byte(text),
	}, now)
	if err != nil {
		return models.ContextDoc{}, fmt.Errorf("failed to save output: %w", err)
	}
	t.logger.Info("saved generated output", zap.String("name", name), zap.Int("bytes", len(text)))
	return doc, nil
}

var (
	unsafeName    = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
	separatorLine = regexp.MustCompile(`(?m)^\s*` + regexp.QuoteMeta(postSeparator) + `\s*$`)
)

// GeneratedFileName is the local file name of a saved output.
func GeneratedFileName(name string) string {
	base := strings.Trim(unsafeName.ReplaceAllString(strings.ToLower(name), "-"), "-.")
	if base == "" {
		base = "output"
	}
	if path.Ext(base) == "" {
		base += ".md"
	}
	return generatedDir + base
}

func (t *Toolkit) generate(ctx context.Context, history []models.Turn, prompt string, files []models.RemoteFile) (string, error) {
	system, err := t.systemInstruction(ctx)
	if err != nil {
		return "", err
	}
	t.logger.Debug("generating", zap.Int("files", len(files)), zap.Int("history", len(history)))
	out, err := t.gen.Generate(ctx, models.GenerateRequest{
		System:      system,
		History:     history,
		Prompt:      prompt,
		Files:       files,
		Temperature: t.temperature,
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

// systemInstruction concatenates the brand, author and instruction documents.
func (t *Toolkit) systemInstruction(ctx context.Context) (string, error) {
	docs, err := t.store.ListContextDocs(ctx, models.ContextBrand, models.ContextAuthor, models.ContextInstructions)
	if err != nil {
		return "", fmt.Errorf("failed to load context documents: %w", err)
	}
	var sb strings.Builder
	sb.WriteString("You are a writing assistant for a newsletter author. Ground every answer in the attached posts.\n")
	for _, d := range docs {
		fmt.Fprintf(&sb, "\n## %s (%s)\n%s\n", d.Name, d.Kind, strings.TrimSpace(d.Content))
	}
	return sb.String(), nil
}

// attach returns the cached remote handles for names, or every post body
// when names is empty.
func (t *Toolkit) attach(ctx context.Context, names ...string) ([]models.RemoteFile, error) {
	remote, err := t.store.ListRemoteFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load remote listing: %w", err)
	}
	if len(names) == 0 {
		return lo.Filter(remote, func(f models.RemoteFile, _ int) bool {
			return strings.HasPrefix(f.DisplayName, "posts/") && strings.HasSuffix(f.DisplayName, ".txt")
		}), nil
	}
	return lo.Filter(remote, func(f models.RemoteFile, _ int) bool {
		return lo.Contains(names, f.DisplayName)
	}), nil
}

func splitPosts(out string) []string {
	parts := separatorLine.Split(out, -1)
	return lo.FilterMap(parts, func(p string, _ int) (string, bool) {
		p = strings.TrimSpace(p)
		return p, p != ""
	})
}

// parseQuotes reads the JSON array out of a reply, tolerating code fences
// and prose around it.
func parseQuotes(out string) []Quote {
	start := strings.Index(out, "[")
	end := strings.LastIndex(out, "]")
	if start < 0 || end <= start {
		return nil
	}
	raw := out[start : end+1]
	if !gjson.Valid(raw) {
		return nil
	}
	var quotes []Quote
	gjson.Parse(raw).ForEach(func(_, v gjson.Result) bool {
		q := Quote{
			Text:    strings.TrimSpace(v.Get("quote").String()),
			Post:    v.Get("post").String(),
			Context: v.Get("context").String(),
		}
		if q.Text != "" {
			quotes = append(quotes, q)
		}
		return true
	})
	return quotes
}

func clamp(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
