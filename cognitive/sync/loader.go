package sync

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/engramdb/engram/cognitive"
)

// Candidate is one memory produced by a loader. ParentKey refers to the Key
// of an earlier candidate in the same load, letting loaders express
// hierarchy before any IDs exist.
type Candidate struct {
	Key       string
	ParentKey string
	Text      string
	Level     cognitive.Level
}

// Loader turns a source path into memory candidates.
type Loader interface {
	// Name identifies the loader in logs.
	Name() string

	// Supports is the validation probe: it must be cheap and side-effect
	// free.
	Supports(path string) bool

	// Load yields candidates in an order where parents precede children.
	Load(ctx context.Context, path string) ([]Candidate, error)
}

// Registry holds loaders in registration order; the first Supports match
// wins.
type Registry struct {
	loaders []Loader
}

// NewRegistry creates a registry with the given loaders.
func NewRegistry(loaders ...Loader) *Registry {
	return &Registry{loaders: loaders}
}

// Register appends a loader.
func (r *Registry) Register(l Loader) {
	r.loaders = append(r.loaders, l)
}

// Find returns the first loader that supports the path.
func (r *Registry) Find(path string) (Loader, error) {
	for _, l := range r.loaders {
		if l.Supports(path) {
			return l, nil
		}
	}
	return nil, fmt.Errorf("%w: no loader for %s", cognitive.ErrValidation, path)
}

// MarkdownLoader splits a markdown document on headings into hierarchical
// candidates: the document becomes an L0 concept, each heading section an
// L1 context under it, and each section body an L2 episode under its
// section. A document without headings yields a single L2 episode holding
// the full content.
type MarkdownLoader struct{}

func (MarkdownLoader) Name() string { return "markdown" }

func (MarkdownLoader) Supports(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".mdx":
		return true
	}
	return false
}

func (MarkdownLoader) Load(ctx context.Context, path string) ([]Candidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}

	type section struct {
		heading string
		body    []string
	}
	var sections []section
	var preamble []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "#") {
			heading := strings.TrimSpace(strings.TrimLeft(line, "#"))
			sections = append(sections, section{heading: heading})
			continue
		}
		if len(sections) == 0 {
			preamble = append(preamble, line)
		} else {
			last := &sections[len(sections)-1]
			last.body = append(last.body, line)
		}
	}

	if len(sections) == 0 {
		return []Candidate{{Key: "doc", Text: text, Level: cognitive.LevelEpisode}}, nil
	}

	title := filepath.Base(path)
	if len(sections) > 0 && strings.TrimSpace(strings.Join(preamble, "\n")) == "" {
		// Use the first heading as the document concept when there is no
		// preamble text.
		title = sections[0].heading
	}
	docText := title
	if p := strings.TrimSpace(strings.Join(preamble, "\n")); p != "" {
		docText = title + "\n\n" + p
	}

	candidates := []Candidate{{Key: "doc", Text: docText, Level: cognitive.LevelConcept}}
	for i, sec := range sections {
		secKey := fmt.Sprintf("sec-%d", i)
		candidates = append(candidates, Candidate{
			Key:       secKey,
			ParentKey: "doc",
			Text:      sec.heading,
			Level:     cognitive.LevelContext,
		})
		if body := strings.TrimSpace(strings.Join(sec.body, "\n")); body != "" {
			candidates = append(candidates, Candidate{
				Key:       secKey + "-body",
				ParentKey: secKey,
				Text:      body,
				Level:     cognitive.LevelEpisode,
			})
		}
	}
	return candidates, nil
}

// GitLoader mines commit messages from a repository into episodic
// candidates. It supports any directory containing a .git entry.
type GitLoader struct {
	// MaxCommits bounds how much history is mined. Default 500.
	MaxCommits int
}

func (GitLoader) Name() string { return "git" }

func (GitLoader) Supports(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && (info.IsDir() || info.Mode().IsRegular())
}

// Load runs git log and parses unit-separated records into candidates, one
// per commit, newest first.
func (g GitLoader) Load(ctx context.Context, path string) ([]Candidate, error) {
	max := g.MaxCommits
	if max <= 0 {
		max = 500
	}
	cmd := exec.CommandContext(ctx, "git", "-C", path, "log",
		fmt.Sprintf("-n%d", max),
		"--pretty=format:%H%x1f%an%x1f%aI%x1f%s%x1f%b%x1e")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git log %s: %w", path, err)
	}

	var candidates []Candidate
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(splitRecords)
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), "\x1f", 5)
		if len(fields) < 4 {
			continue
		}
		hash, author, date, subject := fields[0], fields[1], fields[2], fields[3]
		body := ""
		if len(fields) == 5 {
			body = strings.TrimSpace(fields[4])
		}
		text := fmt.Sprintf("Commit %s by %s on %s: %s", shortHash(hash), author, date, subject)
		if body != "" {
			text += "\n\n" + body
		}
		candidates = append(candidates, Candidate{
			Key:   hash,
			Text:  text,
			Level: cognitive.LevelEpisode,
		})
	}
	return candidates, scanner.Err()
}

// splitRecords splits on the 0x1e record separator emitted by git log.
func splitRecords(data []byte, atEOF bool) (int, []byte, error) {
	for i, b := range data {
		if b == 0x1e {
			return i + 1, trimRecord(data[:i]), nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), trimRecord(data), nil
	}
	return 0, nil, nil
}

func trimRecord(b []byte) []byte {
	for len(b) > 0 && (b[0] == '\n' || b[0] == '\r') {
		b = b[1:]
	}
	return b
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
