// Package kbjournal keeps a git history of promoted knowledge-base entries.
// Each entry is a markdown file with YAML front matter under its category.
package kbjournal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"gopkg.in/yaml.v3"

	"venueportal/api/internal/assistant"
)

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type frontMatter struct {
	ID               string    `yaml:"id"`
	Category         string    `yaml:"category"`
	Subcategory      string    `yaml:"subcategory,omitempty"`
	Title            string    `yaml:"title"`
	SourceQuestionID string    `yaml:"source_question,omitempty"`
	CreatedBy        string    `yaml:"created_by,omitempty"`
	CreatedAt        time.Time `yaml:"created_at"`
}

type Journal struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) *Journal {
	return &Journal{dir: dir}
}

// Ensure initializes the repository with a main branch if it does not exist.
func (j *Journal) Ensure() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.open()
	return err
}

func (j *Journal) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(j.dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open journal repo: %w", err)
	}

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	repo, err = git.PlainInit(j.dir, false)
	if err != nil {
		return nil, fmt.Errorf("init journal repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

// EntryPromoted commits entry to the journal.
func (j *Journal) EntryPromoted(_ context.Context, entry assistant.KBEntry) error {
	_, err := j.Record(entry)
	return err
}

// Record writes entry and commits it. Recording identical content again is a
// no-op that returns the current head.
func (j *Journal) Record(entry assistant.KBEntry) (CommitInfo, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	repo, err := j.open()
	if err != nil {
		return CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	rel := entryPath(entry)
	payload, err := render(entry)
	if err != nil {
		return CommitInfo{}, err
	}
	abs := filepath.Join(j.dir, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return CommitInfo{}, fmt.Errorf("create category dir: %w", err)
	}
	if err := os.WriteFile(abs, payload, 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write entry: %w", err)
	}
	if _, err := worktree.Add(rel); err != nil {
		return CommitInfo{}, fmt.Errorf("git add entry: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		head, err := repo.Head()
		if err != nil {
			return CommitInfo{}, fmt.Errorf("read head: %w", err)
		}
		commit, err := repo.CommitObject(head.Hash())
		if err != nil {
			return CommitInfo{}, fmt.Errorf("read head commit: %w", err)
		}
		return toCommitInfo(commit), nil
	}

	author := entry.CreatedBy
	if author == "" {
		author = "venue-staff"
	}
	hash, err := worktree.Commit(fmt.Sprintf("Add %s: %s", entry.Category, entry.Title), &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@kb.venueportal.local", sanitizeEmail(author)),
			When:  entry.CreatedAt,
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit entry: %w", err)
	}
	commit, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit: %w", err)
	}
	return toCommitInfo(commit), nil
}

// History lists journal commits, newest first.
func (j *Journal) History(limit int) ([]CommitInfo, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	repo, err := j.open()
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	history := []CommitInfo{}
	err = iter.ForEach(func(commit *object.Commit) error {
		if limit > 0 && len(history) >= limit {
			return errStop
		}
		history = append(history, toCommitInfo(commit))
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, fmt.Errorf("walk log: %w", err)
	}
	return history, nil
}

// Read parses an entry back from the working tree.
func (j *Journal) Read(category, id string) (assistant.KBEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	raw, err := os.ReadFile(filepath.Join(j.dir, entryPath(assistant.KBEntry{ID: id, Category: category})))
	if err != nil {
		return assistant.KBEntry{}, fmt.Errorf("read entry: %w", err)
	}
	return parse(raw)
}

var errStop = errors.New("stop")

func entryPath(entry assistant.KBEntry) string {
	return filepath.ToSlash(filepath.Join(slug(entry.Category), entry.ID+".md"))
}

func render(entry assistant.KBEntry) ([]byte, error) {
	meta, err := yaml.Marshal(frontMatter{
		ID:               entry.ID,
		Category:         entry.Category,
		Subcategory:      entry.Subcategory,
		Title:            entry.Title,
		SourceQuestionID: entry.SourceQuestionID,
		CreatedBy:        entry.CreatedBy,
		CreatedAt:        entry.CreatedAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal front matter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(meta)
	buf.WriteString("---\n\n")
	buf.WriteString(strings.TrimSpace(entry.Content))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

func parse(raw []byte) (assistant.KBEntry, error) {
	text := string(raw)
	if !strings.HasPrefix(text, "---\n") {
		return assistant.KBEntry{}, errors.New("entry has no front matter")
	}
	meta, body, ok := strings.Cut(text[len("---\n"):], "\n---\n")
	if !ok {
		return assistant.KBEntry{}, errors.New("entry front matter is not terminated")
	}
	var fm frontMatter
	if err := yaml.Unmarshal([]byte(meta), &fm); err != nil {
		return assistant.KBEntry{}, fmt.Errorf("parse front matter: %w", err)
	}
	return assistant.KBEntry{
		ID:               fm.ID,
		Category:         fm.Category,
		Subcategory:      fm.Subcategory,
		Title:            fm.Title,
		Content:          strings.TrimSpace(body),
		SourceQuestionID: fm.SourceQuestionID,
		CreatedBy:        fm.CreatedBy,
		CreatedAt:        fm.CreatedAt,
	}, nil
}

func toCommitInfo(commit *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commit.Hash.String(),
		Message:   strings.TrimSpace(commit.Message),
		Author:    commit.Author.Name,
		CreatedAt: commit.Author.When.UTC(),
	}
}

func slug(input string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(input)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '/':
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "general"
	}
	return b.String()
}

func sanitizeEmail(input string) string {
	out := slug(input)
	if out == "general" {
		return "staff"
	}
	return out
}
