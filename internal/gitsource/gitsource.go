// Package gitsource fetches compose files and commit information from a git
// repository into memory.
package gitsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/bcnelson/stack-executor/internal/domain"
)

// Source describes what to fetch.
type Source struct {
	Provider string
	Account  string
	Token    string
	Repo     string
	Branch   string
	Commit   string
	HTTPS    bool

	RunDirectory string
	FilePaths    []string
}

// SourceFor builds the Source for a stack, taking the clone settings from
// the linked repo when there is one.
func SourceFor(stack *domain.Stack, repo *domain.Repo, token string) Source {
	src := Source{
		Token:        token,
		RunDirectory: stack.Config.RunDirectory,
		FilePaths:    stack.ComposeFilePaths(),
	}
	if repo != nil {
		src.Provider = repo.Config.GitProvider
		src.Account = repo.Config.GitAccount
		src.Repo = repo.Config.Repo
		src.Branch = repo.Config.Branch
		src.Commit = repo.Config.Commit
		src.HTTPS = repo.Config.GitHTTPS
		return src
	}
	src.Provider = stack.Config.GitProvider
	src.Account = stack.Config.GitAccount
	src.Repo = stack.Config.Repo
	src.Branch = stack.Config.Branch
	src.Commit = stack.Config.Commit
	src.HTTPS = true
	return src
}

// URL returns the clone URL. Repos given as full URLs are used as is.
func (s Source) URL() string {
	if strings.Contains(s.Repo, "://") {
		return s.Repo
	}
	provider := s.Provider
	if provider == "" {
		provider = "github.com"
	}
	scheme := "https"
	if !s.HTTPS {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/%s.git", scheme, provider, strings.TrimSuffix(s.Repo, ".git"))
}

// Result holds the files read at the fetched commit.
type Result struct {
	Files         []domain.FileContents
	Missing       []string
	Errors        []domain.FileContents
	CommitHash    string
	CommitMessage string
}

// Fetch clones the repository into memory and reads the requested files.
func Fetch(ctx context.Context, src Source) (*Result, error) {
	if src.Repo == "" {
		return nil, fmt.Errorf("no repo configured")
	}

	opts := &git.CloneOptions{
		URL:          src.URL(),
		SingleBranch: true,
	}
	if src.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(src.Branch)
	}
	// A pinned commit may be anywhere in history
	if src.Commit == "" {
		opts.Depth = 1
	}
	if src.Token != "" {
		user := src.Account
		if user == "" {
			user = "token"
		}
		opts.Auth = &http.BasicAuth{Username: user, Password: src.Token}
	}

	fs := memfs.New()
	repo, err := git.CloneContext(ctx, memory.NewStorage(), fs, opts)
	if err != nil {
		return nil, fmt.Errorf("cloning %s: %w", src.Repo, err)
	}

	if src.Commit != "" {
		wt, err := repo.Worktree()
		if err != nil {
			return nil, err
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(src.Commit)}); err != nil {
			return nil, fmt.Errorf("checking out %s: %w", src.Commit, err)
		}
	}

	return read(repo, fs, src.RunDirectory, src.FilePaths)
}

func read(repo *git.Repository, fs billy.Filesystem, runDir string, paths []string) (*Result, error) {
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("reading HEAD commit: %w", err)
	}

	res := &Result{
		CommitHash:    head.Hash().String(),
		CommitMessage: strings.TrimSpace(commit.Message),
	}
	for _, p := range paths {
		contents, err := readFile(fs, path.Join(runDir, p))
		switch {
		case errors.Is(err, os.ErrNotExist):
			res.Missing = append(res.Missing, p)
		case err != nil:
			res.Errors = append(res.Errors, domain.FileContents{Path: p, Contents: err.Error()})
		default:
			res.Files = append(res.Files, domain.FileContents{Path: p, Contents: contents})
		}
	}
	return res, nil
}

func readFile(fs billy.Filesystem, name string) (string, error) {
	f, err := fs.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
