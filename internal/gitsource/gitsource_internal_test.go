package gitsource

import (
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcnelson/stack-executor/internal/domain"
)

func TestRead(t *testing.T) {
	fs := memfs.New()
	repo, err := git.Init(memory.NewStorage(), fs)
	require.NoError(t, err)

	require.NoError(t, util.WriteFile(fs, "deploy/compose.yaml", []byte("services: {}\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("deploy/compose.yaml")
	require.NoError(t, err)
	hash, err := wt.Commit("add compose file\n", &git.CommitOptions{
		Author: &object.Signature{Name: "ci", Email: "ci@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	res, err := read(repo, fs, "deploy", []string{"compose.yaml", "override.yaml"})
	require.NoError(t, err)
	assert.Equal(t, hash.String(), res.CommitHash)
	assert.Equal(t, "add compose file", res.CommitMessage)
	assert.Equal(t, []domain.FileContents{{Path: "compose.yaml", Contents: "services: {}\n"}}, res.Files)
	assert.Equal(t, []string{"override.yaml"}, res.Missing)
	assert.Empty(t, res.Errors)
}

func TestSourceURL(t *testing.T) {
	assert.Equal(t, "https://github.com/acme/shop.git", Source{Repo: "acme/shop", HTTPS: true}.URL())
	assert.Equal(t, "http://git.local/acme/shop.git", Source{Provider: "git.local", Repo: "acme/shop.git"}.URL())
	assert.Equal(t, "ssh://git@host/x.git", Source{Repo: "ssh://git@host/x.git"}.URL())
}

func TestSourceFor(t *testing.T) {
	stack := &domain.Stack{Config: domain.StackConfig{
		GitProvider: "github.com", GitAccount: "acme", Repo: "acme/shop", Branch: "main", RunDirectory: "deploy",
	}}

	src := SourceFor(stack, nil, "tok")
	assert.Equal(t, "acme/shop", src.Repo)
	assert.Equal(t, []string{domain.DefaultComposeFile}, src.FilePaths)
	assert.True(t, src.HTTPS)

	repo := &domain.Repo{Config: domain.RepoConfig{GitProvider: "git.local", Repo: "infra/stacks", Branch: "prod"}}
	src = SourceFor(stack, repo, "tok")
	assert.Equal(t, "infra/stacks", src.Repo)
	assert.Equal(t, "prod", src.Branch)
	assert.Equal(t, "deploy", src.RunDirectory, "run directory stays the stack's")
	assert.False(t, src.HTTPS)
}
