package domain

import "time"

// Repo is a git repository descriptor a stack can link to for its files.
type Repo struct {
	ID        string     `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Config    RepoConfig `json:"config" db:"-"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// RepoConfig carries the clone settings of a Repo. It has its own
// credential account and interpolation opt-out, independent of any stack.
type RepoConfig struct {
	ServerID         string        `json:"server_id,omitempty"`
	GitProvider      string        `json:"git_provider,omitempty"`
	GitAccount       string        `json:"git_account,omitempty"`
	GitHTTPS         bool          `json:"git_https,omitempty"`
	Repo             string        `json:"repo"`
	Branch           string        `json:"branch,omitempty"`
	Commit           string        `json:"commit,omitempty"`
	Path             string        `json:"path,omitempty"`
	Environment      string        `json:"environment,omitempty"`
	OnClone          SystemCommand `json:"on_clone,omitempty"`
	OnPull           SystemCommand `json:"on_pull,omitempty"`
	SkipSecretInterp bool          `json:"skip_secret_interp,omitempty"`
}

// CreateRepoRequest is the request body for creating a repo.
type CreateRepoRequest struct {
	Name   string     `json:"name"`
	Config RepoConfig `json:"config"`
}
