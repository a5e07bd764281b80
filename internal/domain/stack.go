package domain

import (
	"strings"
	"time"
	"unicode"
)

// DefaultComposeFile is the path used when a stack does not list any file paths.
const DefaultComposeFile = "compose.yaml"

// Stack is a named, declaratively-configured multi-service application bundle
// bound to one server.
type Stack struct {
	ID          string      `json:"id" db:"id"`
	Name        string      `json:"name" db:"name"`
	Description string      `json:"description" db:"description"`
	Config      StackConfig `json:"config" db:"-"`
	Info        StackInfo   `json:"info" db:"-"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// StackConfig is the user-authored configuration of a stack.
type StackConfig struct {
	ServerID     string   `json:"server_id"`
	ProjectName  string   `json:"project_name,omitempty"`
	RunDirectory string   `json:"run_directory,omitempty"`
	FilePaths    []string `json:"file_paths,omitempty"`

	// FileContents holds an inline compose file. Empty when files come from a repo or the host.
	FileContents string `json:"file_contents,omitempty"`
	FilesOnHost  bool   `json:"files_on_host,omitempty"`

	LinkedRepo  string `json:"linked_repo,omitempty"`
	GitProvider string `json:"git_provider,omitempty"`
	GitAccount  string `json:"git_account,omitempty"`
	Repo        string `json:"repo,omitempty"`
	Branch      string `json:"branch,omitempty"`
	Commit      string `json:"commit,omitempty"`

	RegistryProvider string `json:"registry_provider,omitempty"`
	RegistryAccount  string `json:"registry_account,omitempty"`

	SkipSecretInterp bool          `json:"skip_secret_interp,omitempty"`
	Environment      string        `json:"environment,omitempty"`
	ExtraArgs        []string      `json:"extra_args,omitempty"`
	BuildExtraArgs   []string      `json:"build_extra_args,omitempty"`
	PreDeploy        SystemCommand `json:"pre_deploy,omitempty"`
	PostDeploy       SystemCommand `json:"post_deploy,omitempty"`
}

// SystemCommand is a shell command run on the host around a compose operation.
type SystemCommand struct {
	Path    string `json:"path,omitempty"`
	Command string `json:"command,omitempty"`
}

// StackInfo is the mutable, system-maintained view of a stack's deployment.
// A nil DeployedContents means the stack has never been deployed.
type StackInfo struct {
	MissingFiles        []string            `json:"missing_files,omitempty"`
	DeployedProjectName string              `json:"deployed_project_name,omitempty"`
	DeployedServices    []StackServiceNames `json:"deployed_services"`
	DeployedContents    []FileContents      `json:"deployed_contents"`
	DeployedConfig      string              `json:"deployed_config,omitempty"`
	DeployedHash        string              `json:"deployed_hash,omitempty"`
	DeployedMessage     string              `json:"deployed_message,omitempty"`
	LatestServices      []StackServiceNames `json:"latest_services,omitempty"`
	RemoteContents      []FileContents      `json:"remote_contents"`
	RemoteErrors        []FileContents      `json:"remote_errors"`
	LatestHash          string              `json:"latest_hash,omitempty"`
	LatestMessage       string              `json:"latest_message,omitempty"`
}

// FileContents is one named file and its contents.
type FileContents struct {
	Path     string `json:"path"`
	Contents string `json:"contents"`
}

// StackServiceNames identifies one compose service of a stack.
type StackServiceNames struct {
	ServiceName   string `json:"service_name"`
	ContainerName string `json:"container_name,omitempty"`
	Image         string `json:"image,omitempty"`
}

// UsesRepo reports whether the stack's files are fetched from a git repository.
func (s *Stack) UsesRepo() bool {
	if s.Config.FilesOnHost {
		return false
	}
	return s.Config.LinkedRepo != "" || s.Config.Repo != ""
}

// ComposeFilePaths returns the configured file paths, or the default compose file.
func (s *Stack) ComposeFilePaths() []string {
	if len(s.Config.FilePaths) == 0 {
		return []string{DefaultComposeFile}
	}
	return s.Config.FilePaths
}

// ProjectName returns the compose project name. When fresh is false the
// previously deployed project name is preferred, so that a renamed stack can
// still be addressed by the name it was deployed under.
func (s *Stack) ProjectName(fresh bool) string {
	if !fresh && s.Info.DeployedProjectName != "" {
		return s.Info.DeployedProjectName
	}
	if s.Config.ProjectName != "" {
		return s.Config.ProjectName
	}
	return SanitizeProjectName(s.Name)
}

// SanitizeProjectName lowercases name and drops characters compose rejects.
func SanitizeProjectName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r), r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('_')
		}
	}
	return b.String()
}

// CreateStackRequest is the request body for creating a stack.
type CreateStackRequest struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Config      StackConfig `json:"config"`
}
