// Package credentials resolves git and registry tokens for an execution.
package credentials

import (
	"fmt"

	"github.com/bcnelson/stack-executor/internal/domain"
)

// Provider looks tokens up by "provider/account".
type Provider struct {
	git      map[string]string
	registry map[string]string
}

// NewProvider creates a Provider from the configured token maps.
func NewProvider(git, registry map[string]string) *Provider {
	return &Provider{git: git, registry: registry}
}

func lookup(kind string, tokens map[string]string, provider, account string) (string, error) {
	if account == "" {
		return "", nil
	}
	token, ok := tokens[provider+"/"+account]
	if !ok || token == "" {
		return "", fmt.Errorf("%w: no %s token for account %s on %s",
			domain.ErrCredentialRetrieval, kind, account, provider)
	}
	return token, nil
}

// GitToken returns the token used to clone the stack's files. A linked repo's
// account takes priority over the stack's own. No account means no token.
func (p *Provider) GitToken(stack *domain.Stack, repo *domain.Repo) (string, error) {
	if repo != nil {
		return lookup("git", p.git, repo.Config.GitProvider, repo.Config.GitAccount)
	}
	return lookup("git", p.git, stack.Config.GitProvider, stack.Config.GitAccount)
}

// RegistryToken returns the token used to pull the stack's images.
func (p *Provider) RegistryToken(stack *domain.Stack) (string, error) {
	return lookup("registry", p.registry, stack.Config.RegistryProvider, stack.Config.RegistryAccount)
}
