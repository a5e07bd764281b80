// Package interpolate renders [[NAME]] references in stack and repo
// configuration from global variables and secrets.
package interpolate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bcnelson/stack-executor/internal/domain"
)

// Log stages appended to an Update.
const (
	StageVariables = "Interpolate - Variables"
	StageSecrets   = "Interpolate - Secrets"
	StageWarnings  = "Interpolate - Warnings"
)

var (
	refPattern  = regexp.MustCompile(`\[\[(.*?)\]\]`)
	namePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
)

// Interpolator accumulates what it substituted across every Interpolate call,
// so one instance should be used per execution.
type Interpolator struct {
	variables map[string]string
	secrets   map[string]string

	usedVariables []string
	usedSecrets   []string
	undefined     []string
	seen          map[string]bool

	replacers []domain.SecretReplacer
}

// New creates an Interpolator. Secrets shadow variables of the same name.
func New(variables, secrets map[string]string) *Interpolator {
	if variables == nil {
		variables = map[string]string{}
	}
	if secrets == nil {
		secrets = map[string]string{}
	}
	return &Interpolator{
		variables: variables,
		secrets:   secrets,
		seen:      make(map[string]bool),
	}
}

// Interpolate renders every reference in s. Undefined names are left intact
// and recorded as warnings.
func (i *Interpolator) Interpolate(s string) (string, error) {
	if !strings.Contains(s, "[[") {
		return s, nil
	}

	var renderErr error
	out := refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		if renderErr != nil {
			return ref
		}
		name := ref[2 : len(ref)-2]
		if !namePattern.MatchString(name) {
			renderErr = fmt.Errorf("%w: invalid reference %q", domain.ErrInterpolation, ref)
			return ref
		}
		if value, ok := i.secrets[name]; ok {
			i.record("s:"+name, func() {
				i.usedSecrets = append(i.usedSecrets, name)
				if value != "" {
					i.replacers = append(i.replacers, domain.SecretReplacer{
						Value:       value,
						Placeholder: "<" + name + ">",
					})
				}
			})
			return value
		}
		if value, ok := i.variables[name]; ok {
			i.record("v:"+name, func() { i.usedVariables = append(i.usedVariables, name) })
			return value
		}
		i.record("u:"+name, func() { i.undefined = append(i.undefined, name) })
		return ref
	})
	if renderErr != nil {
		return "", renderErr
	}
	return out, nil
}

func (i *Interpolator) record(key string, first func()) {
	if i.seen[key] {
		return
	}
	i.seen[key] = true
	first()
}

func (i *Interpolator) interpolateAll(fields ...*string) error {
	for _, f := range fields {
		out, err := i.Interpolate(*f)
		if err != nil {
			return err
		}
		*f = out
	}
	return nil
}

func (i *Interpolator) interpolateSlice(values []string) error {
	for idx := range values {
		out, err := i.Interpolate(values[idx])
		if err != nil {
			return err
		}
		values[idx] = out
	}
	return nil
}

// InterpolateStack renders the stack's file contents, environment, extra args
// and pre/post deploy commands in place.
func (i *Interpolator) InterpolateStack(stack *domain.Stack) error {
	c := &stack.Config
	if err := i.interpolateAll(
		&c.FileContents,
		&c.Environment,
		&c.PreDeploy.Command,
		&c.PostDeploy.Command,
	); err != nil {
		return err
	}
	if err := i.interpolateSlice(c.ExtraArgs); err != nil {
		return err
	}
	return i.interpolateSlice(c.BuildExtraArgs)
}

// InterpolateRepo renders the repo's environment and clone/pull commands in place.
func (i *Interpolator) InterpolateRepo(repo *domain.Repo) error {
	c := &repo.Config
	return i.interpolateAll(&c.Environment, &c.OnClone.Command, &c.OnPull.Command)
}

// Replacers returns one replacer per substituted secret, in order of first use.
func (i *Interpolator) Replacers() []domain.SecretReplacer {
	return append([]domain.SecretReplacer(nil), i.replacers...)
}

// Logs returns the log entries describing what was substituted. Secret
// values never appear.
func (i *Interpolator) Logs() []domain.Log {
	var logs []domain.Log
	if len(i.usedVariables) > 0 {
		lines := make([]string, 0, len(i.usedVariables))
		for _, name := range i.usedVariables {
			lines = append(lines, fmt.Sprintf("replaced: %s => %s", name, i.variables[name]))
		}
		logs = append(logs, domain.SimpleLog(StageVariables, strings.Join(lines, "\n")))
	}
	if len(i.usedSecrets) > 0 {
		lines := make([]string, 0, len(i.usedSecrets))
		for _, name := range i.usedSecrets {
			lines = append(lines, "replaced: "+name)
		}
		logs = append(logs, domain.SimpleLog(StageSecrets, strings.Join(lines, "\n")))
	}
	if len(i.undefined) > 0 {
		lines := make([]string, 0, len(i.undefined))
		for _, name := range i.undefined {
			lines = append(lines, "no variable or secret named: "+name)
		}
		logs = append(logs, domain.SimpleLog(StageWarnings, strings.Join(lines, "\n")))
	}
	return logs
}

// Sanitize replaces every secret value in s with its placeholder.
func Sanitize(s string, replacers []domain.SecretReplacer) string {
	for _, r := range replacers {
		s = strings.ReplaceAll(s, r.Value, r.Placeholder)
	}
	return s
}
