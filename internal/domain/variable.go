package domain

// Variable is a named value available to interpolation. Secret variables are
// sanitized out of command output.
type Variable struct {
	Name        string `json:"name" db:"name"`
	Value       string `json:"value,omitempty" db:"value"`
	Description string `json:"description,omitempty" db:"description"`
	IsSecret    bool   `json:"is_secret" db:"is_secret"`
}

// SecretReplacer maps a literal secret value to the placeholder that should
// appear in its place in any persisted output.
type SecretReplacer struct {
	Value       string `json:"value"`
	Placeholder string `json:"placeholder"`
}
