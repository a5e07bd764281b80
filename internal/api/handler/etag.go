package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bcnelson/stack-executor/internal/domain"
)

// GenerateETag generates an ETag for a resource based on its ID and a version timestamp.
// Format: "<resource_type>-<id>-<unix_nano>"
func GenerateETag(resourceType, id string, version time.Time) string {
	return fmt.Sprintf(`"%s-%s-%d"`, resourceType, id, version.UnixNano())
}

// SetETagHeader sets the ETag header on the response.
func SetETagHeader(w http.ResponseWriter, resourceType, id string, version time.Time) {
	w.Header().Set("ETag", GenerateETag(resourceType, id, version))
}

// CheckIfNoneMatch reports whether the If-None-Match header names the current
// ETag, meaning the client's copy is fresh.
func CheckIfNoneMatch(r *http.Request, resourceType, id string, version time.Time) bool {
	ifNoneMatch := r.Header.Get("If-None-Match")
	if ifNoneMatch == "" {
		return false
	}
	return ifNoneMatch == GenerateETag(resourceType, id, version)
}

// Stack ETag helpers. The info document changes after every deploy and
// refresh, which moves UpdatedAt.
func SetStackETag(w http.ResponseWriter, stack *domain.Stack) {
	SetETagHeader(w, "stack", stack.ID, stack.UpdatedAt)
}

func CheckStackIfNoneMatch(r *http.Request, stack *domain.Stack) bool {
	return CheckIfNoneMatch(r, "stack", stack.ID, stack.UpdatedAt)
}

// Update ETag helpers. Only finalized updates are stable.
func SetUpdateETag(w http.ResponseWriter, u *domain.Update) {
	if u.EndTs != nil {
		SetETagHeader(w, "update", u.ID, *u.EndTs)
	}
}

func CheckUpdateIfNoneMatch(r *http.Request, u *domain.Update) bool {
	return u.EndTs != nil && CheckIfNoneMatch(r, "update", u.ID, *u.EndTs)
}
