// Package remote defines the contract between the upload core and a
// remote repository service. Backends (GitHub, S3) implement Service; the
// core never sees wire formats.
package remote

//go:generate mockgen -destination=remotetest/mock_service.go -package=remotetest . Service

import (
	"context"
	"fmt"
	"strings"
)

// Visibility controls who can read a newly created repository.
type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

// ParseVisibility accepts "public" or "private", case-insensitively.
func ParseVisibility(s string) (Visibility, error) {
	switch Visibility(strings.ToLower(strings.TrimSpace(s))) {
	case Public:
		return Public, nil
	case Private:
		return Private, nil
	}

	return "", fmt.Errorf("visibility must be %q or %q, got %q", Public, Private, s)
}

// Metadata is the minimal remote state needed to choose between create
// and update. VersionTag is opaque and must be echoed back to PutObject
// to overwrite the object.
type Metadata struct {
	Exists     bool
	VersionTag string
	Size       int64
}

// Object is one entry of a repository listing.
type Object struct {
	Path       string `json:"path"`
	VersionTag string `json:"version_tag"`
	Size       int64  `json:"size"`
}

// Service is the remote repository service behind the resolver,
// reconciler and executor.
type Service interface {
	// RepositoryExists reports whether a repository named name exists.
	RepositoryExists(ctx context.Context, name string) (bool, error)

	// CreateRepository creates the repository with the given visibility.
	CreateRepository(ctx context.Context, name string, visibility Visibility) error

	// ObjectMetadata looks up path in repo. A missing object is not an
	// error: it returns Metadata{Exists: false}.
	ObjectMetadata(ctx context.Context, repo, path string) (Metadata, error)

	// PutObject writes data at path. An empty versionTag creates the
	// object; a non-empty one updates it and must match the remote's
	// current tag or the service rejects the write. Returns the new tag.
	PutObject(ctx context.Context, repo, path string, data []byte, versionTag string) (string, error)
}

// Lister is implemented by services that can list a repository's objects.
type Lister interface {
	ListObjects(ctx context.Context, repo string) ([]Object, error)
}

// Fetcher is implemented by services that can download object content.
type Fetcher interface {
	FetchObject(ctx context.Context, repo, path string) ([]byte, error)
}

// ContentTagger is implemented by services whose version tag is a pure
// function of content. It lets the reconciler recognise files that are
// already up to date without a write.
type ContentTagger interface {
	ContentTag(data []byte) string
}
