package s3store

import (
	"context"
	"crypto/md5" //nolint:gosec // mirrors the S3 ETag algorithm
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	pberrors "github.com/alexjbarnes/pushbox/internal/errors"
	"github.com/alexjbarnes/pushbox/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is a minimal path-style S3 endpoint covering the calls Store makes.
type fakeS3 struct {
	mu        sync.Mutex
	buckets   map[string]map[string][]byte
	forbidden map[string]bool
	delay     time.Duration
	createACL string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		buckets:   make(map[string]map[string][]byte),
		forbidden: make(map[string]bool),
	}
}

func etagOf(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec // test fixture
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func writeS3Error(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, msg)
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-r.Context().Done():
			return
		}
	}

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	bucket := parts[0]

	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.forbidden[bucket] {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		writeS3Error(w, http.StatusForbidden, "AccessDenied", "Access Denied")

		return
	}

	objects, exists := f.buckets[bucket]

	switch {
	case key == "" && r.Method == http.MethodHead:
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.WriteHeader(http.StatusOK)

	case key == "" && r.Method == http.MethodPut:
		if exists {
			writeS3Error(w, http.StatusConflict, "BucketAlreadyOwnedByYou", "owned")
			return
		}

		f.buckets[bucket] = make(map[string][]byte)
		f.createACL = r.Header.Get("X-Amz-Acl")
		w.WriteHeader(http.StatusOK)

	case key == "" && r.Method == http.MethodGet:
		if !exists {
			writeS3Error(w, http.StatusNotFound, "NoSuchBucket", "no bucket")
			return
		}

		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
		fmt.Fprintf(&b, "<Name>%s</Name><KeyCount>%d</KeyCount><IsTruncated>false</IsTruncated>", bucket, len(objects))

		for k, data := range objects {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><ETag>%s</ETag><Size>%d</Size></Contents>", k, etagOf(data), len(data))
		}

		b.WriteString("</ListBucketResult>")
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, b.String())

	case !exists:
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket", "no bucket")

	case r.Method == http.MethodHead:
		data, ok := objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.Header().Set("ETag", etagOf(data))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodPut:
		current, ok := objects[key]
		if r.Header.Get("If-None-Match") == "*" && ok {
			writeS3Error(w, http.StatusPreconditionFailed, "PreconditionFailed", "object exists")
			return
		}

		if m := r.Header.Get("If-Match"); m != "" && (!ok || m != etagOf(current)) {
			writeS3Error(w, http.StatusPreconditionFailed, "PreconditionFailed", "etag mismatch")
			return
		}

		data, _ := io.ReadAll(r.Body)
		objects[key] = data
		w.Header().Set("ETag", etagOf(data))
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodGet:
		data, ok := objects[key]
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey", "no key")
			return
		}

		w.Header().Set("ETag", etagOf(data))
		_, _ = w.Write(data)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T, fake *fakeS3, timeout time.Duration) *Store {
	t.Helper()

	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	none := filepath.Join(t.TempDir(), "none")
	t.Setenv("AWS_CONFIG_FILE", none)
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", none)
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	s, err := New(context.Background(), Options{
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		BucketPrefix:    "pb-",
		Timeout:         timeout,
	})
	require.NoError(t, err)

	return s
}

func TestBucketName(t *testing.T) {
	s := &Store{prefix: "pb-"}

	got, err := s.BucketName("My Notes_2024")
	require.NoError(t, err)
	assert.Equal(t, "pb-my-notes-2024", got)

	s.prefix = ""
	_, err = s.BucketName("!")
	assert.Error(t, err)

	_, err = s.BucketName(strings.Repeat("a", 64))
	assert.Error(t, err)
}

func TestRepository_ExistsThenCreate(t *testing.T) {
	fake := newFakeS3()
	s := newTestStore(t, fake, 0)
	ctx := context.Background()

	ok, err := s.RepositoryExists(ctx, "notes")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.CreateRepository(ctx, "notes", remote.Private))
	assert.Empty(t, fake.createACL)

	ok, err = s.RepositoryExists(ctx, "notes")
	require.NoError(t, err)
	assert.True(t, ok)

	// Creating a bucket we already own is not an error.
	require.NoError(t, s.CreateRepository(ctx, "notes", remote.Private))
}

func TestCreateRepository_PublicSetsACL(t *testing.T) {
	fake := newFakeS3()
	s := newTestStore(t, fake, 0)

	require.NoError(t, s.CreateRepository(context.Background(), "shared", remote.Public))
	assert.Equal(t, "public-read", fake.createACL)
}

func TestPutObject_CreateThenUpdate(t *testing.T) {
	fake := newFakeS3()
	fake.buckets["pb-notes"] = make(map[string][]byte)
	s := newTestStore(t, fake, 0)
	ctx := context.Background()

	meta, err := s.ObjectMetadata(ctx, "notes", "a.txt")
	require.NoError(t, err)
	assert.False(t, meta.Exists)

	tag, err := s.PutObject(ctx, "notes", "a.txt", []byte("one"), "")
	require.NoError(t, err)
	assert.Equal(t, s.ContentTag([]byte("one")), tag)

	meta, err = s.ObjectMetadata(ctx, "notes", "a.txt")
	require.NoError(t, err)
	assert.True(t, meta.Exists)
	assert.Equal(t, tag, meta.VersionTag)
	assert.Equal(t, int64(3), meta.Size)

	tag2, err := s.PutObject(ctx, "notes", "a.txt", []byte("two!"), tag)
	require.NoError(t, err)
	assert.NotEqual(t, tag, tag2)
	assert.Equal(t, []byte("two!"), fake.buckets["pb-notes"]["a.txt"])
}

func TestPutObject_StaleTagRejected(t *testing.T) {
	fake := newFakeS3()
	fake.buckets["pb-notes"] = map[string][]byte{"a.txt": []byte("current")}
	s := newTestStore(t, fake, 0)
	ctx := context.Background()

	_, err := s.PutObject(ctx, "notes", "a.txt", []byte("new"), `"stale"`)
	require.Error(t, err)
	assert.ErrorIs(t, err, pberrors.ErrRemoteService)
	assert.Contains(t, err.Error(), "412")

	// A create against an existing object is rejected too.
	_, err = s.PutObject(ctx, "notes", "a.txt", []byte("new"), "")
	assert.ErrorIs(t, err, pberrors.ErrRemoteService)
	assert.Equal(t, []byte("current"), fake.buckets["pb-notes"]["a.txt"])
}

func TestObjectMetadata_ForbiddenIsAuthentication(t *testing.T) {
	fake := newFakeS3()
	fake.forbidden["pb-locked"] = true
	s := newTestStore(t, fake, 0)

	_, err := s.ObjectMetadata(context.Background(), "locked", "a.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, pberrors.ErrAuthentication)
}

func TestListAndFetch(t *testing.T) {
	fake := newFakeS3()
	fake.buckets["pb-notes"] = map[string][]byte{
		"a.txt": []byte("alpha"),
		"b.txt": []byte("bravo!"),
	}
	s := newTestStore(t, fake, 0)
	ctx := context.Background()

	objs, err := s.ListObjects(ctx, "notes")
	require.NoError(t, err)
	require.Len(t, objs, 2)

	byPath := map[string]remote.Object{}
	for _, o := range objs {
		byPath[o.Path] = o
	}

	assert.Equal(t, int64(5), byPath["a.txt"].Size)
	assert.Equal(t, etagOf([]byte("bravo!")), byPath["b.txt"].VersionTag)

	data, err := s.FetchObject(ctx, "notes", "b.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("bravo!"), data)
}

func TestObjectMetadata_Timeout(t *testing.T) {
	fake := newFakeS3()
	fake.delay = 2 * time.Second
	s := newTestStore(t, fake, 50*time.Millisecond)

	_, err := s.ObjectMetadata(context.Background(), "notes", "a.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, pberrors.ErrTimeout)
}
