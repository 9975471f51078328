package batch

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/omr/internal/storage"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
}

func sheetTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.jpg", "notes.txt", "exam.pdf", "sub/c.png", "sub/skip_d.png"} {
		touch(t, filepath.Join(dir, name))
	}
	return dir
}

func paths(inputs []Input) []string {
	out := make([]string, len(inputs))
	for i, in := range inputs {
		out[i] = in.Path
	}
	return out
}

func TestDiscoverInputs_Directory(t *testing.T) {
	dir := sheetTree(t)
	cfg := DefaultConfig()

	got, err := discoverInputs(context.Background(), []string{dir}, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.png"),
		filepath.Join(dir, "exam.pdf"),
		filepath.Join(dir, "sub", "c.png"),
		filepath.Join(dir, "sub", "skip_d.png"),
	}, paths(got))
	assert.True(t, got[2].PDF)
	assert.False(t, got[0].PDF)

	cfg.Recursive = false
	got, err = discoverInputs(context.Background(), []string{dir}, cfg, nil)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestDiscoverInputs_Patterns(t *testing.T) {
	dir := sheetTree(t)
	cfg := DefaultConfig()
	cfg.IncludePatterns = []string{"*.png"}
	cfg.ExcludePatterns = []string{"skip_*"}

	got, err := discoverInputs(context.Background(), []string{dir}, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.png"), filepath.Join(dir, "sub", "c.png")}, paths(got))
}

func TestDiscoverInputs_GlobAndDuplicates(t *testing.T) {
	dir := sheetTree(t)
	single := filepath.Join(dir, "b.png")
	got, err := discoverInputs(context.Background(), []string{filepath.Join(dir, "*.png"), single}, DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{single}, paths(got))
}

func TestDiscoverInputs_Errors(t *testing.T) {
	dir := sheetTree(t)
	_, err := discoverInputs(context.Background(), []string{filepath.Join(dir, "missing.png")}, DefaultConfig(), nil)
	assert.ErrorContains(t, err, "cannot access")

	_, err = discoverInputs(context.Background(), []string{filepath.Join(dir, "notes.txt")}, DefaultConfig(), nil)
	assert.ErrorContains(t, err, "unsupported input file")

	_, err = discoverInputs(context.Background(), []string{"s3://bucket/x"}, DefaultConfig(), nil)
	assert.ErrorContains(t, err, "no object storage configured")
}

func TestShouldIncludeFile(t *testing.T) {
	assert.True(t, shouldIncludeFile("/a/b.png", nil, nil))
	assert.False(t, shouldIncludeFile("/a/b.png", nil, []string{"*.png"}))
	assert.True(t, shouldIncludeFile("/a/b.png", []string{"b.*"}, nil))
	assert.False(t, shouldIncludeFile("/a/b.png", []string{"c.*"}, nil))
	assert.False(t, shouldIncludeFile("/a/b.png", []string{"*.png"}, []string{"b.png"}))
}

// bucket is a single-page in-memory S3 listing.
type bucket map[string][]byte

func (b bucket) PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return &s3.PutObjectOutput{}, nil
}

func (b bucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := b[aws.ToString(in.Key)]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (b bucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for k := range b {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func TestDiscoverInputs_S3(t *testing.T) {
	b := bucket{"exams/2.png": nil, "exams/1.png": nil, "exams/scan.pdf": nil, "exams/readme.md": nil}
	var gotBucket, gotPrefix string
	opener := func(_ context.Context, name, prefix string) (*storage.S3Source, error) {
		gotBucket, gotPrefix = name, prefix
		return storage.NewS3Source(b, name, prefix), nil
	}
	got, err := discoverInputs(context.Background(), []string{"s3://sheets/exams/"}, DefaultConfig(), opener)
	require.NoError(t, err)
	assert.Equal(t, "sheets", gotBucket)
	assert.Equal(t, "exams/", gotPrefix)
	assert.Equal(t, []string{"s3://sheets/exams/1.png", "s3://sheets/exams/2.png", "s3://sheets/exams/scan.pdf"}, paths(got))
	assert.True(t, got[2].PDF)
	assert.Equal(t, "exams/1.png", got[0].key)
}
