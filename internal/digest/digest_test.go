package digest

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbout22/fbsync/internal/remotepath"
	"github.com/cbout22/fbsync/internal/retry"
)

// echo -n "hello" | sha256sum
const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestBytes_KnownValue(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Digest{Algorithm: SHA256, Hex: helloSHA256}, Bytes([]byte("hello")))
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Bytes(nil).Hex)
}

func TestAccumulator_MatchesBytes(t *testing.T) {
	t.Parallel()
	acc := NewAccumulator()
	_, err := io.Copy(acc, strings.NewReader("hel"))
	require.NoError(t, err)
	_, err = acc.Write([]byte("lo"))
	require.NoError(t, err)
	assert.Equal(t, helloSHA256, acc.Sum().Hex)
}

func TestLocal(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/m/file.txt", []byte("hello"), 0644))

	d, err := Local(fs, "/m/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "sha256:"+helloSHA256, d.String())
}

func TestLocal_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := Local(afero.NewMemMapFs(), "/nope")
	require.Error(t, err)

	var ioErr *LocalIOError
	assert.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "open", ioErr.Op)
	assert.True(t, IsNotExist(err))
}

func TestMatches(t *testing.T) {
	t.Parallel()
	a := Digest{Algorithm: SHA256, Hex: "abc"}
	assert.True(t, Matches(a, Digest{Algorithm: SHA256, Hex: "abc"}))
	assert.False(t, Matches(a, Digest{Algorithm: SHA256, Hex: "ABC"}), "comparison is case-sensitive")
	assert.False(t, Matches(a, Digest{Algorithm: "md5", Hex: "abc"}))
	assert.False(t, Matches(Digest{}, Digest{}), "empty digests never match")
}

type stubFetcher struct {
	sum  string
	err  error
	algo string
}

func (s *stubFetcher) Checksum(_ context.Context, _ remotepath.Path, algorithm string) (string, error) {
	s.algo = algorithm
	return s.sum, s.err
}

func TestRemote(t *testing.T) {
	t.Parallel()
	f := &stubFetcher{sum: helloSHA256}
	d, err := Remote(context.Background(), f, "a/b")
	require.NoError(t, err)
	assert.Equal(t, "sha256", f.algo)
	assert.True(t, Matches(d, Bytes([]byte("hello"))))

	f = &stubFetcher{err: errors.New("boom")}
	_, err = Remote(context.Background(), f, "a/b")
	assert.EqualError(t, err, "fetching remote digest of /a/b: boom")
}

func TestMismatchError_IsRetryable(t *testing.T) {
	t.Parallel()
	err := &MismatchError{Path: "/x", Want: Bytes([]byte("a")), Got: Bytes([]byte("b"))}
	assert.True(t, retry.IsRetryable(err))
	assert.Contains(t, err.Error(), "digest mismatch for /x")
}
