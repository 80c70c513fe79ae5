package filesystem

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: segmentName should return the unescaped final path segment,
// rejecting segments which are not usable as filename.
func Test_segmentName_Success(t *testing.T) {
	t.Parallel()

	tests := []struct {
		locator string
		name    string
		ok      bool
	}{
		{"http://x/a.bin", "a.bin", true},
		{"http://x/dir/b.iso?x=1#frag", "b.iso", true},
		{"http://x/with%20space.txt", "with space.txt", true},
		{"https://x/dir/", "", false},
		{"http://x/", "", false},
		{"http://x", "", false},
		{"http://x/a/..", "", false},
		{"http://x/a/.", "", false},
		{"http://x/a%2Fb", "", false},
		{"http://x/a%00b", "", false},
	}

	for _, tt := range tests {
		u, err := url.Parse(tt.locator)
		require.NoError(t, err)

		name, ok := segmentName(u)
		require.Equal(t, tt.ok, ok, tt.locator)
		require.Equal(t, tt.name, name, tt.locator)
	}
}

// Expectation: The allocator should synthesize increasing names for
// locators without a usable one.
func Test_nameAllocator_Synthesize_Success(t *testing.T) {
	t.Parallel()

	na := newNameAllocator()

	require.Equal(t, "unk_0", na.synthesize())
	require.Equal(t, "unk_1", na.synthesize())
	require.Equal(t, "unk_2", na.synthesize())
}

// Expectation: The allocator should never hand out the same name twice.
func Test_nameAllocator_Unique_Success(t *testing.T) {
	t.Parallel()

	na := newNameAllocator()

	require.Equal(t, "a.bin", na.unique("a.bin"))
	require.Equal(t, "a_1.bin", na.unique("a.bin"))
	require.Equal(t, "a_2.bin", na.unique("a.bin"))
	require.Equal(t, "a_1_1.bin", na.unique("a_1.bin"))

	require.Equal(t, ".hidden", na.unique(".hidden"))
	require.Equal(t, ".hidden_1", na.unique(".hidden"))

	require.Equal(t, "noext", na.unique("noext"))
	require.Equal(t, "noext_1", na.unique("noext"))

	require.Equal(t, "unk_1", na.unique("unk_1"))
	require.Equal(t, "unk_0", na.synthesize())
	require.Equal(t, "unk_2", na.synthesize())
}
