package localipc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	cases := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "empty path is rejected", path: "", wantErr: true},
		{name: "ordinary path is accepted", path: "my-socket", wantErr: false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			resolved, err := resolvePath(c.path)
			if c.wantErr {
				require.ErrorIs(t, err, ErrPathIsNil)
				return
			}
			require.NoError(t, err)
			require.NotEmpty(t, resolved)
		})
	}
}

func TestResolvePathIdempotent(t *testing.T) {
	once, err := resolvePath("my-socket")
	require.NoError(t, err)
	twice, err := resolvePath(once)
	require.NoError(t, err)
	require.Equal(t, once, twice)
}
