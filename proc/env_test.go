package proc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.jacobcolvin.com/profharness/proc"
)

func TestEnvSet(t *testing.T) {
	t.Parallel()

	base := proc.Env{"A=1", "B=2"}
	got := base.Set("A", "3")

	assert.Equal(t, proc.Env{"B=2", "A=3"}, got)
	assert.Equal(t, proc.Env{"A=1", "B=2"}, base, "receiver must not change")
}

func TestEnvAppendList(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		env  proc.Env
		dir  string
		want string
	}{
		"unset": {
			env:  proc.Env{},
			dir:  "/usr/local/lib",
			want: "/usr/local/lib",
		},
		"extends existing": {
			env:  proc.Env{"LD_LIBRARY_PATH=/opt/lib"},
			dir:  "/usr/local/lib",
			want: "/opt/lib:/usr/local/lib",
		},
		"no duplicate": {
			env:  proc.Env{"LD_LIBRARY_PATH=/usr/local/lib:/opt/lib"},
			dir:  "/usr/local/lib",
			want: "/usr/local/lib:/opt/lib",
		},
		"drops empty entries": {
			env:  proc.Env{"LD_LIBRARY_PATH=:/opt/lib:"},
			dir:  "/usr/local/lib",
			want: "/opt/lib:/usr/local/lib",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := tc.env.AppendList("LD_LIBRARY_PATH", tc.dir)
			assert.Equal(t, tc.want, got.Get("LD_LIBRARY_PATH"))
		})
	}
}

func TestEnvLookup(t *testing.T) {
	t.Parallel()

	env := proc.Env{"A=1", "A=2", "EMPTY="}

	v, ok := env.Lookup("A")
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	v, ok = env.Lookup("EMPTY")
	assert.True(t, ok)
	assert.Empty(t, v)

	_, ok = env.Lookup("MISSING")
	assert.False(t, ok)
}

func TestLibrarySearchPathVar(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "LD_LIBRARY_PATH", proc.LibrarySearchPathVar("linux"))
	assert.Equal(t, "DYLD_LIBRARY_PATH", proc.LibrarySearchPathVar("darwin"))
}
