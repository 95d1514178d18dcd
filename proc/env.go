package proc

import (
	"os"
	"runtime"
	"slices"
	"strings"
)

// Env is an explicit process environment in "KEY=value" form.
//
// Stages receive an Env instead of reading or mutating the ambient process
// environment, so several pipeline configurations can run side by side in one
// process. All methods return a new Env and never modify the receiver.
type Env []string

// Environ returns the current process environment as an [Env].
func Environ() Env {
	return Env(os.Environ())
}

// Get returns the value of key, or "" when unset.
func (e Env) Get(key string) string {
	v, _ := e.Lookup(key)

	return v
}

// Lookup returns the value of key and whether it was set.
// The last assignment wins, matching [os/exec] semantics.
func (e Env) Lookup(key string) (string, bool) {
	for i := len(e) - 1; i >= 0; i-- {
		k, v, ok := strings.Cut(e[i], "=")
		if ok && k == key {
			return v, true
		}
	}

	return "", false
}

// Set returns a copy of e with key set to value.
func (e Env) Set(key, value string) Env {
	out := make(Env, 0, len(e)+1)
	for _, kv := range e {
		k, _, _ := strings.Cut(kv, "=")
		if k == key {
			continue
		}

		out = append(out, kv)
	}

	return append(out, key+"="+value)
}

// List returns the entries of a path-list variable such as PATH.
// Empty entries are dropped.
func (e Env) List(key string) []string {
	v := e.Get(key)
	if v == "" {
		return nil
	}

	var out []string

	for _, p := range strings.Split(v, string(os.PathListSeparator)) {
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}

// AppendList returns a copy of e with dir appended to the path-list variable
// key. Existing entries are kept in order; dir is not added twice.
func (e Env) AppendList(key, dir string) Env {
	entries := e.List(key)
	if slices.Contains(entries, dir) {
		return e.Set(key, strings.Join(entries, string(os.PathListSeparator)))
	}

	entries = append(entries, dir)

	return e.Set(key, strings.Join(entries, string(os.PathListSeparator)))
}

// LibrarySearchPathVar returns the dynamic linker search path variable for
// the given GOOS.
func LibrarySearchPathVar(goos string) string {
	if goos == "darwin" {
		return "DYLD_LIBRARY_PATH"
	}

	return "LD_LIBRARY_PATH"
}

// HostLibrarySearchPathVar returns [LibrarySearchPathVar] for the host.
func HostLibrarySearchPathVar() string {
	return LibrarySearchPathVar(runtime.GOOS)
}
