package stringtest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.jacobcolvin.com/profharness/stringtest"
)

func TestInput(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		input string
		want  string
	}{
		"empty": {
			input: "",
			want:  "",
		},
		"single line": {
			input: "\nworkload: -k 14 greedy\n",
			want:  "workload: -k 14 greedy",
		},
		"nested yaml with tabs": {
			input: "\n\t\ttimeouts:\n\t\t  build: 30m\n\t\t  execute: 10m\n\t",
			want:  "timeouts:\n  build: 30m\n  execute: 10m\n",
		},
		"nested yaml with spaces": {
			input: `
    tools:
      - name: gperftools
        version: "2.7"`,
			want: "tools:\n  - name: gperftools\n    version: \"2.7\"",
		},
		"blank lines keep no whitespace": {
			input: "\n    a: 1\n      \n    b: 2",
			want:  "a: 1\n\nb: 2",
		},
		"mixed indent keeps the shared part": {
			input: "\n\t  a\n\t b",
			want:  " a\nb",
		},
		"already flush": {
			input: "a: 1\nb: 2",
			want:  "a: 1\nb: 2",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, stringtest.Input(tc.input))
		})
	}
}

func TestLines(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		lf    string
		crlf  string
		input []string
	}{
		"none": {
			lf:   "",
			crlf: "",
		},
		"one": {
			input: []string{"abc1234"},
			lf:    "abc1234\n",
			crlf:  "abc1234\r\n",
		},
		"several with blank": {
			input: []string{"Compiling drg", "", "Finished"},
			lf:    "Compiling drg\n\nFinished\n",
			crlf:  "Compiling drg\r\n\r\nFinished\r\n",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.lf, stringtest.Lines(tc.input...))
			assert.Equal(t, tc.crlf, stringtest.CRLFLines(tc.input...))
		})
	}
}
