// Package provision fetches, builds and installs the native libraries a
// sampling CPU profile depends on: an unwinder (libunwind) and the profiler
// itself (gperftools).
//
// Each [Tool] is downloaded as a source archive from its URL template,
// extracted under an install root, and built with the standard
// configure/make/make install sequence. A stamp file records a finished
// install so re-running [Provisioner.Provision] with the same versions is a
// no-op. Partial state (interrupted downloads, half-extracted trees) is never
// reused: downloads land in a ".part" file and extraction happens in a staging
// directory that is renamed into place only once complete.
//
// Concurrent harness processes sharing an install root serialize on an
// exclusive file lock.
//
//	p := provision.New(runner,
//	    provision.WithRoot(filepath.Join(home, "downloads")),
//	    provision.WithPrefix("/usr/local"),
//	)
//	res, err := p.Provision(ctx, env, provision.Libunwind, provision.Gperftools)
//	// res.LibDir must be added to the library search path of the target.
package provision
