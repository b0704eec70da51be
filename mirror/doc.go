// Package mirror keeps a single local working copy of a remote repository.
//
// The working copy is created by Initialize in a new uniquely named dir
// under the configured root. Clone is attempted up to 3 times with an
// exponential backoff (1s, 2s) between attempts. Refresh fetches origin and
// moves the checked out branch to the fetched commit, so files read after a
// successful refresh reflect the upstream state. Teardown removes the working
// copy.
//
// Root can be shared by many processes. Each working copy has a sibling
// `.lock` file held while the copy is in use and RemoveOrphanedWorkingCopy
// only removes copies whose lock is free.
//
// Files are read with paths relative to the working copy root. Absolute paths
// and paths escaping the root are rejected and the `.git` dir is never served.
//
// # Logging:
//
// package takes slog reference for logging and prints logs up to 'trace' level
//
// Example:
//
//	loggerLevel  = new(slog.LevelVar)
//	levelStrings = map[string]slog.Level{
//		"trace": slog.Level(-8),
//		"debug": slog.LevelDebug,
//		"info":  slog.LevelInfo,
//		"warn":  slog.LevelWarn,
//		"error": slog.LevelError,
//	}
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//		Level: loggerLevel,
//	}))
//	loggerLevel.Set(levelStrings["trace"])
//
//	m, err := mirror.New(mirror.Config{}, nil, logger)
//	if err != nil {
//		panic(err)
//	}
//	if _, err := m.Initialize(ctx); err != nil {
//		panic(err)
//	}
//	defer m.Teardown()
package mirror
