package manager

import "clinicd/internal/common/fsutil"

// artifactSize returns the on-disk size of path in bytes; directories are
// summed. Returns 0 when path cannot be read.
func artifactSize(path string) int64 { return fsutil.Size(path) }
