package manager

import (
	"runtime"
	"runtime/debug"
)

// reclaim returns memory held by released models before new weights load.
// Native runtimes free their buffers in Close; this collects the Go side and
// hands freed pages back to the OS.
func (m *Manager) reclaim() {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	runtime.GC()
	debug.FreeOSMemory()
	runtime.ReadMemStats(&after)
	m.log.Debug().
		Uint64("heap_before", before.HeapInuse).
		Uint64("heap_after", after.HeapInuse).
		Msg("memory reclaimed")
}
