//go:build llama

package manager

// The in-process generator links libllama from ./bin; at run time the
// binary also looks next to itself.

/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama -lstdc++ -lm
*/
import "C"
