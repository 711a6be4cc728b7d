package exception

import (
	"os"
	"runtime/debug"

	"github.com/mezonai/mmnchain/logx"
	"github.com/mezonai/mmnchain/monitoring"
)

// exit is swapped in tests.
var exit = os.Exit

// SafeGo runs fn on its own goroutine. A panic is logged and counted, and
// the goroutine ends.
func SafeGo(name string, fn func()) {
	go run(name, fn, false)
}

// SafeGoWithPanic is for goroutines the node cannot run without, such as
// chain maintenance. A panic is logged and the process exits with status 1.
func SafeGoWithPanic(name string, fn func()) {
	go run(name, fn, true)
}

func run(name string, fn func(), fatal bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		monitoring.IncreasePanicCount()
		logx.Error("PANIC", "goroutine ", name, " panicked: ", r, "\n", string(debug.Stack()))
		if fatal {
			exit(1)
		}
	}()
	fn()
}
