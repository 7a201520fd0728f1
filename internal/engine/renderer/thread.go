package renderer

import "runtime"

// glThread runs functions on a single locked OS thread. OpenGL contexts are
// bound to the thread that made them current, so every GL call goes through
// it.
type glThread struct {
	calls chan func()
	done  chan struct{}
}

func startThread() *glThread {
	t := &glThread{
		calls: make(chan func()),
		done:  make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *glThread) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.done)
	for f := range t.calls {
		f()
	}
}

// do runs f on the GL thread and waits for it to return.
func (t *glThread) do(f func()) {
	finished := make(chan struct{})
	t.calls <- func() {
		defer close(finished)
		f()
	}
	<-finished
}

// stop ends the thread after pending calls complete.
func (t *glThread) stop() {
	close(t.calls)
	<-t.done
}
