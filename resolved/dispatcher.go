package resolved

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fosrl/newt/logger"
	dbus "github.com/godbus/dbus/v5"

	"github.com/fosrl/resolved/dbusutil"
)

// Submission failures callers may want to branch on.
var (
	ErrDispatcherStopped = errors.New("background dispatcher not running")
	ErrTooManyTasks      = errors.New("too many background tasks running")
)

const (
	// maxBackgroundTasks bounds the number of submitted but not yet
	// completed calls. Hitting the bound fails that one submission,
	// not the dispatcher.
	maxBackgroundTasks = 65535

	callAttempts  = 3
	callRetryWait = time.Second
)

// backgroundCall carries everything one remote call needs. It holds no
// reference back to the Link that submitted it; the link may be long
// released by the time the worker gets here.
type backgroundCall struct {
	path      dbus.ObjectPath
	iface     string
	method    string
	args      []interface{}
	onFailure func(messages []string)
}

// Dispatcher serializes fire-and-forget resolved calls on a single
// worker goroutine. Each call is probed for existence and retried a
// bounded number of times; once the budget is exhausted the call's
// failure callback runs with the collected error messages.
type Dispatcher struct {
	client Client

	mu      sync.Mutex // serializes queue writes against Stop
	queue   chan *backgroundCall
	running atomic.Bool
	tasks   atomic.Int32
	done    chan struct{}

	attempts  int
	retryWait time.Duration
	pollWait  time.Duration
}

// NewDispatcher prepares a dispatcher bound to client. Start must be
// called before submissions are accepted.
func NewDispatcher(client Client) *Dispatcher {
	return &Dispatcher{
		client:    client,
		queue:     make(chan *backgroundCall, maxBackgroundTasks),
		done:      make(chan struct{}),
		attempts:  callAttempts,
		retryWait: callRetryWait,
		pollWait:  time.Second,
	}
}

// Start launches the worker goroutine. The worker stays alive while
// the queue is empty, until Stop.
func (d *Dispatcher) Start() {
	d.running.Store(true)
	go d.run()
}

// Stop refuses further submissions, signals the worker and waits for
// it to finish. Queued but not yet executed calls are discarded.
func (d *Dispatcher) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	d.mu.Lock()
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}

// ActiveTasks returns the number of submitted calls not yet completed.
func (d *Dispatcher) ActiveTasks() int {
	return int(d.tasks.Load())
}

// WaitForBackgroundTasks blocks, polling coarsely, until no submitted
// call remains outstanding. Meant for shutdown and test
// synchronization, not for latency-sensitive paths.
func (d *Dispatcher) WaitForBackgroundTasks() {
	for d.tasks.Load() > 0 {
		time.Sleep(d.pollWait)
	}
}

// Submit queues one remote call for the worker and returns without
// waiting for it. The args slice is handed over to the call and must
// not be reused by the caller.
func (d *Dispatcher) Submit(path dbus.ObjectPath, iface, method string, args []interface{}, onFailure func(messages []string)) error {
	if !d.running.Load() {
		return ErrDispatcherStopped
	}
	if path == "" || iface == "" {
		return fmt.Errorf("background call %s: target undefined", method)
	}
	for {
		n := d.tasks.Load()
		if n >= maxBackgroundTasks {
			return fmt.Errorf("%w (%d outstanding)", ErrTooManyTasks, n)
		}
		if d.tasks.CompareAndSwap(n, n+1) {
			break
		}
	}

	call := &backgroundCall{
		path:      path,
		iface:     iface,
		method:    method,
		args:      args,
		onFailure: onFailure,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		d.tasks.Add(-1)
		return ErrDispatcherStopped
	}
	// The queue is sized to the task ceiling, so this never blocks.
	d.queue <- call
	return nil
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for call := range d.queue {
		if d.running.Load() {
			d.execute(call)
		}
		d.tasks.Add(-1)
	}
}

// execute performs the probe-retry-call sequence for one queued call.
// Nothing in here may take down the worker; an unexpected panic during
// preparation is reported through the failure callback instead.
func (d *Dispatcher) execute(call *backgroundCall) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Background call %s.%s on %s could not be prepared: %v", call.iface, call.method, call.path, r)
			if call.onFailure != nil {
				call.onFailure([]string{fmt.Sprintf("%v", r)})
			}
		}
	}()

	var failures []string
	found := false
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if !dbusutil.CheckObjectExists(d.client, call.path, call.iface) {
			logger.Info("Background call %s.%s: object %s not found (attempt %d/%d)",
				call.iface, call.method, call.path, attempt, d.attempts)
			time.Sleep(d.retryWait)
			continue
		}
		found = true

		logger.Debug("Performing background call %s.%s on %s", call.iface, call.method, call.path)
		err := d.client.Call(call.path, call.iface, call.method, call.args)
		if err == nil {
			failures = nil
			break
		}

		failures = append(failures, err.Error())
		// Calls to systemd-resolved can simply time out; those and the
		// final attempt are always logged, intermediate failures only
		// at debug level.
		if isTimeout(err) || attempt == d.attempts {
			logger.Error("Background call %s.%s on %s failed: %v", call.iface, call.method, call.path, err)
		} else {
			logger.Debug("Background call %s.%s on %s failed, retrying: %v", call.iface, call.method, call.path, err)
		}
		time.Sleep(d.retryWait)
	}

	if !found && len(failures) == 0 {
		logger.Error("Background call %s.%s failed: object %s not found", call.iface, call.method, call.path)
		failures = []string{fmt.Sprintf("object %s not found", call.path)}
	}
	if len(failures) > 0 && call.onFailure != nil {
		call.onFailure(failures)
	}

	// The call owned its payload exclusively; release it here.
	call.args = nil
}

func isTimeout(err error) bool {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) && dbusErr.Name == "org.freedesktop.DBus.Error.NoReply" {
		return true
	}
	return strings.Contains(err.Error(), "imeout")
}
