package resolved

import (
	"fmt"
	"strings"
	"sync"
	"time"

	dbus "github.com/godbus/dbus/v5"
)

// stubBus is an in-memory Client with scriptable objects, properties,
// replies and failures. Introspection answers are generated from the
// registered object tree the same way a real service would.
type stubBus struct {
	mu sync.Mutex

	interfaces map[dbus.ObjectPath][]string
	children   map[dbus.ObjectPath][]string
	properties map[string]dbus.Variant
	callErrs   map[string]error
	replies    map[string]interface{}
	callDelay  time.Duration
	calls      []stubCall

	startServiceResult uint32
	startServiceErr    error
	nameOwner          string
	nameOwnerErr       error
}

type stubCall struct {
	Path   dbus.ObjectPath
	Iface  string
	Method string
	Args   []interface{}
}

func newStubBus() *stubBus {
	return &stubBus{
		interfaces:         make(map[dbus.ObjectPath][]string),
		children:           make(map[dbus.ObjectPath][]string),
		properties:         make(map[string]dbus.Variant),
		callErrs:           make(map[string]error),
		replies:            make(map[string]interface{}),
		startServiceResult: 1,
		nameOwner:          ":1.7",
	}
}

// addObject registers path with the given interfaces and makes it
// visible as a child of its parent, so existence probes succeed.
func (s *stubBus) addObject(path dbus.ObjectPath, ifaces ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interfaces[path] = ifaces
	p := string(path)
	idx := strings.LastIndex(p, "/")
	parent, child := p[:idx], p[idx+1:]
	if parent == "" {
		parent = "/"
	}
	pp := dbus.ObjectPath(parent)
	s.children[pp] = append(s.children[pp], child)
}

func (s *stubBus) setProperty(path dbus.ObjectPath, iface, name string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties[propKey(path, iface, name)] = dbus.MakeVariant(value)
}

func (s *stubBus) failCalls(iface, method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callErrs[iface+"."+method] = err
}

func (s *stubBus) recordedCalls() []stubCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stubCall(nil), s.calls...)
}

func (s *stubBus) clearCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func propKey(path dbus.ObjectPath, iface, name string) string {
	return fmt.Sprintf("%s %s.%s", path, iface, name)
}

func (s *stubBus) Call(path dbus.ObjectPath, iface, method string, args []interface{}, ret ...interface{}) error {
	s.mu.Lock()
	delay := s.callDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, stubCall{Path: path, Iface: iface, Method: method, Args: args})
	if err := s.callErrs[iface+"."+method]; err != nil {
		return err
	}
	if len(ret) > 0 {
		reply, ok := s.replies[iface+"."+method]
		if !ok {
			return fmt.Errorf("stub: no reply scripted for %s.%s", iface, method)
		}
		switch out := ret[0].(type) {
		case *dbus.ObjectPath:
			*out = reply.(dbus.ObjectPath)
		case *string:
			*out = reply.(string)
		default:
			return fmt.Errorf("stub: unsupported reply type %T", ret[0])
		}
	}
	return nil
}

func (s *stubBus) GetProperty(path dbus.ObjectPath, iface, name string) (dbus.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.properties[propKey(path, iface, name)]
	if !ok {
		return dbus.Variant{}, dbus.Error{Name: "org.freedesktop.DBus.Error.UnknownProperty"}
	}
	return v, nil
}

func (s *stubBus) Introspect(path dbus.ObjectPath) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ifaces, okI := s.interfaces[path]
	kids, okK := s.children[path]
	if !okI && !okK {
		return "", dbus.Error{Name: "org.freedesktop.DBus.Error.UnknownObject"}
	}
	var b strings.Builder
	b.WriteString("<node>")
	for _, i := range ifaces {
		fmt.Fprintf(&b, "<interface name=%q><method name=\"Noop\"/></interface>", i)
	}
	for _, k := range kids {
		fmt.Fprintf(&b, "<node name=%q/>", k)
	}
	b.WriteString("</node>")
	return b.String(), nil
}

func (s *stubBus) StartService(name string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startServiceResult, s.startServiceErr
}

func (s *stubBus) NameOwner(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nameOwner, s.nameOwnerErr
}

// registerResolved makes the resolved manager object probeable.
func registerResolved(s *stubBus) {
	s.addObject(resolvedPath, managerInterface)
}

// newTestDispatcher starts a dispatcher with short retry and poll
// delays so tests do not sit in second-long backoffs.
func newTestDispatcher(s *stubBus) *Dispatcher {
	d := NewDispatcher(s)
	d.attempts = 2
	d.retryWait = time.Millisecond
	d.pollWait = 2 * time.Millisecond
	d.Start()
	return d
}
