// Package resolved configures per-link DNS settings in systemd-resolved
// over D-Bus. Mutating calls are executed asynchronously on a single
// background worker owned by the Manager; failures that exhaust the
// retry budget are collected per link and can be drained by the caller.
package resolved

import (
	dbus "github.com/godbus/dbus/v5"
)

// Client is the slice of a D-Bus connection the proxy needs. It exists
// so the dispatcher, the links and the tests can run against something
// other than a live system bus.
type Client interface {
	// Call invokes iface.method on the object at path and stores the
	// reply arguments, if any, into ret.
	Call(path dbus.ObjectPath, iface, method string, args []interface{}, ret ...interface{}) error

	// GetProperty reads the property iface.name from the object at path.
	GetProperty(path dbus.ObjectPath, iface, name string) (dbus.Variant, error)

	// Introspect returns the introspection document for the object at path.
	Introspect(path dbus.ObjectPath) (string, error)

	// StartService asks the bus daemon to activate the named service.
	StartService(name string) (uint32, error)

	// NameOwner returns the unique bus name currently owning name.
	NameOwner(name string) (string, error)
}

// Bus implements Client against one destination on an established
// D-Bus connection. The connection is owned by the caller and is not
// closed here.
type Bus struct {
	conn *dbus.Conn
	dest string
}

// NewBus wraps conn for calls against the given destination.
func NewBus(conn *dbus.Conn, dest string) *Bus {
	return &Bus{conn: conn, dest: dest}
}

func (b *Bus) Call(path dbus.ObjectPath, iface, method string, args []interface{}, ret ...interface{}) error {
	return b.conn.Object(b.dest, path).Call(iface+"."+method, 0, args...).Store(ret...)
}

func (b *Bus) GetProperty(path dbus.ObjectPath, iface, name string) (dbus.Variant, error) {
	return b.conn.Object(b.dest, path).GetProperty(iface + "." + name)
}

func (b *Bus) Introspect(path dbus.ObjectPath) (string, error) {
	var doc string
	err := b.conn.Object(b.dest, path).Call("org.freedesktop.DBus.Introspectable.Introspect", 0).Store(&doc)
	return doc, err
}

func (b *Bus) StartService(name string) (uint32, error) {
	var result uint32
	err := b.conn.BusObject().Call("org.freedesktop.DBus.StartServiceByName", 0, name, uint32(0)).Store(&result)
	return result, err
}

func (b *Bus) NameOwner(name string) (string, error) {
	var owner string
	err := b.conn.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, name).Store(&owner)
	return owner, err
}
