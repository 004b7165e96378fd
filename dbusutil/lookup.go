// Package dbusutil carries the D-Bus helpers the resolved proxy needs
// beyond what godbus provides: probing whether an object exists on a
// destination, and generating unique object paths.
package dbusutil

import (
	"encoding/xml"
	"errors"
	"strings"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// Introspector introspects objects on some bus destination.
type Introspector interface {
	Introspect(path dbus.ObjectPath) (string, error)
}

const (
	lookupAttempts = 3
	lookupWait     = 100 * time.Millisecond
)

// LookupObject reports whether path currently exists on the
// destination served by client. The parent object is introspected and
// searched for exactly one child node matching the final path segment.
// Malformed paths (no separator, or a trailing slash on a non-root
// path) fail before any bus traffic.
func LookupObject(client Introspector, path dbus.ObjectPath) (bool, error) {
	parent, child, err := splitPath(string(path))
	if err != nil {
		return false, err
	}

	node, ok := introspectNode(client, dbus.ObjectPath(parent))
	if !ok {
		return false, nil
	}

	if child == "" && parent == "/" {
		// Asking for the root object itself; it introspected cleanly,
		// so it exists.
		return true, nil
	}

	matches := 0
	for _, c := range node.Children {
		if c.Name == child {
			matches++
		}
	}
	return matches == 1, nil
}

// CheckObjectExists reports whether path exists on the destination
// and, when iface is non-empty, whether the object implements that
// interface.
func CheckObjectExists(client Introspector, path dbus.ObjectPath, iface string) bool {
	found, err := LookupObject(client, path)
	if err != nil || !found {
		return false
	}
	if iface == "" {
		return true
	}
	node, ok := introspectNode(client, path)
	if !ok {
		return false
	}
	for _, i := range node.Interfaces {
		if i.Name == iface {
			return true
		}
	}
	return false
}

// splitPath splits a D-Bus object path into its parent path and final
// segment.
func splitPath(path string) (parent, child string, err error) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", "", errors.New("invalid D-Bus path - no separator character found")
	}
	parent, child = path[:idx], path[idx+1:]
	if parent != "" && child == "" {
		return "", "", errors.New("invalid D-Bus path - no trailing slash (/) allowed")
	}
	if parent == "" {
		parent = "/"
	}
	return parent, child, nil
}

// introspectNode fetches and parses the introspection document for
// path. systemd services occasionally answer introspection with an
// empty or truncated document right after an object appeared, so a
// reply that does not parse into anything is retried a few times.
func introspectNode(client Introspector, path dbus.ObjectPath) (*introspect.Node, bool) {
	for attempt := 0; attempt < lookupAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(lookupWait)
		}
		doc, err := client.Introspect(path)
		if err != nil {
			continue
		}
		var node introspect.Node
		if err := xml.Unmarshal([]byte(doc), &node); err != nil {
			continue
		}
		if len(node.Interfaces) == 0 && len(node.Children) == 0 {
			continue
		}
		return &node, true
	}
	return nil, false
}
