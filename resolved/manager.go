package resolved

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fosrl/newt/logger"
	dbus "github.com/godbus/dbus/v5"
	"github.com/vishvananda/netlink"
)

// policyKitService must own a name on the bus before resolved accepts
// configuration changes from an unprivileged caller.
const policyKitService = "org.freedesktop.PolicyKit1"

// Manager is the entry point of the proxy. It owns the background
// dispatcher and the shared per-link error store, and hands out Link
// objects for local network devices.
type Manager struct {
	client     Client
	dispatcher *Dispatcher
	errors     *ErrorStorage
}

// NewManager binds the proxy to systemd-resolved over an already
// established bus connection. The connection stays owned by the
// caller. Construction fails when the PolicyKit authorization broker
// cannot be reached; without it every configuration request would be
// denied anyway.
func NewManager(conn *dbus.Conn) (*Manager, error) {
	return newManager(NewBus(conn, resolvedService))
}

func newManager(client Client) (*Manager, error) {
	if err := checkAuthorizationBroker(client); err != nil {
		return nil, err
	}
	m := &Manager{
		client:     client,
		dispatcher: NewDispatcher(client),
		errors:     NewErrorStorage(),
	}
	m.dispatcher.Start()
	return m, nil
}

func checkAuthorizationBroker(client Client) error {
	brokerErr := fmt.Errorf("could not access %s (polkitd) service, cannot configure systemd-resolved integration", policyKitService)
	result, err := client.StartService(policyKitService)
	if err != nil || result < 1 {
		return brokerErr
	}
	owner, err := client.NameOwner(policyKitService)
	if err != nil || owner == "" {
		return brokerErr
	}
	return nil
}

// Close stops the background dispatcher and waits for its worker, so
// no background call outlives the manager. Queued but unexecuted calls
// are dropped.
func (m *Manager) Close() {
	m.dispatcher.Stop()
}

// Errors exposes the shared per-link error store.
func (m *Manager) Errors() *ErrorStorage {
	return m.errors
}

// RetrieveLink resolves a local device name to its per-link resolved
// proxy. Returns (nil, nil) when resolved knows no link for the
// device; whether that matters is up to the caller.
func (m *Manager) RetrieveLink(device string) (*Link, error) {
	lnk, err := netlink.LinkByName(device)
	if err != nil {
		return nil, fmt.Errorf("could not retrieve if_index for '%s': %w", device, err)
	}
	ifIndex := int32(lnk.Attrs().Index)

	path, err := m.GetLink(ifIndex)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}
	logger.Debug("Resolved device %s (if_index %d) to %s", device, ifIndex, path)
	return newLink(m.client, m.dispatcher, m.errors, ifIndex, path, device), nil
}

// GetLink returns the resolved object path for an interface index, or
// an empty path when the service reports no such link.
func (m *Manager) GetLink(ifIndex int32) (dbus.ObjectPath, error) {
	var path dbus.ObjectPath
	err := m.client.Call(resolvedPath, managerInterface, "GetLink", []interface{}{ifIndex}, &path)
	if err != nil {
		if isNoSuchLink(err) {
			return "", nil
		}
		return "", fmt.Errorf("could not retrieve systemd-resolved path for if_index %d: %w", ifIndex, err)
	}
	return path, nil
}

func isNoSuchLink(err error) bool {
	var dbusErr dbus.Error
	return errors.As(err, &dbusErr) && strings.HasSuffix(dbusErr.Name, ".NoSuchLink")
}
