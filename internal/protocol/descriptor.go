package protocol

import "sort"

// ConnectionStatus is the per-device connection state tracked by the session.
type ConnectionStatus string

const (
	ConnUnconnected  ConnectionStatus = "UNCONNECTED"
	ConnConnecting   ConnectionStatus = "CONNECTING"
	ConnConnected    ConnectionStatus = "CONNECTED"
	ConnAuthRequired ConnectionStatus = "AUTH_REQUIRED"
	ConnTimeout      ConnectionStatus = "TIMEOUT"
)

// Descriptor is one device entry supplied by the discovery feed.
type Descriptor struct {
	ID               string `json:"uuid"`
	Name             string `json:"name"`
	Serial           string `json:"serial,omitempty"`
	Status           string `json:"st_label,omitempty"`
	ErrorLabel       string `json:"error_label,omitempty"`
	PasswordRequired bool   `json:"password"`
	Address          string `json:"ipaddr,omitempty"`
}

// SortDescriptors orders descriptors by name, then id.
func SortDescriptors(list []Descriptor) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
}
