package session

import (
	"context"

	"printlink/internal/logging"
	"printlink/internal/protocol"
	"printlink/internal/services"
)

// ObserveDiscovery compares each descriptor's error label against the last
// one seen for that device and notifies only on change. A device whose error
// cleared forgets its label, so the same error notifies again if it returns.
// It never changes connection state.
func (m *Manager) ObserveDiscovery(ctx context.Context, descriptors []protocol.Descriptor) {
	type notice struct {
		desc  protocol.Descriptor
		label string
	}
	var notices []notice

	m.mu.Lock()
	for _, desc := range descriptors {
		if desc.ID == "" {
			continue
		}
		if desc.Name != "" {
			m.names[desc.ID] = desc.Name
		}
		label := services.NormalizeLabel(desc.ErrorLabel)
		if label == "" {
			delete(m.errLabels, desc.ID)
			continue
		}
		if m.errLabels[desc.ID] == label {
			continue
		}
		m.errLabels[desc.ID] = label
		notices = append(notices, notice{desc: desc, label: label})
	}
	m.mu.Unlock()

	for _, n := range notices {
		logger := deviceLogger(ctx, m.logger, n.desc.ID)
		logging.WarnWithContext(logger, "device reported an error", "device_error",
			logging.String(logging.FieldErrorLabel, n.label),
			logging.String(logging.FieldErrorHint, "inspect the printer"),
			logging.String(logging.FieldImpact, "the current job may be interrupted"),
		)
		if m.notifier == nil {
			continue
		}
		if err := m.notifier.NotifyDeviceError(ctx, n.desc, n.label); err != nil {
			logger.Debug("device error notification failed", logging.Error(err))
		}
	}
}

// LastErrorLabel returns the remembered discovery error label for id.
func (m *Manager) LastErrorLabel(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errLabels[id]
}
