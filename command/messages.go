package command

import (
	"strings"
)

const (
	TypeStartLink = "broker.command.link.start"
)

// StartLinkMessage asks for a consent URL linking TenantID to ServiceID.
type StartLinkMessage struct {
	ServiceID string
	TenantID  string
	Scope     string
}

func (StartLinkMessage) Type() string { return TypeStartLink }

func (m StartLinkMessage) Validate() error {
	if strings.TrimSpace(m.ServiceID) == "" {
		return commandValidationError("service_id", "service id is required")
	}
	if strings.TrimSpace(m.TenantID) == "" {
		return commandValidationError("tenant_id", "tenant id is required")
	}
	return nil
}
