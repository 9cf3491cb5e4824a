package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-oauth-broker/core"
)

type LinkStarter interface {
	BeginAuthorization(ctx context.Context, serviceID string, tenantID string, scope string) (core.AuthorizationStart, error)
}

type StartLinkCommand struct {
	service LinkStarter
}

func NewStartLinkCommand(service LinkStarter) *StartLinkCommand {
	return &StartLinkCommand{service: service}
}

// Execute stores the resulting core.AuthorizationStart in the context result
// collector when one is present.
func (c *StartLinkCommand) Execute(ctx context.Context, msg StartLinkMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: link service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.BeginAuthorization(ctx, msg.ServiceID, msg.TenantID, msg.Scope)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
