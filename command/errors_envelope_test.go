package command

import (
	"context"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-oauth-broker/core"
)

func TestStartLinkMessage_ValidateReturnsRichError(t *testing.T) {
	err := (StartLinkMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.BrokerErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.BrokerErrorBadInput, rich.TextCode)
	}
	if rich.Code != http.StatusBadRequest {
		t.Fatalf("expected %d code, got %d", http.StatusBadRequest, rich.Code)
	}
	validation := rich.AllValidationErrors()
	if len(validation) == 0 || validation[0].Field != "service_id" {
		t.Fatalf("expected service_id validation field, got %#v", validation)
	}
}

func TestStartLinkCommand_NilServiceReturnsRichError(t *testing.T) {
	var cmd *StartLinkCommand
	err := cmd.Execute(context.Background(), StartLinkMessage{})
	if err == nil {
		t.Fatalf("expected command dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.BrokerErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.BrokerErrorInternal, rich.TextCode)
	}
}
