package query

import (
	"context"
	"net/http"
	"testing"

	"github.com/goliatone/go-dispatch/core"
	goerrors "github.com/goliatone/go-errors"
)

func TestQueryValidationError_ReturnsRichError(t *testing.T) {
	err := queryValidationError("job_id", "job id is required")
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
	if rich.TextCode != core.DispatchErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.DispatchErrorBadInput, rich.TextCode)
	}
	if rich.Code != http.StatusBadRequest {
		t.Fatalf("expected %d code, got %d", http.StatusBadRequest, rich.Code)
	}
	validation := rich.AllValidationErrors()
	if len(validation) == 0 {
		t.Fatalf("expected validation errors in envelope")
	}
	if validation[0].Field != "job_id" {
		t.Fatalf("expected job_id validation field, got %q", validation[0].Field)
	}
}

func TestGetJobQuery_NilReaderReturnsRichError(t *testing.T) {
	var q *GetJobQuery
	_, err := q.Query(context.Background(), GetJobMessage{})
	if err == nil {
		t.Fatalf("expected dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.DispatchErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.DispatchErrorInternal, rich.TextCode)
	}
	if rich.Code != http.StatusInternalServerError {
		t.Fatalf("expected %d code, got %d", http.StatusInternalServerError, rich.Code)
	}
}
