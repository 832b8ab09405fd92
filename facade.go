package dispatch

import (
	"fmt"
	"reflect"

	dispatchcommand "github.com/goliatone/go-dispatch/command"
	dispatchquery "github.com/goliatone/go-dispatch/query"
)

// CommandQueryService is the surface the facade wires handlers against. The
// engine Service satisfies it; delivery history stays optional so read-only
// deployments can compose without an attempt store.
type CommandQueryService interface {
	dispatchcommand.MutatingService
	dispatchquery.JobReader
	dispatchquery.WebhookReader
	dispatchquery.PreferenceReader
}

type Commands struct {
	DispatchEvent   *dispatchcommand.DispatchEventCommand
	RegisterWebhook *dispatchcommand.RegisterWebhookCommand
	UpdateWebhook   *dispatchcommand.UpdateWebhookCommand
	DeleteWebhook   *dispatchcommand.DeleteWebhookCommand
	RetryJob        *dispatchcommand.RetryJobCommand
	SavePreferences *dispatchcommand.SavePreferencesCommand
	MarkAttemptRead *dispatchcommand.MarkAttemptReadCommand
	PutTemplate     *dispatchcommand.PutTemplateCommand
}

type Queries struct {
	GetJob          *dispatchquery.GetJobQuery
	JobCounts       *dispatchquery.JobCountsQuery
	GetWebhook      *dispatchquery.GetWebhookQuery
	ListWebhooks    *dispatchquery.ListWebhooksQuery
	GetPreferences  *dispatchquery.GetPreferencesQuery
	DeliveryHistory *dispatchquery.DeliveryHistoryQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	historyReader dispatchquery.HistoryReader
}

func WithHistoryReader(reader dispatchquery.HistoryReader) FacadeOption {
	return func(options *facadeOptions) {
		options.historyReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("dispatch: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	reader := cfg.historyReader
	if reader == nil {
		reader = resolveHistoryReader(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		DispatchEvent:   dispatchcommand.NewDispatchEventCommand(service),
		RegisterWebhook: dispatchcommand.NewRegisterWebhookCommand(service),
		UpdateWebhook:   dispatchcommand.NewUpdateWebhookCommand(service),
		DeleteWebhook:   dispatchcommand.NewDeleteWebhookCommand(service),
		RetryJob:        dispatchcommand.NewRetryJobCommand(service),
		SavePreferences: dispatchcommand.NewSavePreferencesCommand(service),
		MarkAttemptRead: dispatchcommand.NewMarkAttemptReadCommand(service),
		PutTemplate:     dispatchcommand.NewPutTemplateCommand(service),
	}
	facade.queries = Queries{
		GetJob:          dispatchquery.NewGetJobQuery(service),
		JobCounts:       dispatchquery.NewJobCountsQuery(service),
		GetWebhook:      dispatchquery.NewGetWebhookQuery(service),
		ListWebhooks:    dispatchquery.NewListWebhooksQuery(service),
		GetPreferences:  dispatchquery.NewGetPreferencesQuery(service),
		DeliveryHistory: dispatchquery.NewDeliveryHistoryQuery(reader),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// resolveHistoryReader falls back to the service itself, then to a zero-arg
// Tracker accessor exposed by composed services that keep the attempt log on
// a separate component.
func resolveHistoryReader(service CommandQueryService) dispatchquery.HistoryReader {
	if service == nil {
		return nil
	}
	if reader, ok := service.(dispatchquery.HistoryReader); ok {
		return reader
	}

	serviceValue := reflect.ValueOf(service)
	if !serviceValue.IsValid() {
		return nil
	}
	if serviceValue.Kind() == reflect.Ptr && serviceValue.IsNil() {
		return nil
	}
	method := serviceValue.MethodByName("Tracker")
	if !method.IsValid() || method.Type().NumIn() != 0 || method.Type().NumOut() != 1 {
		return nil
	}

	results, ok := safeReflectCall(method)
	if !ok || len(results) != 1 {
		return nil
	}
	candidate := results[0]
	if !candidate.IsValid() {
		return nil
	}
	if candidate.Kind() == reflect.Ptr && candidate.IsNil() {
		return nil
	}
	reader, ok := candidate.Interface().(dispatchquery.HistoryReader)
	if !ok {
		return nil
	}
	return reader
}

func safeReflectCall(method reflect.Value) (_ []reflect.Value, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return method.Call(nil), true
}
