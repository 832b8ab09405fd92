package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func jobHandlers() repository.ModelHandlers[*jobRecord] {
	return repository.ModelHandlers[*jobRecord]{
		NewRecord: func() *jobRecord {
			return &jobRecord{}
		},
		GetID: func(record *jobRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *jobRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *jobRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func registrationHandlers() repository.ModelHandlers[*webhookRegistrationRecord] {
	return repository.ModelHandlers[*webhookRegistrationRecord]{
		NewRecord: func() *webhookRegistrationRecord {
			return &webhookRegistrationRecord{}
		},
		GetID: func(record *webhookRegistrationRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *webhookRegistrationRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *webhookRegistrationRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func attemptHandlers() repository.ModelHandlers[*deliveryAttemptRecord] {
	return repository.ModelHandlers[*deliveryAttemptRecord]{
		NewRecord: func() *deliveryAttemptRecord {
			return &deliveryAttemptRecord{}
		},
		GetID: func(record *deliveryAttemptRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *deliveryAttemptRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *deliveryAttemptRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
