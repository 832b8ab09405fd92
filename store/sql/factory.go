package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-dispatch/core"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	jobStore          *JobStore
	registrationStore *RegistrationStore
	preferenceStore   *PreferenceStore
	attemptStore      *AttemptStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.jobStore != nil && f.registrationStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) JobStore() core.JobStore {
	if f == nil {
		return nil
	}
	return f.jobStore
}

func (f *RepositoryFactory) RegistrationStore() core.RegistrationStore {
	if f == nil {
		return nil
	}
	return f.registrationStore
}

func (f *RepositoryFactory) PreferenceStore() core.PreferenceStore {
	if f == nil {
		return nil
	}
	return f.preferenceStore
}

func (f *RepositoryFactory) AttemptStore() core.AttemptStore {
	if f == nil {
		return nil
	}
	return f.attemptStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	jobStore, err := NewJobStore(f.db)
	if err != nil {
		return err
	}
	f.jobStore = jobStore

	registrationStore, err := NewRegistrationStore(f.db)
	if err != nil {
		return err
	}
	f.registrationStore = registrationStore

	preferenceStore, err := NewPreferenceStore(f.db)
	if err != nil {
		return err
	}
	f.preferenceStore = preferenceStore

	attemptStore, err := NewAttemptStore(f.db)
	if err != nil {
		return err
	}
	f.attemptStore = attemptStore

	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
