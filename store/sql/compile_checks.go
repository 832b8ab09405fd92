package sqlstore

import "github.com/goliatone/go-dispatch/core"

var (
	_ core.JobStore          = (*JobStore)(nil)
	_ core.RegistrationStore = (*RegistrationStore)(nil)
	_ core.PreferenceStore   = (*PreferenceStore)(nil)
	_ core.PreferenceStore   = (*CachedPreferenceStore)(nil)
	_ core.AttemptStore      = (*AttemptStore)(nil)
	_ core.StoreProvider     = (*RepositoryFactory)(nil)
)
