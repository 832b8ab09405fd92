package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ RetryPolicy   = ExponentialRetryPolicy{}
	_ TemplateStore = (*MemoryTemplateStore)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
