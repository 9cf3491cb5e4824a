package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ ServiceCatalog  = (*ServiceRegistry)(nil)
	_ MetricsRecorder = NopMetricsRecorder{}
	_ ConfigProvider  = (*CfgxConfigProvider)(nil)
	_ OptionsResolver = GoOptionsResolver{}
	_ CredentialStore = CredentialStoreFuncs{}
	_ CredentialCodec = PlainCredentialCodec{}
	_ CredentialCodec = (*SealedCredentialCodec)(nil)
	_ CodeExchanger   = (*Engine)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
