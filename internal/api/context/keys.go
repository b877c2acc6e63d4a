package context

type Key string

const (
	Claims  Key = "claims"
	Tenant  Key = "tenant"
	Session Key = "session"
	Params  Key = "params"
)
