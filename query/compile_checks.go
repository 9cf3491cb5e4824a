package query

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Querier[IsLinkedMessage, bool]                             = (*IsLinkedQuery)(nil)
	_ gocmd.Querier[AccessTokenMessage, AccessTokenResult]             = (*AccessTokenQuery)(nil)
	_ gocmd.Querier[AccessTokenExpiryMessage, AccessTokenExpiryResult] = (*AccessTokenExpiryQuery)(nil)
)
