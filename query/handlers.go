package query

import (
	"context"
	"time"
)

type LinkStatusReader interface {
	IsLinked(ctx context.Context, serviceID string, tenantID string) (bool, error)
}

type AccessTokenReader interface {
	GetAccessToken(ctx context.Context, serviceID string, tenantID string) (string, bool, error)
}

type AccessTokenExpiryReader interface {
	AccessTokenExpiry(ctx context.Context, serviceID string, tenantID string) (time.Time, bool, error)
}

type IsLinkedQuery struct {
	reader LinkStatusReader
}

func NewIsLinkedQuery(reader LinkStatusReader) *IsLinkedQuery {
	return &IsLinkedQuery{reader: reader}
}

func (q *IsLinkedQuery) Query(ctx context.Context, msg IsLinkedMessage) (bool, error) {
	if q == nil || q.reader == nil {
		return false, queryDependencyError("query: link status reader is required")
	}
	if err := msg.Validate(); err != nil {
		return false, err
	}
	return q.reader.IsLinked(ctx, msg.ServiceID, msg.TenantID)
}

// AccessTokenQuery may refresh the stored credential before answering.
type AccessTokenQuery struct {
	reader AccessTokenReader
}

func NewAccessTokenQuery(reader AccessTokenReader) *AccessTokenQuery {
	return &AccessTokenQuery{reader: reader}
}

func (q *AccessTokenQuery) Query(ctx context.Context, msg AccessTokenMessage) (AccessTokenResult, error) {
	if q == nil || q.reader == nil {
		return AccessTokenResult{}, queryDependencyError("query: access token reader is required")
	}
	if err := msg.Validate(); err != nil {
		return AccessTokenResult{}, err
	}
	token, found, err := q.reader.GetAccessToken(ctx, msg.ServiceID, msg.TenantID)
	if err != nil {
		return AccessTokenResult{}, err
	}
	return AccessTokenResult{AccessToken: token, Found: found}, nil
}

type AccessTokenExpiryQuery struct {
	reader AccessTokenExpiryReader
}

func NewAccessTokenExpiryQuery(reader AccessTokenExpiryReader) *AccessTokenExpiryQuery {
	return &AccessTokenExpiryQuery{reader: reader}
}

func (q *AccessTokenExpiryQuery) Query(ctx context.Context, msg AccessTokenExpiryMessage) (AccessTokenExpiryResult, error) {
	if q == nil || q.reader == nil {
		return AccessTokenExpiryResult{}, queryDependencyError("query: access token expiry reader is required")
	}
	if err := msg.Validate(); err != nil {
		return AccessTokenExpiryResult{}, err
	}
	expiresAt, found, err := q.reader.AccessTokenExpiry(ctx, msg.ServiceID, msg.TenantID)
	if err != nil {
		return AccessTokenExpiryResult{}, err
	}
	return AccessTokenExpiryResult{ExpiresAt: expiresAt, Found: found}, nil
}
