package broker

import (
	"fmt"

	"github.com/goliatone/go-oauth-broker/adapters/gocommand"
	brokercommand "github.com/goliatone/go-oauth-broker/command"
	brokerquery "github.com/goliatone/go-oauth-broker/query"
)

type CommandQueryService interface {
	brokercommand.LinkStarter
	brokerquery.LinkStatusReader
	brokerquery.AccessTokenReader
	brokerquery.AccessTokenExpiryReader
}

type Commands struct {
	StartLink *brokercommand.StartLinkCommand
}

type Queries struct {
	IsLinked          *brokerquery.IsLinkedQuery
	AccessToken       *brokerquery.AccessTokenQuery
	AccessTokenExpiry *brokerquery.AccessTokenExpiryQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("broker: command/query service is required")
	}
	return &Facade{
		service: service,
		commands: Commands{
			StartLink: brokercommand.NewStartLinkCommand(service),
		},
		queries: Queries{
			IsLinked:          brokerquery.NewIsLinkedQuery(service),
			AccessToken:       brokerquery.NewAccessTokenQuery(service),
			AccessTokenExpiry: brokerquery.NewAccessTokenExpiryQuery(service),
		},
	}, nil
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

// Register adds every handler to the registry and subscribes it on the
// go-command dispatcher. On failure the subscriptions made so far are
// released.
func (f *Facade) Register(adapter *gocommand.RegistryAdapter) (gocommand.Subscriptions, error) {
	if f == nil {
		return nil, fmt.Errorf("broker: facade is nil")
	}
	subscriptions := make(gocommand.Subscriptions, 0, 4)
	release := func() { subscriptions.Unsubscribe() }

	sub, err := gocommand.RegisterAndSubscribe[brokercommand.StartLinkMessage](adapter, f.commands.StartLink)
	if err != nil {
		return nil, err
	}
	subscriptions = append(subscriptions, sub)

	sub, err = gocommand.RegisterAndSubscribeQuery[brokerquery.IsLinkedMessage, bool](adapter, f.queries.IsLinked)
	if err != nil {
		release()
		return nil, err
	}
	subscriptions = append(subscriptions, sub)

	sub, err = gocommand.RegisterAndSubscribeQuery[brokerquery.AccessTokenMessage, brokerquery.AccessTokenResult](
		adapter, f.queries.AccessToken,
	)
	if err != nil {
		release()
		return nil, err
	}
	subscriptions = append(subscriptions, sub)

	sub, err = gocommand.RegisterAndSubscribeQuery[brokerquery.AccessTokenExpiryMessage, brokerquery.AccessTokenExpiryResult](
		adapter, f.queries.AccessTokenExpiry,
	)
	if err != nil {
		release()
		return nil, err
	}
	subscriptions = append(subscriptions, sub)

	return subscriptions, nil
}
