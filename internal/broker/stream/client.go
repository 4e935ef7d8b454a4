package stream

import (
	"context"

	"topstepx-engine/internal/events"
)

// Client owns the two broker hubs (user and market) and the bus they
// publish onto.
type Client struct {
	User   *Hub
	Market *Hub
	Bus    *events.Bus
}

// Config points the two hubs at their respective SignalR endpoints.
type Config struct {
	UserHubURL   string
	MarketHubURL string
}

// New builds a Client. Both hubs share one token source and one bus.
func New(cfg Config, token TokenFunc, bus *events.Bus) *Client {
	return &Client{
		User:   NewHub(events.HubUser, cfg.UserHubURL, token, bus),
		Market: NewHub(events.HubMarket, cfg.MarketHubURL, token, bus),
		Bus:    bus,
	}
}

// Run starts both hubs and blocks until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	done := make(chan struct{}, 2)
	go func() { c.User.Run(ctx); done <- struct{}{} }()
	go func() { c.Market.Run(ctx); done <- struct{}{} }()
	<-done
	<-done
}
