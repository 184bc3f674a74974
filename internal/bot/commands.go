package bot

import (
	"context"
	"fmt"

	"gasbot/internal/flow"
	"gasbot/internal/monitor"
	"gasbot/internal/storage"
	"gasbot/internal/workflows"
)

// Deps carries everything the built-in command handlers need.
type Deps struct {
	Store   storage.Store
	Engine  *flow.Engine
	Monitor *monitor.Service
}

// Commands returns the bot's command set in menu order.
func Commands(d Deps) []Command {
	return []Command{
		{
			Name:        "start",
			Description: "start working with the bot",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx,
					"Hi! I watch the network gas price.\n"+
						"/alert — toggle gas notifications\n"+
						"/gas — current gas price\n"+
						"/open_profile — open a browser profile\n"+
						"/create_profile — create browser profiles\n"+
						"/cancel — abort the current dialogue")
			},
		},
		{
			Name:        "gas",
			Description: "show the current gas price",
			Handle: func(ctx context.Context, req *Request) error {
				p, ok := d.Monitor.Last()
				if !ok {
					return req.Reply(ctx, "No gas reading yet, try again in a moment.")
				}
				return req.Reply(ctx, monitor.FormatPrice(p))
			},
		},
		{
			Name:        "alert",
			Description: "toggle gas price notifications",
			Handle: func(ctx context.Context, req *Request) error {
				enabled, err := d.Store.Subscription(ctx, req.FromID)
				if err != nil {
					return fmt.Errorf("subscription lookup: %w", err)
				}
				if err := d.Store.SetSubscription(ctx, req.FromID, req.FromUsername, !enabled); err != nil {
					return fmt.Errorf("subscription update: %w", err)
				}
				if enabled {
					return req.Reply(ctx, "Gas notifications disabled.")
				}
				return req.Reply(ctx, "Gas notifications enabled. You will receive the price periodically.")
			},
		},
		{
			Name:        "open_profile",
			Description: "open a browser profile at a URL",
			Handle: func(ctx context.Context, req *Request) error {
				reply, err := d.Engine.Start(ctx, req.FromID, workflows.FlowOpenProfile)
				if err != nil {
					return err
				}
				return req.Reply(ctx, reply.Text)
			},
		},
		{
			Name:        "create_profile",
			Description: "create a batch of browser profiles",
			Handle: func(ctx context.Context, req *Request) error {
				reply, err := d.Engine.Start(ctx, req.FromID, workflows.FlowCreateProfile)
				if err != nil {
					return err
				}
				return req.Reply(ctx, reply.Text)
			},
		},
		{
			Name:        "cancel",
			Description: "abort the current dialogue",
			Handle: func(ctx context.Context, req *Request) error {
				if d.Engine.Cancel(req.FromID) {
					return req.Reply(ctx, "Cancelled.")
				}
				return req.Reply(ctx, "Nothing to cancel.")
			},
		},
		{
			Name:        "get_user_info",
			Description: "show stored data for your account",
			Access:      AccessOwnerOnly,
			Handle: func(ctx context.Context, req *Request) error {
				enabled, err := d.Store.Subscription(ctx, req.FromID)
				if err != nil {
					return fmt.Errorf("subscription lookup: %w", err)
				}
				return req.Reply(ctx, fmt.Sprintf(
					"id: %d\nusername: %s\nalerts: %v\ndialogue: %s",
					req.FromID, req.FromUsername, enabled, d.Engine.StateName(req.FromID)))
			},
		},
	}
}
