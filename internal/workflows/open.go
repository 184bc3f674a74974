package workflows

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"gasbot/internal/flow"
	"gasbot/internal/profile"
	"gasbot/internal/storage"
	logx "gasbot/pkg/logx"
)

// OpenProfile builds the open-profile dialogue: profile id, start URL,
// confirmation.
func OpenProfile(api ProfileAPI, auditor Auditor, log logx.Logger) *flow.Flow {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &flow.Flow{
		Name:  FlowOpenProfile,
		Title: "Open profile",
		Steps: []flow.Step{
			{
				Field:  "id",
				Prompt: "Send the profile ID to open.",
				Validate: func(ctx context.Context, _ map[string]string, input string) (string, error) {
					id := strings.TrimSpace(input)
					if id == "" {
						return "", flow.Invalid("Profile ID cannot be empty. Send the profile ID.")
					}
					ok, err := api.Exists(ctx, id)
					if err != nil {
						return "", fmt.Errorf("profile lookup: %w", err)
					}
					if !ok {
						return "", flow.Invalid("Profile %q was not found. Send an existing profile ID.", id)
					}
					return id, nil
				},
			},
			{
				Field:  "url",
				Prompt: "Send the URL to open in the profile.",
				Validate: func(_ context.Context, _ map[string]string, input string) (string, error) {
					return ValidateURL(input)
				},
			},
		},
		ConfirmPrompt: func(scratch map[string]string) string {
			return fmt.Sprintf("Open profile %s at %s?", scratch["id"], scratch["url"])
		},
		Submit: func(ctx context.Context, userID int64, scratch map[string]string) error {
			req := profile.OpenRequest{ID: scratch["id"], URL: scratch["url"]}
			err := api.Open(ctx, req)
			audit(ctx, auditor, log, storage.ProfileRequest{
				ActorID: userID,
				Kind:    "open",
				Payload: payloadJSON(req),
				OK:      err == nil,
				Error:   errString(err),
			})
			return err
		},
	}
}

// ValidateURL accepts absolute http(s) URLs with a host.
func ValidateURL(input string) (string, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return "", flow.Invalid("URL cannot be empty. Send a URL like https://example.com.")
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", flow.Invalid("That does not look like a URL. Send one like https://example.com.")
	}
	return u.String(), nil
}
