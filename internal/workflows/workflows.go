// Package workflows defines the two profile dialogues on top of the flow
// engine: opening an existing browser profile at a URL and provisioning a
// batch of new profiles.
package workflows

import (
	"context"
	"encoding/json"

	"gasbot/internal/profile"
	"gasbot/internal/storage"
	logx "gasbot/pkg/logx"
)

const (
	FlowOpenProfile   = "open_profile"
	FlowCreateProfile = "create_profile"

	DefaultMaxCreateCount = 10
)

// ProfileAPI is the downstream provisioning surface the workflows submit to.
type ProfileAPI interface {
	Exists(ctx context.Context, id string) (bool, error)
	Open(ctx context.Context, r profile.OpenRequest) error
	Create(ctx context.Context, r profile.CreateRequest) error
}

// Auditor records confirmed submissions. Audit failures never fail the
// submission itself.
type Auditor interface {
	AppendProfileRequest(ctx context.Context, e storage.ProfileRequest) error
}

func audit(ctx context.Context, a Auditor, log logx.Logger, e storage.ProfileRequest) {
	if a == nil {
		return
	}
	if err := a.AppendProfileRequest(ctx, e); err != nil {
		log.Warn("profile request audit failed", logx.String("kind", e.Kind), logx.Err(err))
	}
}

func payloadJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
