package workflows

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"gasbot/internal/flow"
	"gasbot/internal/profile"
	"gasbot/internal/storage"
	logx "gasbot/pkg/logx"
)

// CreateProfile builds the create-profile dialogue: count, app id, proxy
// list, confirmation. The proxy list must contain exactly one proxy per
// requested profile.
func CreateProfile(api ProfileAPI, auditor Auditor, maxCount int, log logx.Logger) *flow.Flow {
	if maxCount <= 0 {
		maxCount = DefaultMaxCreateCount
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &flow.Flow{
		Name:  FlowCreateProfile,
		Title: "Create profiles",
		Steps: []flow.Step{
			{
				Field:  "count",
				Prompt: fmt.Sprintf("How many profiles? (1-%d)", maxCount),
				Validate: func(_ context.Context, _ map[string]string, input string) (string, error) {
					return ValidateCount(input, maxCount)
				},
			},
			{
				Field:  "app_id",
				Prompt: "Send the application ID for the new profiles.",
				Validate: func(_ context.Context, _ map[string]string, input string) (string, error) {
					return ValidateAppID(input)
				},
			},
			{
				Field:  "proxies",
				Prompt: "Send the proxy list, one per line (host:port), one proxy per profile.",
				Validate: func(_ context.Context, scratch map[string]string, input string) (string, error) {
					count, _ := strconv.Atoi(scratch["count"])
					return ValidateProxies(input, count)
				},
			},
		},
		ConfirmPrompt: func(scratch map[string]string) string {
			return fmt.Sprintf("Create %s profile(s) for app %s with %s prox(ies)?",
				scratch["count"], scratch["app_id"], scratch["count"])
		},
		Submit: func(ctx context.Context, userID int64, scratch map[string]string) error {
			count, _ := strconv.Atoi(scratch["count"])
			req := profile.CreateRequest{
				Count:   count,
				AppID:   scratch["app_id"],
				Proxies: SplitProxies(scratch["proxies"]),
			}
			err := api.Create(ctx, req)
			audit(ctx, auditor, log, storage.ProfileRequest{
				ActorID: userID,
				Kind:    "create",
				Payload: payloadJSON(req),
				OK:      err == nil,
				Error:   errString(err),
			})
			return err
		},
	}
}

func ValidateCount(input string, max int) (string, error) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || n <= 0 {
		return "", flow.Invalid("Send a positive number of profiles.")
	}
	if n > max {
		return "", flow.Invalid("At most %d profiles at a time. Send a smaller number.", max)
	}
	return strconv.Itoa(n), nil
}

func ValidateAppID(input string) (string, error) {
	id := strings.TrimSpace(input)
	if id == "" {
		return "", flow.Invalid("Application ID cannot be empty.")
	}
	if strings.ContainsFunc(id, unicode.IsSpace) {
		return "", flow.Invalid("Application ID must be a single token without spaces.")
	}
	return id, nil
}

// ValidateProxies checks that the list holds exactly want well-formed
// entries. Stored normalized, newline-joined.
func ValidateProxies(input string, want int) (string, error) {
	proxies := SplitProxies(input)
	if len(proxies) == 0 {
		return "", flow.Invalid("Send at least one proxy (host:port), one per line.")
	}
	if want > 0 && len(proxies) != want {
		return "", flow.Invalid("Expected exactly %d prox(ies), got %d. One proxy per profile.", want, len(proxies))
	}
	for _, p := range proxies {
		if err := checkProxy(p); err != nil {
			return "", flow.Invalid("Proxy %q is malformed: send host:port entries.", p)
		}
	}
	return strings.Join(proxies, "\n"), nil
}

// SplitProxies tokenizes a pasted proxy list (newlines, commas, or spaces).
func SplitProxies(input string) []string {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ',' || r == ' ' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// checkProxy accepts host:port, user:pass@host:port, and scheme:// forms
// for http/https/socks5.
func checkProxy(raw string) error {
	hostport := raw
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return err
		}
		switch u.Scheme {
		case "http", "https", "socks5":
		default:
			return fmt.Errorf("unsupported scheme %q", u.Scheme)
		}
		hostport = u.Host
	} else if at := strings.LastIndexByte(raw, '@'); at >= 0 {
		hostport = raw[at+1:]
	}
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return err
	}
	if host == "" {
		return fmt.Errorf("empty host")
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("bad port %q", port)
	}
	return nil
}
