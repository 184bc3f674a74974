package workflows

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gasbot/internal/flow"
	"gasbot/internal/profile"
	"gasbot/internal/storage"
	logx "gasbot/pkg/logx"
)

func isValidation(err error) bool {
	var verr *flow.ValidationError
	return errors.As(err, &verr)
}

func TestValidateURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "https://example.com/page", want: "https://example.com/page", ok: true},
		{in: "  http://a.b  ", want: "http://a.b", ok: true},
		{in: "", ok: false},
		{in: "example.com", ok: false},
		{in: "ftp://example.com", ok: false},
		{in: "https://", ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ValidateURL(tt.in)
			if tt.ok {
				if err != nil || got != tt.want {
					t.Fatalf("ValidateURL(%q) = (%q, %v)", tt.in, got, err)
				}
				return
			}
			if !isValidation(err) {
				t.Fatalf("ValidateURL(%q) err = %v, want validation error", tt.in, err)
			}
		})
	}
}

func TestValidateCount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		max  int
		want string
		ok   bool
	}{
		{in: "3", max: 10, want: "3", ok: true},
		{in: " 10 ", max: 10, want: "10", ok: true},
		{in: "0", max: 10, ok: false},
		{in: "-2", max: 10, ok: false},
		{in: "11", max: 10, ok: false},
		{in: "three", max: 10, ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ValidateCount(tt.in, tt.max)
			if tt.ok {
				if err != nil || got != tt.want {
					t.Fatalf("ValidateCount(%q) = (%q, %v)", tt.in, got, err)
				}
				return
			}
			if !isValidation(err) {
				t.Fatalf("ValidateCount(%q) err = %v, want validation error", tt.in, err)
			}
		})
	}
}

func TestValidateAppID(t *testing.T) {
	t.Parallel()
	if _, err := ValidateAppID("my-app_01"); err != nil {
		t.Fatalf("valid app id rejected: %v", err)
	}
	for _, in := range []string{"", "   ", "two words"} {
		if _, err := ValidateAppID(in); !isValidation(err) {
			t.Fatalf("ValidateAppID(%q) err = %v, want validation error", in, err)
		}
	}
}

func TestValidateProxiesExactCount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want int
		ok   bool
	}{
		{name: "exact match newline", in: "1.2.3.4:8080\n5.6.7.8:3128", want: 2, ok: true},
		{name: "comma separated", in: "a.example:1080, b.example:1080", want: 2, ok: true},
		{name: "with creds", in: "user:pass@1.2.3.4:8080", want: 1, ok: true},
		{name: "with scheme", in: "socks5://1.2.3.4:1080", want: 1, ok: true},
		{name: "too few", in: "1.2.3.4:8080", want: 2, ok: false},
		{name: "too many", in: "a:1\nb:2\nc:3", want: 2, ok: false},
		{name: "empty", in: "   ", want: 1, ok: false},
		{name: "missing port", in: "1.2.3.4", want: 1, ok: false},
		{name: "bad port", in: "1.2.3.4:999999", want: 1, ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ValidateProxies(tt.in, tt.want)
			if tt.ok && err != nil {
				t.Fatalf("ValidateProxies(%q, %d) = %v", tt.in, tt.want, err)
			}
			if !tt.ok && !isValidation(err) {
				t.Fatalf("ValidateProxies(%q, %d) err = %v, want validation error", tt.in, tt.want, err)
			}
		})
	}
}

func TestSplitProxies(t *testing.T) {
	t.Parallel()
	got := SplitProxies(" a:1 \n b:2,c:3\r\n\td:4 ")
	want := []string{"a:1", "b:2", "c:3", "d:4"}
	if len(got) != len(want) {
		t.Fatalf("SplitProxies = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SplitProxies = %v, want %v", got, want)
		}
	}
}

// ---- flow-level behavior with a fake API ----

type fakeAPI struct {
	known   map[string]bool
	lookErr error

	opened  []profile.OpenRequest
	created []profile.CreateRequest
	openErr error
}

func (f *fakeAPI) Exists(_ context.Context, id string) (bool, error) {
	return f.known[id], f.lookErr
}
func (f *fakeAPI) Open(_ context.Context, r profile.OpenRequest) error {
	f.opened = append(f.opened, r)
	return f.openErr
}
func (f *fakeAPI) Create(_ context.Context, r profile.CreateRequest) error {
	f.created = append(f.created, r)
	return nil
}

type fakeAuditor struct {
	entries []storage.ProfileRequest
}

func (f *fakeAuditor) AppendProfileRequest(_ context.Context, e storage.ProfileRequest) error {
	f.entries = append(f.entries, e)
	return nil
}

func TestOpenProfileIDLookup(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{known: map[string]bool{"42": true}}
	f := OpenProfile(api, nil, logx.Nop())

	idStep := f.Steps[0]
	if got, err := idStep.Validate(context.Background(), nil, " 42 "); err != nil || got != "42" {
		t.Fatalf("known id -> (%q, %v)", got, err)
	}
	if _, err := idStep.Validate(context.Background(), nil, "7"); !isValidation(err) {
		t.Fatalf("unknown id err = %v, want validation error", err)
	}

	api.lookErr = errors.New("api down")
	if _, err := idStep.Validate(context.Background(), nil, "42"); err == nil || isValidation(err) {
		t.Fatalf("lookup failure err = %v, want non-validation error", err)
	}
}

func TestOpenProfileSubmitAudits(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{known: map[string]bool{"42": true}}
	aud := &fakeAuditor{}
	f := OpenProfile(api, aud, logx.Nop())

	scratch := map[string]string{"id": "42", "url": "https://x"}
	if err := f.Submit(context.Background(), 77, scratch); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(api.opened) != 1 || api.opened[0] != (profile.OpenRequest{ID: "42", URL: "https://x"}) {
		t.Fatalf("opened = %+v", api.opened)
	}
	if len(aud.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(aud.entries))
	}
	e := aud.entries[0]
	if e.Kind != "open" || e.ActorID != 77 || !e.OK || !strings.Contains(e.Payload, `"42"`) {
		t.Fatalf("audit entry = %+v", e)
	}
}

func TestCreateProfileSubmitSplitsProxies(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	f := CreateProfile(api, nil, 5, logx.Nop())

	scratch := map[string]string{
		"count":   "2",
		"app_id":  "app1",
		"proxies": "a.example:1080\nb.example:1080",
	}
	if err := f.Submit(context.Background(), 1, scratch); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(api.created) != 1 {
		t.Fatalf("created = %+v", api.created)
	}
	got := api.created[0]
	if got.Count != 2 || got.AppID != "app1" || len(got.Proxies) != 2 {
		t.Fatalf("create request = %+v", got)
	}
}

func TestCreateProfileProxyStepUsesCollectedCount(t *testing.T) {
	t.Parallel()
	f := CreateProfile(&fakeAPI{}, nil, 5, logx.Nop())
	proxyStep := f.Steps[2]

	scratch := map[string]string{"count": "2"}
	if _, err := proxyStep.Validate(context.Background(), scratch, "a.example:1080"); !isValidation(err) {
		t.Fatalf("one proxy for count=2 err = %v, want validation error", err)
	}
	if _, err := proxyStep.Validate(context.Background(), scratch, "a.example:1080\nb.example:1080"); err != nil {
		t.Fatalf("matching list rejected: %v", err)
	}
}
