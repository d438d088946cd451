package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// DefaultParamTTL bounds how long a fetched key is reused.
const DefaultParamTTL = 5 * time.Minute

// ssmAPI is the minimal AWS SSM interface required by ParamStore.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// tokenPayload is the JSON shape accepted in the parameter value.
type tokenPayload struct {
	Token string `json:"token"`
}

// ParamStore reads the key from a SecureString parameter and caches it.
type ParamStore struct {
	api  ssmAPI
	name string
	ttl  time.Duration
	now  func() time.Time

	mu        sync.Mutex
	cached    string
	fetchedAt time.Time
}

// NewParamStore creates a ParamStore for the named parameter.
func NewParamStore(api ssmAPI, name string, ttl time.Duration) (*ParamStore, error) {
	if api == nil {
		return nil, errors.New("credentials: ssm api must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("credentials: parameter name must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultParamTTL
	}
	return &ParamStore{api: api, name: name, ttl: ttl, now: time.Now}, nil
}

// APIKey returns the cached key or fetches a fresh one.
func (p *ParamStore) APIKey(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" && p.now().Sub(p.fetchedAt) < p.ttl {
		return p.cached, nil
	}

	withDecryption := true
	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &p.name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("credentials: get parameter %q: %w", p.name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("credentials: parameter missing value")
	}

	key := parseToken(*out.Parameter.Value)
	if key == "" {
		return "", fmt.Errorf("credentials: parameter %q holds an empty token", p.name)
	}
	p.cached = key
	p.fetchedAt = p.now()
	return key, nil
}

func parseToken(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err == nil {
			return strings.TrimSpace(tp.Token)
		}
	}
	return raw
}
