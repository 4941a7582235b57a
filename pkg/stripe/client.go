package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/fixora-backend/pkg/config"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"

	defaultHTTPTimeout = 30 * time.Second
)

// keyPrefixes lists the secret and restricted key prefixes accepted per env.
var keyPrefixes = map[string][]string{
	testEnv: {"sk_test_", "rk_test_"},
	liveEnv: {"sk_live_", "rk_live_"},
}

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Client holds the validated Stripe credentials. Constructing one installs
// the process-wide API key and backend used by the resource packages.
type Client struct {
	environment   string
	signingSecret string
}

// ClientParams configure NewClient. HTTPTimeout bounds a single API call;
// retries belong to gateway.NewRetrying so the SDK's own are disabled.
type ClientParams struct {
	Config      config.StripeConfig
	HTTPTimeout time.Duration
	Logger      *logger.Logger
}

func NewClient(ctx context.Context, params ClientParams) (*Client, error) {
	env, err := normalizeEnv(params.Config.Environment())
	if err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(params.Config.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	signingSecret := strings.TrimSpace(params.Config.WebhookSecret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}
	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	timeout := params.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if params.Logger != nil {
		backendCfg.LeveledLogger = &sdkLogger{ctx: ctx, logg: params.Logger}
	}
	stripe.Key = apiKey
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg))

	if params.Logger != nil {
		params.Logger.Info(params.Logger.WithField(ctx, "stripe_env", env), "stripe.client_initialized")
	}
	return &Client{environment: env, signingSecret: signingSecret}, nil
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

func normalizeEnv(raw string) (string, error) {
	env := strings.ToLower(strings.TrimSpace(raw))
	if env == "" {
		return testEnv, nil
	}
	if _, ok := keyPrefixes[env]; !ok {
		return "", errInvalidStripeEnv
	}
	return env, nil
}

func validateAPIKey(env, key string) error {
	prefixes, ok := keyPrefixes[env]
	if !ok {
		return errInvalidStripeEnv
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(key, prefix) {
			return nil
		}
	}
	return fmt.Errorf("stripe environment %q requires a key starting with one of %s", env, strings.Join(prefixes, ", "))
}

// sdkLogger routes stripe-go's leveled logs into the service logger. Debug
// and info lines are dropped since they echo every request.
type sdkLogger struct {
	ctx  context.Context
	logg *logger.Logger
}

func (l *sdkLogger) Debugf(string, ...interface{}) {}
func (l *sdkLogger) Infof(string, ...interface{})  {}

func (l *sdkLogger) Warnf(format string, v ...interface{}) {
	l.logg.Warn(l.ctx, "stripe.sdk: "+fmt.Sprintf(format, v...))
}

func (l *sdkLogger) Errorf(format string, v ...interface{}) {
	l.logg.Error(l.ctx, "stripe.sdk", fmt.Errorf(format, v...))
}
