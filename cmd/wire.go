package cmd

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/gemini-pool/internal/adapters/codeassist"
	credentialsfile "github.com/bnema/gemini-pool/internal/adapters/credentials/file"
	"github.com/bnema/gemini-pool/internal/adapters/httpapi"
	"github.com/bnema/gemini-pool/internal/adapters/oauth"
	statusadapter "github.com/bnema/gemini-pool/internal/adapters/render/status"
	"github.com/bnema/gemini-pool/internal/application"
	"github.com/bnema/gemini-pool/internal/config"
	"github.com/bnema/gemini-pool/internal/domain"
	"github.com/bnema/gemini-pool/internal/ports"
	"golang.org/x/oauth2"
)

const loginTimeout = 5 * time.Minute

type app struct {
	cfg            config.Config
	store          *credentialsfile.Store
	upstream       *codeassist.Client
	oauthConfig    *oauth2.Config
	pool           *application.PoolService
	statusRenderer func([]domain.AccountStatus, statusadapter.RenderOptions) (string, error)
	management     func(baseURL string) *httpapi.ManagementClient
	loginTimeout   time.Duration
	now            func() time.Time
}

// wireApp composes the adapters around one shared keep-alive transport.
// Nothing touches the network until the pool is started.
func wireApp(cfg config.Config) (*app, error) {
	transport, err := codeassist.NewTransport(cfg.Proxy)
	if err != nil {
		return nil, fmt.Errorf("wire upstream transport: %w", err)
	}

	httpClient := &http.Client{Transport: transport}
	upstream := codeassist.NewClient(codeassist.Options{
		BaseURL:    cfg.Upstream.BaseURL,
		APIVersion: cfg.Upstream.APIVersion,
		HTTPClient: httpClient,
	})

	oauthConfig := oauth.NewConfig(cfg.OAuth.ClientID, cfg.OAuth.ClientSecret)
	store := credentialsfile.NewStore(cfg.Accounts.Dir)

	pool := application.NewPoolService(
		store,
		oauth.NewRefresher(oauthConfig, upstream.HTTPClient()),
		upstream,
		ports.SystemClock{},
		application.PoolOptions{
			MaxAttempts: cfg.Pool.MaxAttempts,
			DecayFactor: cfg.Pool.DecayFactor,
		},
	)

	return &app{
		cfg:            cfg,
		store:          store,
		upstream:       upstream,
		oauthConfig:    oauthConfig,
		pool:           pool,
		statusRenderer: statusadapter.Render,
		management: func(baseURL string) *httpapi.ManagementClient {
			return httpapi.NewManagementClient(baseURL, &http.Client{Timeout: 30 * time.Second})
		},
		loginTimeout: loginTimeout,
		now:          time.Now,
	}, nil
}

// gatewayURL is where a locally running gateway is reachable.
func (a *app) gatewayURL() string {
	host := a.cfg.Server.Host
	switch strings.TrimSpace(host) {
	case "", "0.0.0.0", "::", "[::]":
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, a.cfg.Server.Port)
}
