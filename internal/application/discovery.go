package application

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bnema/gemini-pool/internal/domain"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	placeholderProject = "default"
	defaultTierID      = "free-tier"

	onboardMaxPolls       = 10
	onboardInitialBackoff = time.Second
	onboardMaxBackoff     = 16 * time.Second
	onboardMaxJitter      = 500 * time.Millisecond

	maxDiscoveryBody = 1 << 20
)

type clientMetadata struct {
	IDEType     string `json:"ideType"`
	Platform    string `json:"platform"`
	PluginType  string `json:"pluginType"`
	DuetProject string `json:"duetProject"`
}

type loadCodeAssistRequest struct {
	CloudAICompanionProject string         `json:"cloudaicompanionProject"`
	Metadata                clientMetadata `json:"metadata"`
}

type onboardUserRequest struct {
	TierID                  string         `json:"tierId"`
	CloudAICompanionProject string         `json:"cloudaicompanionProject"`
	Metadata                clientMetadata `json:"metadata"`
}

var discoveryMetadata = clientMetadata{
	IDEType:     "IDE_UNSPECIFIED",
	Platform:    "PLATFORM_UNSPECIFIED",
	PluginType:  "GEMINI",
	DuetProject: placeholderProject,
}

// discoverProjectID resolves the account's project. It first asks the
// identity endpoint; accounts without a project are onboarded onto their
// default tier and the resulting operation is polled until done.
func (p *PoolService) discoverProjectID(ctx context.Context, account *domain.Account) (string, error) {
	logger := log.WithField("account", account.ID)
	call := p.boundCall(account)

	load, err := callJSON(ctx, call, "loadCodeAssist", loadCodeAssistRequest{
		CloudAICompanionProject: placeholderProject,
		Metadata:                discoveryMetadata,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrDiscoveryFailed, err)
	}

	if projectID := companionProject(load.Get("cloudaicompanionProject")); projectID != "" {
		logger.WithField("project", projectID).Info("project discovered")
		return p.adoptProject(ctx, account, projectID), nil
	}

	tierID := load.Get("allowedTiers.#(isDefault==true).id").String()
	if tierID == "" {
		tierID = defaultTierID
	}
	logger.WithField("tier", tierID).Info("no project assigned, onboarding")

	onboard := onboardUserRequest{
		TierID:                  tierID,
		CloudAICompanionProject: placeholderProject,
		Metadata:                discoveryMetadata,
	}
	operation, err := callJSON(ctx, call, "onboardUser", onboard)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrDiscoveryFailed, err)
	}

	backoff := onboardInitialBackoff
	for polls := 0; !operation.Get("done").Bool(); polls++ {
		if polls >= onboardMaxPolls {
			return "", fmt.Errorf("%w: %w", domain.ErrDiscoveryFailed, domain.ErrDiscoveryTimeout)
		}

		if err := p.sleep(ctx, backoff+p.jitter(onboardMaxJitter)); err != nil {
			return "", err
		}
		backoff = min(backoff*2, onboardMaxBackoff)

		operation, err = p.pollOnboarding(ctx, account, call, operation, onboard)
		if err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrDiscoveryFailed, err)
		}
	}

	projectID := companionProject(operation.Get("response.cloudaicompanionProject"))
	if projectID == "" {
		return "", fmt.Errorf("%w: onboarding completed without a project id", domain.ErrDiscoveryFailed)
	}

	logger.WithField("project", projectID).Info("onboarding completed")
	return p.adoptProject(ctx, account, projectID), nil
}

// pollOnboarding fetches the operation by name when the server returned
// one and otherwise resubmits the onboarding request.
func (p *PoolService) pollOnboarding(ctx context.Context, account *domain.Account, call CallFunc, operation gjson.Result, onboard onboardUserRequest) (gjson.Result, error) {
	name := operation.Get("name").String()
	if name == "" {
		return callJSON(ctx, call, "onboardUser", onboard)
	}

	body, err := p.upstream.GetOperation(ctx, account.Token().AccessToken, name)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("operation %s: invalid JSON response", name)
	}
	return gjson.ParseBytes(body), nil
}

func (p *PoolService) adoptProject(ctx context.Context, account *domain.Account, projectID string) string {
	account.SetProjectID(projectID)
	p.persist(ctx, account)
	return projectID
}

// companionProject reads a project id that is either a bare string or an
// object carrying an id.
func companionProject(value gjson.Result) string {
	if value.IsObject() {
		return strings.TrimSpace(value.Get("id").String())
	}
	if value.Type == gjson.String {
		return strings.TrimSpace(value.String())
	}
	return ""
}

func callJSON(ctx context.Context, call CallFunc, method string, payload any) (gjson.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("encode %s request: %w", method, err)
	}

	rc, err := call(ctx, method, body)
	if err != nil {
		return gjson.Result{}, err
	}
	defer func() { _ = rc.Close() }()

	raw, err := io.ReadAll(io.LimitReader(rc, maxDiscoveryBody))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read %s response: %w", method, err)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%s: invalid JSON response", method)
	}
	return gjson.ParseBytes(raw), nil
}
