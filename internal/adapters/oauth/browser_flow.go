package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bnema/gemini-pool/internal/domain"
	"golang.org/x/oauth2"
)

const callbackPath = "/oauth2callback"

var (
	ErrStateMismatch   = errors.New("oauth callback state mismatch")
	ErrCallbackTimeout = errors.New("timed out waiting for oauth callback")
	ErrMissingState    = errors.New("expected state is required")
	ErrIncompleteToken = errors.New("token response is missing a refresh token")
)

func NewState() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// AuthorizationURL builds the consent URL for an offline, PKCE-protected
// authorization code grant.
func AuthorizationURL(config *oauth2.Config, redirectURI, state, verifier string) string {
	cfg := *config
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)
}

// Exchange trades the authorization code for a token pair. The response
// must carry a refresh token, otherwise the account could not be kept
// alive by the pool.
func Exchange(ctx context.Context, config *oauth2.Config, client *http.Client, redirectURI, code, verifier string) (domain.TokenPair, error) {
	if code == "" {
		return domain.TokenPair{}, errors.New("authorization code is required")
	}
	if client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	}

	cfg := *config
	cfg.RedirectURL = redirectURI

	token, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("exchange code for tokens: %w", err)
	}
	if token.AccessToken == "" || token.RefreshToken == "" {
		return domain.TokenPair{}, ErrIncompleteToken
	}

	return toTokenPair(token), nil
}

// CallbackServer receives the authorization redirect on a loopback port.
type CallbackServer struct {
	expectedState string
	listener      net.Listener
	server        *http.Server
	resultCh      chan callbackResult
	resultOnce    sync.Once
	closeOnce     sync.Once
}

type callbackResult struct {
	code string
	err  error
}

func StartCallbackServer(listenAddr string, expectedState string) (*CallbackServer, error) {
	if expectedState == "" {
		return nil, ErrMissingState
	}
	if listenAddr == "" {
		listenAddr = "127.0.0.1:0"
	}

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen callback server on %s: %w", listenAddr, err)
	}

	cb := &CallbackServer{
		expectedState: expectedState,
		listener:      listener,
		resultCh:      make(chan callbackResult, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, cb.handleCallback)

	cb.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if serveErr := cb.server.Serve(cb.listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			cb.trySendResult(callbackResult{err: serveErr})
		}
	}()

	return cb, nil
}

func (c *CallbackServer) RedirectURI() string {
	if tcpAddr, ok := c.listener.Addr().(*net.TCPAddr); ok {
		return fmt.Sprintf("http://localhost:%d%s", tcpAddr.Port, callbackPath)
	}
	return "http://localhost" + callbackPath
}

// WaitForCode blocks until the browser delivers the code, the timeout
// elapses or ctx is done. The server is closed on return.
func (c *CallbackServer) WaitForCode(ctx context.Context, timeout time.Duration) (string, error) {
	defer func() { _ = c.Close() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-c.resultCh:
		return result.code, result.err
	case <-timer.C:
		return "", ErrCallbackTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *CallbackServer) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		closeErr = c.server.Close()
	})
	return closeErr
}

func (c *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if query.Get("state") != c.expectedState {
		c.trySendResult(callbackResult{err: ErrStateMismatch})
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}
	if oauthError := query.Get("error"); oauthError != "" {
		if description := query.Get("error_description"); description != "" {
			oauthError = oauthError + ": " + description
		}
		c.trySendResult(callbackResult{err: errors.New(oauthError)})
		http.Error(w, "oauth error", http.StatusBadRequest)
		return
	}
	code := query.Get("code")
	if code == "" {
		c.trySendResult(callbackResult{err: errors.New("missing authorization code")})
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	c.trySendResult(callbackResult{code: code})
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Authentication successful! You can close this window."))
}

func (c *CallbackServer) trySendResult(result callbackResult) {
	c.resultOnce.Do(func() {
		c.resultCh <- result
	})
}
