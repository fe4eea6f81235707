package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bnema/gemini-pool/internal/domain"
	log "github.com/sirupsen/logrus"
)

type unfreezeRequest struct {
	Account string `json:"account"`
}

type accountsResponse struct {
	Accounts []domain.AccountStatus `json:"accounts"`
}

func (s *Server) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	var req unfreezeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil && err != io.EOF {
		log.WithError(err).Debug("decode unfreeze request")
	}

	account := strings.TrimSpace(req.Account)
	if account == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Missing required field: account"})
		return
	}

	if !s.pool.Unfreeze(account) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("Account '%s' not found.", account)})
		return
	}

	log.WithField("account", account).Info("account unfrozen")
	writeJSON(w, http.StatusOK, messageBody{Message: fmt.Sprintf("Account '%s' has been unfrozen.", account)})
}

func (s *Server) handleAccounts(w http.ResponseWriter, _ *http.Request) {
	statuses := s.pool.Statuses()
	if statuses == nil {
		statuses = []domain.AccountStatus{}
	}
	writeJSON(w, http.StatusOK, accountsResponse{Accounts: statuses})
}
