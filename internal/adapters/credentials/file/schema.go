package file

import (
	"time"

	"github.com/bnema/gemini-pool/internal/domain"
)

type recordSchema struct {
	ProjectID   string             `json:"projectId,omitempty"`
	Credentials *credentialsSchema `json:"credentials"`
}

// credentialsSchema mirrors the OAuth token layout of the record files;
// expiry_date is in epoch milliseconds.
type credentialsSchema struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiryDate   int64  `json:"expiry_date"`
}

func toSchema(record domain.CredentialRecord) recordSchema {
	var expiry int64
	if !record.Token.Expiry.IsZero() {
		expiry = record.Token.Expiry.UnixMilli()
	}

	return recordSchema{
		ProjectID: record.ProjectID,
		Credentials: &credentialsSchema{
			AccessToken:  record.Token.AccessToken,
			RefreshToken: record.Token.RefreshToken,
			TokenType:    record.Token.TokenType,
			ExpiryDate:   expiry,
		},
	}
}

func fromSchema(id domain.AccountID, schema recordSchema) domain.CredentialRecord {
	var expiry time.Time
	if schema.Credentials.ExpiryDate > 0 {
		expiry = time.UnixMilli(schema.Credentials.ExpiryDate).UTC()
	}

	return domain.CredentialRecord{
		ID:        id,
		ProjectID: schema.ProjectID,
		Token: domain.TokenPair{
			AccessToken:  schema.Credentials.AccessToken,
			RefreshToken: schema.Credentials.RefreshToken,
			TokenType:    schema.Credentials.TokenType,
			Expiry:       expiry,
		},
	}
}
