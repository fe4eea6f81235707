package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/gemini-pool/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRejectsInvalidIDs(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	testCases := []struct {
		name    string
		id      domain.AccountID
		wantErr string
	}{
		{name: "empty", id: "", wantErr: "credential id is empty"},
		{name: "whitespace", id: "   ", wantErr: "credential id is empty"},
		{name: "absolute", id: "/absolute/path.json", wantErr: "invalid credential id"},
		{name: "traversal", id: "../escape.json", wantErr: "invalid credential id"},
		{name: "nested", id: "nested/acc.json", wantErr: "invalid credential id"},
		{name: "hidden", id: ".hidden.json", wantErr: "invalid credential id"},
		{name: "extension", id: "acc.toml", wantErr: "want a .json file name"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := store.Save(context.Background(), domain.CredentialRecord{ID: tc.id})
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestStoreSaveListRoundTripAndPermissions(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "accounts")
	store := NewStore(root)
	expiry := time.UnixMilli(1767225600000).UTC()

	want := domain.CredentialRecord{
		ID:        "alice.json",
		ProjectID: "proj-alice",
		Token: domain.TokenPair{
			AccessToken:  "ya29.access",
			RefreshToken: "1//refresh",
			TokenType:    "Bearer",
			Expiry:       expiry,
		},
	}
	require.NoError(t, store.Save(context.Background(), want))

	records, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, want, records[0])

	got, err := store.Get(context.Background(), "alice.json")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	info, err := os.Stat(filepath.Join(root, "alice.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(recordFileMode), info.Mode().Perm())

	dirInfo, err := os.Stat(root)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(storeDirMode), dirInfo.Mode().Perm())

	leftovers, err := filepath.Glob(filepath.Join(root, ".credential-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestStoreReadsExistingRecordFormat(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "bob.json"), []byte(`{
  "projectId": "proj-bob",
  "credentials": {
    "access_token": "ya29.bob",
    "refresh_token": "1//bob",
    "token_type": "Bearer",
    "expiry_date": 1767225600000
  }
}`), 0o600))

	records, err := NewStore(root).List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, domain.AccountID("bob.json"), record.ID)
	assert.Equal(t, "proj-bob", record.ProjectID)
	assert.Equal(t, "ya29.bob", record.Token.AccessToken)
	assert.Equal(t, int64(1767225600000), record.Token.Expiry.UnixMilli())
}

func TestStoreListSkipsMalformedRecords(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	files := map[string]string{
		"good.json":      `{"credentials":{"refresh_token":"r"}}`,
		"broken.json":    `{"credentials":`,
		"empty.json":     `{"projectId":"p"}`,
		"no-tokens.json": `{"credentials":{"token_type":"Bearer"}}`,
		"notes.txt":      `not a record`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir.json"), 0o700))

	records, err := NewStore(root).List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.AccountID("good.json"), records[0].ID)
	assert.True(t, records[0].Token.Expiry.IsZero())
	assert.Empty(t, records[0].ProjectID)
}

func TestStoreListMissingDirectoryIsEmpty(t *testing.T) {
	t.Parallel()

	records, err := NewStore(filepath.Join(t.TempDir(), "missing")).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStoreGetMissingRecord(t *testing.T) {
	t.Parallel()

	_, err := NewStore(t.TempDir()).Get(context.Background(), "nobody.json")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestStoreHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewStore(t.TempDir())
	_, err := store.List(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, store.Save(ctx, domain.CredentialRecord{ID: "a.json"}), context.Canceled)
}

func TestFileName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, domain.AccountID("proj-1.json"), FileName("proj-1"))
	assert.Equal(t, domain.AccountID("alice@example.com.json"), FileName(" alice@example.com "))
	assert.Equal(t, domain.AccountID("a_b.json"), FileName("a/b"))
	assert.Equal(t, domain.AccountID("account.json"), FileName(".."))
}
