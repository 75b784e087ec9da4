package base_test

import (
	"os/user"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/conflux/pkg/config"
	"github.com/ajitpratap0/conflux/pkg/service/core"
	"github.com/ajitpratap0/conflux/pkg/testutil"
)

func TestCredentialValues(t *testing.T) {
	cfg := config.NewServiceConfig("fake")
	cfg.Host = "db.test"
	cfg.Port = 5432
	cfg.Username = "alice"
	cfg.Password = "secret"
	conn, _ := testutil.NewFakeConnector("testdb", core.KindDatabase, cfg)

	username, err := conn.Username()
	require.NoError(t, err)
	password, err := conn.Password()
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
	assert.Equal(t, "secret", password)
}

func TestCredentialPromptOncePerLifetime(t *testing.T) {
	cfg := config.NewServiceConfig("fake")
	cfg.Host = "db.test"
	cfg.Port = 5432
	cfg.Username = true
	cfg.Password = true
	conn, _ := testutil.NewFakeConnector("testdb", core.KindDatabase, cfg)

	prompter := &testutil.CountingPrompter{Answers: map[string]string{
		"username for testdb": "bob",
		"password for testdb": "hunter2",
	}}
	conn.SetPrompter(prompter.Prompt)

	for i := 0; i < 3; i++ {
		username, err := conn.Username()
		require.NoError(t, err)
		assert.Equal(t, "bob", username)
	}
	password, err := conn.Password()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", password)

	assert.Len(t, prompter.Calls, 2, "each credential prompts exactly once")
}

func TestPromptedCredentialSurvivesReset(t *testing.T) {
	cfg := config.NewServiceConfig("fake")
	cfg.Host = "db.test"
	cfg.Port = 5432
	cfg.Password = true
	conn, _ := testutil.NewFakeConnector("testdb", core.KindDatabase, cfg)

	prompter := &testutil.CountingPrompter{Answers: map[string]string{
		"password for testdb": "hunter2",
	}}
	conn.SetPrompter(prompter.Prompt)

	_, err := conn.Password()
	require.NoError(t, err)
	require.NoError(t, conn.Reset())

	password, err := conn.Password()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", password)
	assert.Len(t, prompter.Calls, 1, "reset must not re-prompt")
}

func TestCredentialMutationDropsPromptedValue(t *testing.T) {
	cfg := config.NewServiceConfig("fake")
	cfg.Host = "db.test"
	cfg.Port = 5432
	cfg.Username = true
	conn, _ := testutil.NewFakeConnector("testdb", core.KindDatabase, cfg)

	prompter := &testutil.CountingPrompter{Answers: map[string]string{
		"username for testdb": "bob",
	}}
	conn.SetPrompter(prompter.Prompt)

	_, err := conn.Username()
	require.NoError(t, err)

	conn.SetUsername("carol")
	username, err := conn.Username()
	require.NoError(t, err)
	assert.Equal(t, "carol", username)
	assert.Len(t, prompter.Calls, 1)
}

func TestSuppressedCredentialsResolveEmpty(t *testing.T) {
	cfg := config.NewServiceConfig("fake")
	cfg.Host = "db.test"
	cfg.Port = 5432
	cfg.Username = false
	cfg.Password = false
	conn, _ := testutil.NewFakeConnector("testdb", core.KindDatabase, cfg)

	username, err := conn.Username()
	require.NoError(t, err)
	password, err := conn.Password()
	require.NoError(t, err)
	assert.Empty(t, username)
	assert.Empty(t, password)
}

func TestUnsetUsernameFallsBackToOSLogin(t *testing.T) {
	cfg := config.NewServiceConfig("fake")
	cfg.Host = "db.test"
	cfg.Port = 5432
	conn, _ := testutil.NewFakeConnector("testdb", core.KindDatabase, cfg)

	current, err := user.Current()
	require.NoError(t, err)

	username, err := conn.Username()
	require.NoError(t, err)
	assert.Equal(t, current.Username, username)
}
