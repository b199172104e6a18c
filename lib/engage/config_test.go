package engage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"":        LogLevelDefault,
		"default": LogLevelDefault,
		"VERBOSE": LogLevelVerbose,
		"debug":   LogLevelDebug,
		"Info":    LogLevelInfo,
		"warning": LogLevelWarn,
		"warn":    LogLevelWarn,
		"error":   LogLevelError,
	}
	for in, want := range tests {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLogLevel("loud")
	assert.Error(t, err)
}

func TestPushProviderNames(t *testing.T) {
	for _, p := range []PushProvider{PushProviderApptentive, PushProviderAmazonSNS, PushProviderParse, PushProviderUrbanAirship} {
		parsed, err := ParsePushProvider(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}

	_, err := ParsePushProvider("Apptentive")
	assert.Error(t, err, "provider names are case sensitive")
	assert.Equal(t, "unknown", PushProvider(0).String())
}

func TestConfigurationValidate(t *testing.T) {
	assert.ErrorContains(t, Configuration{APISignature: "s"}.Validate(), "api key")
	assert.ErrorContains(t, Configuration{APIKey: "k"}.Validate(), "api signature")
	assert.NoError(t, Configuration{APIKey: "k", APISignature: "s"}.Validate())
}

func TestBoolOr(t *testing.T) {
	yes, no := true, false
	assert.True(t, BoolOr(nil, true))
	assert.False(t, BoolOr(nil, false))
	assert.True(t, BoolOr(&yes, false))
	assert.False(t, BoolOr(&no, true))
}
