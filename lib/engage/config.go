package engage

import (
	"fmt"
	"strings"
)

// LogLevel controls SDK log verbosity.
type LogLevel uint8

const (
	LogLevelDefault LogLevel = iota
	LogLevelVerbose
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelVerbose:
		return "verbose"
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	default:
		return "default"
	}
}

// ParseLogLevel maps a level name to a LogLevel. Matching ignores case and
// accepts "warning" as an alias of "warn".
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return LogLevelDefault, nil
	case "verbose":
		return LogLevelVerbose, nil
	case "debug":
		return LogLevelDebug, nil
	case "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelDefault, fmt.Errorf("unknown log level %q", s)
	}
}

// PushProvider is a push notification integration the SDK can deliver through.
type PushProvider uint8

const (
	PushProviderApptentive PushProvider = iota + 1
	PushProviderAmazonSNS
	PushProviderParse
	PushProviderUrbanAirship
)

func (p PushProvider) String() string {
	switch p {
	case PushProviderApptentive:
		return "apptentive"
	case PushProviderAmazonSNS:
		return "amazon_sns"
	case PushProviderParse:
		return "parse"
	case PushProviderUrbanAirship:
		return "urban_airship"
	default:
		return "unknown"
	}
}

// ParsePushProvider maps a provider name to a PushProvider.
func ParsePushProvider(s string) (PushProvider, error) {
	switch s {
	case "apptentive":
		return PushProviderApptentive, nil
	case "amazon_sns":
		return PushProviderAmazonSNS, nil
	case "parse":
		return PushProviderParse, nil
	case "urban_airship":
		return PushProviderUrbanAirship, nil
	default:
		return 0, fmt.Errorf("unknown push provider %q", s)
	}
}

// Configuration is what the SDK is registered with. Zero values mean the SDK
// default; the pointer fields distinguish "not set" from false.
type Configuration struct {
	APIKey       string
	APISignature string

	LogLevel                  LogLevel
	ShouldCollectDeviceData   *bool
	ShouldSanitizeLogMessages *bool
	ShouldEncryptStorage      *bool
	TroubleshootingMode       *bool

	DistributionName    string
	DistributionVersion string

	// RatingInteractionThrottleSeconds is zero when unset.
	RatingInteractionThrottleSeconds int64
	CustomAppStoreURL                string
}

// Validate reports whether the required credentials are present.
func (c Configuration) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api key is required")
	}
	if c.APISignature == "" {
		return fmt.Errorf("api signature is required")
	}
	return nil
}

// BoolOr returns *b, or def when b is nil.
func BoolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
