package bridge

import (
	"fmt"

	"github.com/snowmerak/engage.go/lib/args"
	"github.com/snowmerak/engage.go/lib/engage"
)

// Argument keys accepted by register.
const (
	keyAPIKey                = "api_key"
	keyAPISignature          = "api_signature"
	keyLogLevel              = "log_level"
	keyCollectDeviceData     = "should_collect_device_data"
	keySanitizeLogMessages   = "should_sanitize_log_messages"
	keyEncryptStorage        = "should_encrypt_storage"
	keyTroubleshootingMode   = "troubleshooting_mode_enabled"
	keyDistributionName      = "distribution_name"
	keyDistributionVersion   = "distribution_version"
	keyRatingThrottleSeconds = "rating_interaction_throttle_length"
	keyCustomAppStoreURL     = "custom_app_store_url"
)

// unpackConfiguration builds the SDK configuration from a register bag.
// Optional keys that are missing keep the SDK default.
func unpackConfiguration(a args.Args) (engage.Configuration, error) {
	var cfg engage.Configuration
	var err error

	if cfg.APIKey, err = requireString(a, keyAPIKey); err != nil {
		return cfg, err
	}
	if cfg.APISignature, err = requireString(a, keyAPISignature); err != nil {
		return cfg, err
	}

	level, err := optionalString(a, keyLogLevel)
	if err != nil {
		return cfg, err
	}
	if cfg.LogLevel, err = engage.ParseLogLevel(level); err != nil {
		return cfg, argumentError(keyLogLevel, err)
	}

	if cfg.ShouldCollectDeviceData, err = optionalBool(a, keyCollectDeviceData); err != nil {
		return cfg, err
	}
	if cfg.ShouldSanitizeLogMessages, err = optionalBool(a, keySanitizeLogMessages); err != nil {
		return cfg, err
	}
	if cfg.ShouldEncryptStorage, err = optionalBool(a, keyEncryptStorage); err != nil {
		return cfg, err
	}
	if cfg.TroubleshootingMode, err = optionalBool(a, keyTroubleshootingMode); err != nil {
		return cfg, err
	}

	if cfg.DistributionName, err = optionalString(a, keyDistributionName); err != nil {
		return cfg, err
	}
	if cfg.DistributionVersion, err = optionalString(a, keyDistributionVersion); err != nil {
		return cfg, err
	}

	throttle, _, err := a.Int(keyRatingThrottleSeconds)
	if err != nil {
		return cfg, argumentError(keyRatingThrottleSeconds, err)
	}
	if throttle < 0 {
		return cfg, argumentError(keyRatingThrottleSeconds, fmt.Errorf("must not be negative, got %d", throttle))
	}
	cfg.RatingInteractionThrottleSeconds = throttle

	if cfg.CustomAppStoreURL, err = optionalString(a, keyCustomAppStoreURL); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func requireString(a args.Args, key string) (string, error) {
	s, ok, err := a.String(key)
	if err != nil {
		return "", argumentError(key, err)
	}
	if !ok || s == "" {
		return "", argumentError(key, ErrMissingArgument)
	}
	return s, nil
}

func optionalString(a args.Args, key string) (string, error) {
	s, _, err := a.String(key)
	if err != nil {
		return "", argumentError(key, err)
	}
	return s, nil
}

func optionalBool(a args.Args, key string) (*bool, error) {
	b, ok, err := a.Bool(key)
	if err != nil {
		return nil, argumentError(key, err)
	}
	if !ok {
		return nil, nil
	}
	return &b, nil
}

// customData returns the scalar map under key as plain values. Null entries
// are dropped; nested maps and lists are rejected.
func customData(a args.Args, key string) (map[string]any, error) {
	values, ok, err := a.ScalarMap(key)
	if err != nil {
		return nil, argumentError(key, err)
	}
	if !ok {
		return nil, nil
	}
	return plainValues(values), nil
}

// bagCustomData reads the whole argument bag as custom data, for hosts that
// send message center data without a custom_data wrapper.
func bagCustomData(a args.Args) (map[string]any, error) {
	keys := a.Keys()
	if len(keys) == 0 {
		return nil, nil
	}
	values := make(map[string]args.Scalar, len(keys))
	for _, k := range keys {
		s, err := a.Scalar(k)
		if err != nil {
			return nil, argumentError(k, err)
		}
		values[k] = s
	}
	return plainValues(values), nil
}

func plainValues(values map[string]args.Scalar) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if v.Kind() == args.KindAbsent {
			continue
		}
		out[k] = v.Interface()
	}
	return out
}

func scalar(a args.Args, key string) (args.Scalar, error) {
	s, err := a.Scalar(key)
	if err != nil {
		return args.Scalar{}, argumentError(key, err)
	}
	return s, nil
}
