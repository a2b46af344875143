/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package config loads service configuration from YAML/JSON files and environment variables.
//
// Every configuration section implements Config: defaults are registered in the DataProvider first,
// then each section reads and validates its own keys. Sections that implement KeyPrefixProvider
// see their keys relative to the prefix (e.g. "server.address" is read as "address").
package config

// Config is a common interface for configuration objects that may be used by Loader.
type Config interface {
	SetProviderDefaults(dp DataProvider)
	Set(dp DataProvider) error
}

// KeyPrefixProvider is an interface for providing key prefix that will be used for configuration parameters.
type KeyPrefixProvider interface {
	KeyPrefix() string
}

func dataProviderForConfig(dp DataProvider, cfg Config) DataProvider {
	if kp, ok := cfg.(KeyPrefixProvider); ok && kp.KeyPrefix() != "" {
		return NewKeyPrefixedDataProvider(dp, kp.KeyPrefix())
	}
	return dp
}
