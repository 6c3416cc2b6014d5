package config

import "crypto/tls"

// GetClientTLSConfig returns TLS config for wss connections to the relay
func GetClientTLSConfig(serverName string) *tls.Config {
	return &tls.Config{
		ServerName:         serverName,
		MinVersion:         tls.VersionTLS12,
		ClientSessionCache: tls.NewLRUClientSessionCache(0),
	}
}

// GetClientTLSConfigInsecure returns TLS config for client with InsecureSkipVerify
// WARNING: Only use for testing!
func GetClientTLSConfigInsecure() *tls.Config {
	cfg := GetClientTLSConfig("")
	cfg.InsecureSkipVerify = true
	return cfg
}
