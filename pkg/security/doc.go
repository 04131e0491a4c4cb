// Package security holds the admin API's transport and caller
// authentication. Subpackage auth maps API keys to named principals and
// tls serves the API over HTTPS with certificates reloaded from disk.
// Subpackage secrets resolves ${secret:name} references so keys and tokens
// can live outside the configuration file.
package security
