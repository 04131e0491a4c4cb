// Package tls serves the admin API over HTTPS.
//
// CertificateReloader keeps the serving certificate in memory and re-reads
// the PEM files when their modification time changes, so a renewed
// certificate is picked up without a restart. Its Ping reports an expired
// or not-yet-valid certificate to the readiness probe.
//
//	certs := tls.NewCertificateReloader(cfg.CertFile, cfg.KeyFile, cfg.ReloadInterval)
//	if err := certs.Load(); err != nil {
//		return err
//	}
//	go certs.Run(ctx)
//	ln = cryptotls.NewListener(ln, tls.NewServerConfig(certs, cfg.MinVersion))
package tls
