// Ratchet is a retention and compliance-lock engine for backup copies.
//
// It keeps the retention policy of every copy, enforces that a locked
// copy's retention can only grow, refuses deletions that would cut a
// retention window short, and ages out expired jobs on a schedule. Every
// decision is written to an append-only audit log.
//
// Usage:
//
//	# Serve the admin API and run the aging scheduler
//	ratchet run --config /etc/ratchet/config.yaml
//
//	# Create a copy and lock it
//	ratchet copy create c1 --plan nightly --days 30
//	ratchet copy lock c1
//
//	# Extend retention (reductions are refused once locked)
//	ratchet copy retention c1 --days 45
//
//	# See what the next aging sweep would delete
//	ratchet aging preview
//
//	# Export the audit trail
//	ratchet audit query --copy c1 --format csv
package main

func main() {
	Execute()
}
