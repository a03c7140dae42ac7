// Package studio defines the Studio resource, the credentials callers forward
// to the provisioning backend, and the Service that runs start and stop
// against a Provisioner while reporting lifecycle events. The service keeps
// no state between calls; every studio lives on the backend.
package studio
