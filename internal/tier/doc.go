// Package tier is the protocol engine shared by every level of the mesh.
//
// A coordinator, a server, and a node all run the same Service. The Role
// decides the differences: whether registrations are accepted, whether
// identity tokens are issued, whether registering peers get a fresh cluster
// id, and whether the service must register with an upstream before it is
// useful.
//
// Lifecycle:
//   - Run binds listen_addr and serves until ctx is cancelled.
//   - Every accepted connection carries exactly one request and one response.
//   - A sweep loop expires idle peers, probing critical ones first.
//   - A Client keeps this service registered with its upstream.
package tier
