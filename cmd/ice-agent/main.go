// Command ice-agent drives an ICE (RFC 5245) connectivity check session
// for manual and interop testing against a peer agent.
package main

func main() {
	Execute()
}
